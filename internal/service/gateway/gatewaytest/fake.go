// Package gatewaytest шлюз в памяти для тестов.
package gatewaytest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
)

// Fake хранит принятые записи в памяти и умеет имитировать отказы.
type Fake struct {
	mu         sync.Mutex
	records    []model.AttendanceRecord
	calls      []string
	offline    bool
	lookupDown bool
	failIDs    map[string]bool
	nextCode   int

	// BeforeAppend вызывается перед приемом записи (без блокировки)
	BeforeAppend func(rec model.AttendanceRecord)
}

func New(seed ...model.AttendanceRecord) *Fake {
	return &Fake{records: append([]model.AttendanceRecord(nil), seed...), failIDs: map[string]bool{}}
}

// SetOffline включает отказ всех вызовов
func (f *Fake) SetOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

// SetLookupDown включает отказ только поиска
func (f *Fake) SetLookupDown(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupDown = v
}

// FailID заставляет отклонять запись с указанным id
func (f *Fake) FailID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failIDs[id] = true
}

func (f *Fake) Append(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if f.BeforeAppend != nil {
		f.BeforeAppend(rec)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rec.ID)
	if f.offline || f.failIDs[rec.ID] {
		return rec, fmt.Errorf("%w: fake offline", domain.ErrGatewayUnavailable)
	}
	f.nextCode++
	rec.UniqueCode = fmt.Sprintf("CODE%d", f.nextCode)
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *Fake) Lookup(ctx context.Context, q domain.LookupQuery) ([]model.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline || f.lookupDown {
		return nil, fmt.Errorf("%w: fake offline", domain.ErrGatewayUnavailable)
	}
	out := make([]model.AttendanceRecord, 0)
	for _, r := range f.records {
		if q.Email != "" && !strings.EqualFold(r.Email, q.Email) {
			continue
		}
		if q.Phone != "" && r.Phone != q.Phone {
			continue
		}
		if q.EventID != "" && r.EventID != q.EventID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return domain.ErrGatewayUnavailable
	}
	return nil
}

// Records принятые записи
func (f *Fake) Records() []model.AttendanceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AttendanceRecord(nil), f.records...)
}

// AppendCalls id записей во всех попытках Append
func (f *Fake) AppendCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
