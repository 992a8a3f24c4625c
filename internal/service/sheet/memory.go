package sheet

import (
	"context"
	"sync"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
)

// MemorySheet таблица в памяти. Используется, когда доступ к Google Sheets
// не настроен, и в тестах.
type MemorySheet struct {
	mu          sync.Mutex
	records     []model.AttendanceRecord
	unavailable bool
}

func NewMemorySheet(seed ...model.AttendanceRecord) *MemorySheet {
	return &MemorySheet{records: append([]model.AttendanceRecord(nil), seed...)}
}

// SetUnavailable имитирует недоступность таблицы
func (m *MemorySheet) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

func (m *MemorySheet) AppendRecord(_ context.Context, rec model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return domain.ErrGatewayUnavailable
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemorySheet) FindRecords(_ context.Context, q domain.LookupQuery) ([]model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, domain.ErrGatewayUnavailable
	}
	out := make([]model.AttendanceRecord, 0)
	for _, r := range m.records {
		if matches(r, q) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemorySheet) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return domain.ErrGatewayUnavailable
	}
	return nil
}

// Len количество строк
func (m *MemorySheet) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
