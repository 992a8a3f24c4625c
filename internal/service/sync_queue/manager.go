package sync_queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
	"attendance_bot/pkg/masker"
)

// QueueStore часть локального хранилища, нужная для отправки очередей
type QueueStore interface {
	GetQueue(ctx context.Context, eventID string) []model.AttendanceRecord
	RemoveDelivered(ctx context.Context, eventID string, ids []string) ([]model.AttendanceRecord, error)
	QueueEvents(ctx context.Context) ([]string, error)
	SaveProfile(ctx context.Context, phone string, p model.UserProfile) (bool, error)
}

// pass итог одного прохода по очереди
type pass struct {
	delivered []model.AttendanceRecord
	attempted map[string]bool
}

// Stats счетчики попыток доставки
type Stats struct {
	Delivered uint64
	Failed    uint64
}

// Manager отправляет очереди в шлюз. Запись удаляется из очереди только
// после успешного ответа на попытку ее отправки.
type Manager struct {
	logger  *zap.Logger
	store   QueueStore
	gateway domain.Gateway

	// 0 - без ограничения, кроме таймаутов самого шлюза
	attemptTimeout time.Duration

	// одна отправка очереди мероприятия за раз, параллельные вызовы ждут ее результат
	flights   singleflight.Group
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewManager(store QueueStore, gateway domain.Gateway, logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger,
		store:   store,
		gateway: gateway,
	}
}

// FlushAll отправляет все очереди. Возвращает успешные ответы сервера
// в порядке доставки. Ошибка означает сбой хранилища, а не доставки.
func (m *Manager) FlushAll(ctx context.Context) ([]model.AttendanceRecord, error) {
	events, err := m.store.QueueEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}

	delivered := make([]model.AttendanceRecord, 0)
	var errs []error
	for _, eventID := range events {
		res, err := m.FlushEvent(ctx, eventID)
		delivered = append(delivered, res...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return delivered, errors.Join(errs...)
}

// FlushEvent отправляет очередь одного мероприятия
func (m *Manager) FlushEvent(ctx context.Context, eventID string) ([]model.AttendanceRecord, error) {
	p, _, err := m.join(ctx, eventID)
	return p.delivered, err
}

// FlushRecord как FlushEvent, но запись id обязана попасть хотя бы в один проход.
// Проход, к которому присоединился вызов, мог прочитать очередь до ее постановки.
func (m *Manager) FlushRecord(ctx context.Context, eventID, id string) ([]model.AttendanceRecord, error) {
	p, shared, err := m.join(ctx, eventID)
	if !shared || p.attempted[id] || ctx.Err() != nil {
		return p.delivered, err
	}
	m.logger.Debug("record missed by joined flush, flushing again",
		zap.String("event_id", eventID),
		zap.String("record_id", id),
	)
	next, _, nextErr := m.join(ctx, eventID)
	return append(p.delivered, next.delivered...), errors.Join(err, nextErr)
}

// join запускает проход по очереди или ждет уже идущий
func (m *Manager) join(ctx context.Context, eventID string) (pass, bool, error) {
	ch := m.flights.DoChan(eventID, func() (interface{}, error) {
		// проход общий, отмена первого вызова не должна обрывать его для остальных
		return m.flushEvent(context.WithoutCancel(ctx), eventID)
	})
	select {
	case res := <-ch:
		if res.Shared {
			m.logger.Debug("joined in-flight flush", zap.String("event_id", eventID))
		}
		p, _ := res.Val.(pass)
		return p, res.Shared, res.Err
	case <-ctx.Done():
		return pass{}, false, ctx.Err()
	}
}

// WithAttemptTimeout ограничивает время одной попытки доставки
func (m *Manager) WithAttemptTimeout(d time.Duration) *Manager {
	m.attemptTimeout = d
	return m
}

func (m *Manager) Stats() Stats {
	return Stats{Delivered: m.delivered.Load(), Failed: m.failed.Load()}
}

func (m *Manager) flushEvent(ctx context.Context, eventID string) (pass, error) {
	queue := m.store.GetQueue(ctx, eventID)
	if len(queue) == 0 {
		return pass{}, nil
	}

	p := pass{
		delivered: make([]model.AttendanceRecord, 0, len(queue)),
		attempted: make(map[string]bool, len(queue)),
	}
	ids := make([]string, 0, len(queue))
	for _, rec := range queue {
		p.attempted[rec.ID] = true
		resp, err := m.deliver(ctx, rec)
		if err != nil {
			m.failed.Add(1)
			m.logger.Warn("delivery failed, record stays queued",
				zap.String("event_id", eventID),
				zap.String("record_id", rec.ID),
				zap.String("phone", masker.Phone(rec.Phone)),
				zap.Error(err),
			)
			continue
		}
		m.delivered.Add(1)
		merged := model.MergeResponse(rec, resp)
		p.delivered = append(p.delivered, merged)
		ids = append(ids, rec.ID)

		if merged.Phone != "" {
			if _, err := m.store.SaveProfile(ctx, merged.Phone, model.ProfileFromRecord(merged)); err != nil {
				m.logger.Error("error updating cached profile", zap.Error(err), zap.String("phone", masker.Phone(merged.Phone)))
			}
		}
	}

	if len(ids) == 0 {
		return p, nil
	}
	remaining, err := m.store.RemoveDelivered(ctx, eventID, ids)
	if err != nil {
		// доставленные записи останутся в очереди и уйдут повторно,
		// сервер отбрасывает дубли по телефону, мероприятию и дню
		return p, fmt.Errorf("update queue %s: %w", eventID, err)
	}
	m.logger.Info("queue flushed",
		zap.String("event_id", eventID),
		zap.Int("delivered", len(ids)),
		zap.Int("remaining", len(remaining)),
	)
	return p, nil
}

func (m *Manager) deliver(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if m.attemptTimeout <= 0 {
		return m.gateway.Append(ctx, rec)
	}
	ctx, cancel := context.WithTimeout(ctx, m.attemptTimeout)
	defer cancel()
	return m.gateway.Append(ctx, rec)
}
