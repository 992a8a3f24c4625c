package domain

import (
	"context"
	"errors"

	"attendance_bot/internal/model"
)

var (
	// ErrGatewayUnavailable удаленный шлюз недоступен или ответил ошибкой
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	// ErrLookupCriteria не передан ни email, ни телефон
	ErrLookupCriteria = errors.New("email or phone required for lookup")
	// ErrInvalidRecord у записи нет мероприятия или телефона
	ErrInvalidRecord = errors.New("eventId and phone required")
	ErrNotFound      = errors.New("not found")
)

// LookupQuery условия поиска, объединяются через И. Пустые поля не участвуют.
type LookupQuery struct {
	Email   string
	Phone   string
	EventID string
}

// Gateway удаленный шлюз отметок.
type Gateway interface {
	// Создание записи. Ответ может содержать uniqueCode
	Append(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error)

	// Поиск предыдущих записей
	Lookup(ctx context.Context, q LookupQuery) ([]model.AttendanceRecord, error)

	// Проверка доступности
	Ping(ctx context.Context) error
}

// RecordSheet хранилище записей на стороне ретранслятора (таблица).
type RecordSheet interface {
	AppendRecord(ctx context.Context, rec model.AttendanceRecord) error
	FindRecords(ctx context.Context, q LookupQuery) ([]model.AttendanceRecord, error)
	Ping(ctx context.Context) error
}
