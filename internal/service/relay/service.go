package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
	"attendance_bot/pkg/masker"
)

// Service принимает отметки и пишет их в таблицу. Повторная отметка того же
// телефона на то же мероприятие в тот же день не создает новую строку.
type Service struct {
	logger *zap.Logger
	sheet  domain.RecordSheet
	node   *snowflake.Node
	hub    *Hub
	now    func() time.Time

	// проверка дубля и запись выполняются под одной блокировкой
	mu sync.Mutex
}

func NewService(sheet domain.RecordSheet, node *snowflake.Node, logger *zap.Logger) *Service {
	return &Service{
		logger: logger,
		sheet:  sheet,
		node:   node,
		hub:    NewHub(),
		now:    time.Now,
	}
}

// WithClock подменяет часы
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Hub() *Hub {
	return s.hub
}

// Create сохраняет отметку. created=false, если вернулась уже существующая запись.
func (s *Service) Create(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, bool, error) {
	rec.EventID = strings.TrimSpace(rec.EventID)
	rec.Phone = strings.TrimSpace(rec.Phone)
	if rec.EventID == "" || rec.Phone == "" {
		return rec, false, domain.ErrInvalidRecord
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SubmittedAt() == "" {
		rec.CreatedAt = model.NowISO(s.now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.sheet.FindRecords(ctx, domain.LookupQuery{Phone: rec.Phone, EventID: rec.EventID})
	if err != nil {
		return rec, false, fmt.Errorf("check duplicate: %w", err)
	}
	day := model.Day(rec.SubmittedAt())
	for _, e := range existing {
		if e.ID == rec.ID || (day != "" && model.Day(e.SubmittedAt()) == day) {
			s.logger.Info("duplicate check-in returned existing record",
				zap.String("event_id", rec.EventID),
				zap.String("phone", masker.Phone(rec.Phone)),
				zap.String("record_id", e.ID),
			)
			return e, false, nil
		}
	}

	rec.UniqueCode = s.node.Generate().Base58()
	if err := s.sheet.AppendRecord(ctx, rec); err != nil {
		return rec, false, err
	}
	s.logger.Info("attendance recorded",
		zap.String("event_id", rec.EventID),
		zap.String("record_id", rec.ID),
		zap.String("phone", masker.Phone(rec.Phone)),
	)
	s.hub.Publish(rec)
	return rec, true, nil
}

// Append реализует domain.Gateway для работы без HTTP
func (s *Service) Append(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	out, _, err := s.Create(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	return out, nil
}

// Lookup публичный поиск, нужен email или телефон
func (s *Service) Lookup(ctx context.Context, q domain.LookupQuery) ([]model.AttendanceRecord, error) {
	if strings.TrimSpace(q.Email) == "" && strings.TrimSpace(q.Phone) == "" {
		return nil, domain.ErrLookupCriteria
	}
	return s.sheet.FindRecords(ctx, q)
}

// History административный поиск, eventID может быть пустым
func (s *Service) History(ctx context.Context, eventID string) ([]model.AttendanceRecord, error) {
	return s.sheet.FindRecords(ctx, domain.LookupQuery{EventID: eventID})
}

func (s *Service) Ping(ctx context.Context) error {
	return s.sheet.Ping(ctx)
}

// Subscribe поток новых записей для администратора
func (s *Service) Subscribe() (<-chan model.AttendanceRecord, func()) {
	return s.hub.Subscribe()
}
