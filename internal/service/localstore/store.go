package localstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
	"attendance_bot/pkg/masker"
)

const (
	DefaultPrefix = "attendance"
	profilePrefix = "user_profile:"
	queueSuffix   = ":queue"
)

// Store локальное постоянное хранилище устройства: профили по телефону
// и очереди неотправленных отметок по мероприятиям.
// Битые значения считаются отсутствующими и только логируются.
type Store struct {
	kv     domain.KV
	prefix string
	logger *zap.Logger
}

func New(kv domain.KV, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{kv: kv, prefix: prefix, logger: logger}
}

func (s *Store) queueKey(eventID string) string {
	return s.prefix + ":" + eventID + queueSuffix
}

func profileKey(phone string) string {
	return profilePrefix + phone
}

// GetProfile возвращает кешированный профиль по телефону
func (s *Store) GetProfile(ctx context.Context, phone string) (*model.UserProfile, bool) {
	var p model.UserProfile
	if !s.read(ctx, profileKey(phone), &p) {
		return nil, false
	}
	return &p, true
}

// SaveProfile записывает профиль, если он не старше сохраненного.
// Возвращает false, если сохраненный профиль новее и запись пропущена.
func (s *Store) SaveProfile(ctx context.Context, phone string, p model.UserProfile) (bool, error) {
	saved := false
	err := s.kv.Update(ctx, profileKey(phone), func(old []byte, ok bool) ([]byte, error) {
		if ok {
			var current model.UserProfile
			if err := json.Unmarshal(old, &current); err == nil && !p.Newer(current) {
				return old, nil
			}
		}
		saved = true
		return json.Marshal(p)
	})
	if err != nil {
		return false, err
	}
	if !saved {
		s.logger.Debug("stale profile ignored", zap.String("phone", masker.Phone(phone)), zap.String("last_seen_at", p.LastSeenAt))
	}
	return saved, nil
}

// GetQueue возвращает очередь мероприятия в порядке добавления
func (s *Store) GetQueue(ctx context.Context, eventID string) []model.AttendanceRecord {
	var q []model.AttendanceRecord
	if !s.read(ctx, s.queueKey(eventID), &q) {
		return []model.AttendanceRecord{}
	}
	return q
}

// Enqueue добавляет запись в конец очереди. Если у записи нет id, он создается.
func (s *Store) Enqueue(ctx context.Context, eventID string, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := s.kv.Update(ctx, s.queueKey(eventID), func(old []byte, ok bool) ([]byte, error) {
		q := s.decodeQueue(eventID, old, ok)
		return json.Marshal(append(q, rec))
	})
	return rec, err
}

// RemoveDelivered убирает из текущей очереди записи с указанными id.
// Записи, добавленные после чтения очереди отправителем, сохраняются.
func (s *Store) RemoveDelivered(ctx context.Context, eventID string, ids []string) ([]model.AttendanceRecord, error) {
	delivered := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		delivered[id] = struct{}{}
	}
	remaining := make([]model.AttendanceRecord, 0)
	err := s.kv.Update(ctx, s.queueKey(eventID), func(old []byte, ok bool) ([]byte, error) {
		remaining = remaining[:0]
		for _, r := range s.decodeQueue(eventID, old, ok) {
			if _, done := delivered[r.ID]; !done {
				remaining = append(remaining, r)
			}
		}
		return json.Marshal(remaining)
	})
	return remaining, err
}

// QueueEvents перечисляет мероприятия, для которых есть ключ очереди
func (s *Store) QueueEvents(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, s.prefix+":")
	if err != nil {
		return nil, err
	}
	events := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, queueSuffix) {
			continue
		}
		eventID := strings.TrimSuffix(strings.TrimPrefix(k, s.prefix+":"), queueSuffix)
		if eventID != "" {
			events = append(events, eventID)
		}
	}
	return events, nil
}

func (s *Store) read(ctx context.Context, key string, dst interface{}) bool {
	b, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("local store read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		s.logger.Warn("malformed local store value ignored", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// decodeQueue при битом значении начинает очередь заново
func (s *Store) decodeQueue(eventID string, b []byte, ok bool) []model.AttendanceRecord {
	if !ok {
		return nil
	}
	var q []model.AttendanceRecord
	if err := json.Unmarshal(b, &q); err != nil {
		s.logger.Warn("malformed queue replaced", zap.String("event_id", eventID), zap.Error(err))
		return nil
	}
	return q
}
