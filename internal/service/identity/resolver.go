package identity

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
	"attendance_bot/pkg/masker"
)

const PrefillNotice = "Form autoprefilled from previous attendance record."

// Source откуда получены данные для автозаполнения
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// ProfileStore часть локального хранилища, нужная резолверу
type ProfileStore interface {
	GetProfile(ctx context.Context, phone string) (*model.UserProfile, bool)
	SaveProfile(ctx context.Context, phone string, p model.UserProfile) (bool, error)
	GetQueue(ctx context.Context, eventID string) []model.AttendanceRecord
	Enqueue(ctx context.Context, eventID string, rec model.AttendanceRecord) (model.AttendanceRecord, error)
}

// Flusher отправка очереди мероприятия с гарантией попытки для записи id
type Flusher interface {
	FlushRecord(ctx context.Context, eventID, id string) ([]model.AttendanceRecord, error)
}

type Prefill struct {
	Profile model.UserProfile
	Source  Source
	Notice  string
}

// PhoneCheck результат проверки телефона
type PhoneCheck struct {
	// уже есть отметка на это мероприятие сегодня, дальше не заполняем
	AlreadyCheckedIn bool
	Existing         *model.AttendanceRecord
	// предложение автозаполнения, применяется только после подтверждения
	Offer *Prefill
}

type QuickStatus int

const (
	QuickNotFound QuickStatus = iota
	QuickAlreadyCheckedIn
	QuickSynced
	QuickQueuedOffline
	// локальное хранилище не приняло отметку
	QuickStoreFailed
)

func (s QuickStatus) String() string {
	switch s {
	case QuickAlreadyCheckedIn:
		return "already_checked_in"
	case QuickSynced:
		return "synced"
	case QuickQueuedOffline:
		return "queued_offline"
	case QuickStoreFailed:
		return "store_failed"
	default:
		return "not_found"
	}
}

type QuickResult struct {
	Status QuickStatus
	Name   string
	Record model.AttendanceRecord
}

// Resolver ищет человека в локальном кеше и через шлюз и решает,
// можно ли принять новую отметку. Ошибки поиска считаются отсутствием совпадений.
type Resolver struct {
	logger  *zap.Logger
	gateway domain.Gateway
	store   ProfileStore
	flusher Flusher
	now     func() time.Time
}

func NewResolver(gateway domain.Gateway, store ProfileStore, flusher Flusher, logger *zap.Logger) *Resolver {
	return &Resolver{
		logger:  logger,
		gateway: gateway,
		store:   store,
		flusher: flusher,
		now:     time.Now,
	}
}

// WithClock подменяет часы
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

func (r *Resolver) Now() time.Time {
	return r.now()
}

// EmailPrefill ищет запись по email в рамках мероприятия и берет первую
func (r *Resolver) EmailPrefill(ctx context.Context, email, eventID string) (*Prefill, bool) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, false
	}
	found := r.lookup(ctx, domain.LookupQuery{Email: email, EventID: eventID})
	if len(found) == 0 {
		return nil, false
	}
	p := model.ProfileFromRecord(found[0])
	r.cacheProfile(ctx, p)
	return &Prefill{Profile: p, Source: SourceRemote, Notice: PrefillNotice}, true
}

// CheckPhone проверяет отметку за сегодня и ищет профиль для предложения
func (r *Resolver) CheckPhone(ctx context.Context, phone, eventID string) PhoneCheck {
	now := r.now()
	scoped := r.lookup(ctx, domain.LookupQuery{Phone: phone, EventID: eventID})
	if existing := sameDay(scoped, phone, eventID, now); existing != nil {
		return PhoneCheck{AlreadyCheckedIn: true, Existing: existing}
	}
	if existing := sameDay(r.store.GetQueue(ctx, eventID), phone, eventID, now); existing != nil {
		return PhoneCheck{AlreadyCheckedIn: true, Existing: existing}
	}

	if rec := latestForPhone(r.lookup(ctx, domain.LookupQuery{Phone: phone}), phone); rec != nil {
		p := model.ProfileFromRecord(*rec)
		r.cacheProfile(ctx, p)
		return PhoneCheck{Offer: &Prefill{Profile: p, Source: SourceRemote}}
	}
	if p, ok := r.store.GetProfile(ctx, phone); ok {
		return PhoneCheck{Offer: &Prefill{Profile: *p, Source: SourceLocal}}
	}
	return PhoneCheck{}
}

// GuardSubmit последняя проверка перед постановкой в очередь.
// err != nil означает, что удаленная проверка не выполнилась.
func (r *Resolver) GuardSubmit(ctx context.Context, phone, eventID string) (*model.AttendanceRecord, error) {
	now := r.now()
	if existing := sameDay(r.store.GetQueue(ctx, eventID), phone, eventID, now); existing != nil {
		return existing, nil
	}
	found, err := r.gateway.Lookup(ctx, domain.LookupQuery{Phone: phone, EventID: eventID})
	if err != nil {
		r.logger.Warn("duplicate check lookup failed", zap.String("phone", masker.Phone(phone)), zap.String("event_id", eventID), zap.Error(err))
		return nil, err
	}
	return sameDay(found, phone, eventID, now), nil
}

// QuickCheckIn отметка по одному телефону для вернувшихся участников
func (r *Resolver) QuickCheckIn(ctx context.Context, phone, eventID string) QuickResult {
	now := r.now()
	user, _ := r.store.GetProfile(ctx, phone)
	cachedName := ""
	if user != nil {
		cachedName = user.Name
	}

	results := r.lookup(ctx, domain.LookupQuery{Phone: phone, EventID: eventID})
	existing := sameDay(results, phone, eventID, now)
	if existing == nil {
		existing = sameDay(r.store.GetQueue(ctx, eventID), phone, eventID, now)
	}
	if existing != nil {
		name := cachedName
		if name == "" {
			name = existing.Name
		}
		return QuickResult{Status: QuickAlreadyCheckedIn, Name: name, Record: *existing}
	}

	if user == nil {
		rec := latestForPhone(results, phone)
		if rec == nil {
			rec = latestForPhone(r.lookup(ctx, domain.LookupQuery{Phone: phone}), phone)
		}
		if rec != nil {
			p := model.ProfileFromRecord(*rec)
			user = &p
		}
	}
	if user == nil {
		return QuickResult{Status: QuickNotFound}
	}

	record := model.NewRecordFromProfile(*user, eventID, now)
	record.Phone = phone
	profile := *user
	profile.Phone = phone
	profile.LastSeenAt = record.CreatedAt
	r.cacheProfile(ctx, profile)

	queued, err := r.store.Enqueue(ctx, eventID, record)
	if err != nil {
		r.logger.Error("error enqueueing quick check-in", zap.Error(err), zap.String("phone", masker.Phone(phone)))
		return QuickResult{Status: QuickStoreFailed, Name: user.Name}
	}
	if delivered, ok := r.Flush(ctx, eventID, queued.ID); ok {
		return QuickResult{Status: QuickSynced, Name: user.Name, Record: delivered}
	}
	return QuickResult{Status: QuickQueuedOffline, Name: user.Name, Record: queued}
}

// Flush отправляет очередь мероприятия и сообщает, ушла ли запись с id
func (r *Resolver) Flush(ctx context.Context, eventID, id string) (model.AttendanceRecord, bool) {
	delivered, err := r.flusher.FlushRecord(ctx, eventID, id)
	if err != nil {
		r.logger.Warn("flush after submit failed, record stays queued", zap.String("event_id", eventID), zap.Error(err))
	}
	for _, d := range delivered {
		if d.ID == id {
			return d, true
		}
	}
	return model.AttendanceRecord{}, false
}

func (r *Resolver) lookup(ctx context.Context, q domain.LookupQuery) []model.AttendanceRecord {
	found, err := r.gateway.Lookup(ctx, q)
	if err != nil {
		r.logger.Warn("lookup failed, treating as no match",
			zap.String("phone", masker.Phone(q.Phone)),
			zap.String("email", masker.Email(q.Email)),
			zap.String("event_id", q.EventID),
			zap.Error(err),
		)
		return nil
	}
	return found
}

func (r *Resolver) cacheProfile(ctx context.Context, p model.UserProfile) {
	if p.Phone == "" {
		return
	}
	if _, err := r.store.SaveProfile(ctx, p.Phone, p); err != nil {
		r.logger.Warn("error caching profile", zap.String("phone", masker.Phone(p.Phone)), zap.Error(err))
	}
}

func sameDay(records []model.AttendanceRecord, phone, eventID string, now time.Time) *model.AttendanceRecord {
	for i := range records {
		r := records[i]
		if r.Phone == phone && r.EventID == eventID && r.IsSameDay(now) {
			return &r
		}
	}
	return nil
}

// latestForPhone самая свежая запись телефона, при равенстве - первая
func latestForPhone(records []model.AttendanceRecord, phone string) *model.AttendanceRecord {
	var best *model.AttendanceRecord
	for i := range records {
		r := records[i]
		if r.Phone != phone {
			continue
		}
		if best == nil || r.CreatedTime().After(best.CreatedTime()) {
			best = &r
		}
	}
	return best
}
