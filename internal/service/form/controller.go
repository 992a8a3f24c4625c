package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"attendance_bot/internal/model"
	"attendance_bot/internal/service/identity"
	"attendance_bot/internal/utils"
	"attendance_bot/pkg/masker"
)

var (
	ErrDuplicate    = errors.New("already checked in for this event today")
	ErrUnknownField = errors.New("unknown form field")
	ErrFinished     = errors.New("form already submitted")
	ErrInProgress   = errors.New("submission in progress")
	ErrInvalidValue = errors.New("invalid field value")
)

type State int

const (
	StateEmpty State = iota
	StateEditing
	StateValidating
	StateSubmitting
	StateSucceeded
	StateQueuedOffline
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateEditing:
		return "editing"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateQueuedOffline:
		return "queued_offline"
	case StateBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Field имя поля формы
type Field string

const (
	FieldName        Field = "name"
	FieldEmail       Field = "email"
	FieldPhone       Field = "phone"
	FieldAddress     Field = "address"
	FieldOccupation  Field = "occupation"
	FieldGender      Field = "gender"
	FieldNationality Field = "nationality"
	FieldDepartment  Field = "department"
	FieldFirstTimer  Field = "firstTimer"
)

// Identity поиск человека и проверка дублей
type Identity interface {
	EmailPrefill(ctx context.Context, email, eventID string) (*identity.Prefill, bool)
	CheckPhone(ctx context.Context, phone, eventID string) identity.PhoneCheck
	GuardSubmit(ctx context.Context, phone, eventID string) (*model.AttendanceRecord, error)
	Flush(ctx context.Context, eventID, id string) (model.AttendanceRecord, bool)
	Now() time.Time
}

// Queue локальная очередь и кеш профилей
type Queue interface {
	Enqueue(ctx context.Context, eventID string, rec model.AttendanceRecord) (model.AttendanceRecord, error)
	SaveProfile(ctx context.Context, phone string, p model.UserProfile) (bool, error)
}

// Outcome итог отправки формы
type Outcome struct {
	State  State
	Record model.AttendanceRecord
}

// Controller состояние одной формы регистрации на мероприятие
type Controller struct {
	mu        sync.Mutex
	logger    *zap.Logger
	identity  Identity
	queue     Queue
	validate  *validator.Validate
	eventID   string
	state     State
	values    Values
	notice    string
	offer     *identity.Prefill
	duplicate *model.AttendanceRecord
	result    model.AttendanceRecord
}

func NewController(eventID string, id Identity, queue Queue, logger *zap.Logger) *Controller {
	return &Controller{
		logger:   logger,
		identity: id,
		queue:    queue,
		validate: newValidator(),
		eventID:  eventID,
		state:    StateEmpty,
	}
}

func (c *Controller) EventID() string {
	return c.eventID
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Values() Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values
}

// Notice сообщение об автозаполнении
func (c *Controller) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// Offer предложенный, но еще не примененный профиль
func (c *Controller) Offer() *identity.Prefill {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offer
}

// Duplicate найденная сегодняшняя отметка, если форма заблокирована
func (c *Controller) Duplicate() *model.AttendanceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duplicate
}

func (c *Controller) Result() model.AttendanceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Set меняет значение поля. Смена телефона снимает блокировку по дублю.
func (c *Controller) Set(field Field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished() {
		return ErrFinished
	}
	if c.state == StateSubmitting {
		return ErrInProgress
	}
	value = strings.TrimSpace(value)
	switch field {
	case FieldName:
		c.values.Name = value
	case FieldEmail:
		c.values.Email = value
	case FieldPhone:
		phone := utils.NormalizePhone(value)
		if phone != c.values.Phone {
			c.duplicate = nil
			c.offer = nil
		}
		c.values.Phone = phone
	case FieldAddress:
		c.values.Address = value
	case FieldOccupation:
		c.values.Occupation = value
	case FieldGender:
		c.values.Gender = value
	case FieldNationality:
		c.values.Nationality = value
	case FieldDepartment:
		c.values.Department = value
	case FieldFirstTimer:
		v, err := parseYesNo(value)
		if err != nil {
			return err
		}
		c.values.FirstTimer = &v
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if c.duplicate == nil {
		c.state = StateEditing
	}
	return nil
}

// EmailBlur ищет прошлую запись по email и сразу заполняет форму
func (c *Controller) EmailBlur(ctx context.Context) bool {
	c.mu.Lock()
	email := c.values.Email
	c.mu.Unlock()
	if email == "" {
		return false
	}

	prefill, ok := c.identity.EmailPrefill(ctx, email, c.eventID)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished() || c.state == StateSubmitting {
		return false
	}
	c.applyProfile(prefill.Profile)
	c.notice = prefill.Notice
	return true
}

// PhoneBlur проверяет отметку за сегодня и ищет профиль для предложения
func (c *Controller) PhoneBlur(ctx context.Context) identity.PhoneCheck {
	c.mu.Lock()
	phone := c.values.Phone
	c.mu.Unlock()
	if phone == "" {
		return identity.PhoneCheck{}
	}

	check := c.identity.CheckPhone(ctx, phone, c.eventID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished() || c.values.Phone != phone {
		return check
	}
	if check.AlreadyCheckedIn {
		c.duplicate = check.Existing
		c.offer = nil
		c.state = StateBlocked
		return check
	}
	c.offer = check.Offer
	return check
}

// AcceptOffer применяет предложенный профиль
func (c *Controller) AcceptOffer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offer == nil || c.finished() {
		return false
	}
	c.applyProfile(c.offer.Profile)
	c.offer = nil
	c.notice = identity.PrefillNotice
	return true
}

func (c *Controller) DeclineOffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offer = nil
}

// Validate синхронная проверка полей. Удаленный шлюз не участвует.
func (c *Controller) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateLocked()
}

func (c *Controller) validateLocked() error {
	prev := c.state
	c.state = StateValidating
	err := validateValues(c.validate, c.values)
	// блокировка по дублю снимается только сменой телефона
	if prev == StateBlocked {
		c.state = StateBlocked
	} else {
		c.state = StateEditing
	}
	return err
}

// Submit проверяет форму и дубли, ставит запись в очередь и пробует отправить.
// Ошибка отправки не возвращается: запись уже лежит в очереди.
func (c *Controller) Submit(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.finished() {
		out := Outcome{State: c.state, Record: c.result}
		c.mu.Unlock()
		return out, ErrFinished
	}
	switch c.state {
	case StateBlocked:
		c.mu.Unlock()
		return Outcome{State: StateBlocked}, ErrDuplicate
	case StateSubmitting:
		c.mu.Unlock()
		return Outcome{State: StateSubmitting}, ErrInProgress
	}
	if err := c.validateLocked(); err != nil {
		c.mu.Unlock()
		return Outcome{State: StateEditing}, err
	}
	c.state = StateSubmitting
	values := c.values
	c.mu.Unlock()

	existing, err := c.identity.GuardSubmit(ctx, values.Phone, c.eventID)
	if err != nil {
		// проверка не выполнилась, регистрацию не блокируем
		c.logger.Warn("final duplicate check skipped", zap.String("event_id", c.eventID), zap.Error(err))
	}
	if existing != nil {
		c.mu.Lock()
		c.duplicate = existing
		c.state = StateBlocked
		c.mu.Unlock()
		return Outcome{State: StateBlocked}, ErrDuplicate
	}

	now := c.identity.Now()
	record := values.Record(c.eventID, now)
	queued, err := c.queue.Enqueue(ctx, c.eventID, record)
	if err != nil {
		c.logger.Error("error enqueueing submission", zap.String("event_id", c.eventID), zap.Error(err))
		c.mu.Lock()
		c.state = StateEditing
		c.mu.Unlock()
		return Outcome{State: StateEditing}, fmt.Errorf("enqueue submission: %w", err)
	}

	profile := model.ProfileFromRecord(queued)
	if _, err := c.queue.SaveProfile(ctx, queued.Phone, profile); err != nil {
		c.logger.Warn("error caching profile", zap.String("phone", masker.Phone(queued.Phone)), zap.Error(err))
	}

	out := Outcome{State: StateQueuedOffline, Record: queued}
	if delivered, ok := c.identity.Flush(ctx, c.eventID, queued.ID); ok {
		out = Outcome{State: StateSucceeded, Record: delivered}
	}
	c.logger.Info("form submitted",
		zap.String("event_id", c.eventID),
		zap.String("record_id", out.Record.ID),
		zap.Stringer("state", out.State),
	)

	c.mu.Lock()
	c.state = out.State
	c.result = out.Record
	c.mu.Unlock()
	return out, nil
}

// Record собирает запись из значений формы
func (v Values) Record(eventID string, now time.Time) model.AttendanceRecord {
	r := model.AttendanceRecord{
		EventID:     eventID,
		Name:        v.Name,
		Email:       v.Email,
		Phone:       v.Phone,
		Address:     v.Address,
		Occupation:  v.Occupation,
		Gender:      v.Gender,
		Nationality: v.Nationality,
		Department:  v.Department,
		CreatedAt:   model.NowISO(now),
	}
	if v.FirstTimer != nil {
		r.FirstTimer = *v.FirstTimer
	}
	return r
}

// applyProfile переносит поля профиля. Телефон, введенный пользователем, не меняется.
func (c *Controller) applyProfile(p model.UserProfile) {
	phone := c.values.Phone
	rec := model.MergeProfile(c.values.Record(c.eventID, time.Time{}), p)
	first := rec.FirstTimer
	firstTimer := c.values.FirstTimer
	c.values = Values{
		Name:        rec.Name,
		Email:       rec.Email,
		Phone:       rec.Phone,
		Address:     rec.Address,
		Occupation:  rec.Occupation,
		Gender:      rec.Gender,
		Nationality: rec.Nationality,
		Department:  rec.Department,
		FirstTimer:  firstTimer,
	}
	if phone != "" {
		c.values.Phone = phone
	}
	if first {
		c.values.FirstTimer = &first
	}
	if c.state == StateEmpty {
		c.state = StateEditing
	}
}

func (c *Controller) finished() bool {
	return c.state == StateSucceeded || c.state == StateQueuedOffline
}

func parseYesNo(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y", "true", "1", "да":
		return true, nil
	case "no", "n", "false", "0", "нет":
		return false, nil
	}
	return false, fmt.Errorf("%w: firstTimer expects yes or no, got %q", ErrInvalidValue, value)
}
