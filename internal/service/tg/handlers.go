package tg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"attendance_bot/internal/model"
	"attendance_bot/internal/service/form"
	"attendance_bot/internal/service/identity"
	"attendance_bot/internal/service/sync_queue"
	"attendance_bot/internal/utils"
	"attendance_bot/pkg/tgbotapisfm"
)

const (
	StateStart   = "start"
	StateMenu    = "menu"
	StateQuick   = "quick_phone"
	StateForm    = "form"
	StateOffer   = "offer"
	StateConfirm = "confirm"

	btnQuick    = "Quick check-in"
	btnRegister = "Register"
	btnSubmit   = "Submit"
	btnCancel   = "Cancel"
	btnYes      = "Yes"
	btnNo       = "No"
	btnSkip     = "Skip"

	// для быстрой отметки достаточно короткого номера
	minQuickPhone = 5
	maxNameLen    = 255
)

// Resolver поиск человека, проверка дублей и быстрая отметка
type Resolver interface {
	form.Identity
	QuickCheckIn(ctx context.Context, phone, eventID string) identity.QuickResult
}

// QueueStore локальная очередь и кеш профилей
type QueueStore interface {
	form.Queue
	GetQueue(ctx context.Context, eventID string) []model.AttendanceRecord
	QueueEvents(ctx context.Context) ([]string, error)
}

type Syncer interface {
	ForceUpdate()
}

type StatsSource interface {
	Stats() sync_queue.Stats
}

// Connectivity состояние связи со шлюзом
type Connectivity interface {
	Online() bool
}

type TGHandler struct {
	logger         *zap.Logger
	identity       Resolver
	queue          QueueStore
	syncer         Syncer
	stats          StatsSource
	conn           Connectivity
	sessions       *gocache.Cache
	defaultEventID string
	timeout        time.Duration
}

func NewTGHandler(resolver Resolver, queue QueueStore, syncer Syncer, stats StatsSource, defaultEventID string, timeout time.Duration, logger *zap.Logger) *TGHandler {
	return &TGHandler{
		logger:         logger,
		identity:       resolver,
		queue:          queue,
		syncer:         syncer,
		stats:          stats,
		sessions:       gocache.New(24*time.Hour, 1*time.Hour),
		defaultEventID: defaultEventID,
		timeout:        timeout,
	}
}

// WithConnectivity добавляет состояние связи в /status
func (h *TGHandler) WithConnectivity(conn Connectivity) *TGHandler {
	h.conn = conn
	return h
}

func (h *TGHandler) StatesMap() map[string]tgbotapisfm.State {
	return map[string]tgbotapisfm.State{
		StateStart:   h.StartState(),
		StateMenu:    h.MenuState(),
		StateQuick:   h.QuickPhoneState(),
		StateForm:    h.FormState(),
		StateOffer:   h.OfferState(),
		StateConfirm: h.ConfirmState(),
	}
}

func (h *TGHandler) StartState() tgbotapisfm.State {
	return tgbotapisfm.State{
		Global: true,
		MessageHandlers: map[string]tgbotapisfm.Handler{
			"/start":  h.StartHandler(),
			"/cancel": h.CancelHandler(),
			"/status": h.StatusHandler(),
			"/sync":   h.SyncHandler(),
		},
	}
}

// StartHandler /start [eventId] выбирает мероприятие и показывает меню
func (h *TGHandler) StartHandler() tgbotapisfm.Handler {
	return tgbotapisfm.Handler{
		Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
			userID := update.SentFrom().ID
			eventID := strings.TrimSpace(update.Message.CommandArguments())
			if eventID == "" {
				eventID = h.defaultEventID
			}
			h.saveSession(userID, &session{EventID: eventID})
			if err := bot.SetUserState(userID, StateMenu); err != nil {
				return err
			}
			return h.showMenu(bot, update.Message.Chat.ID, fmt.Sprintf("Welcome! Check-in for event %s.", eventID))
		},
	}
}

func (h *TGHandler) CancelHandler() tgbotapisfm.Handler {
	return tgbotapisfm.Handler{
		Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
			userID := update.SentFrom().ID
			s := h.sessionFor(userID)
			s.Form = nil
			h.saveSession(userID, s)
			if err := bot.SetUserState(userID, StateMenu); err != nil {
				return err
			}
			return h.showMenu(bot, update.Message.Chat.ID, "Cancelled.")
		},
	}
}

// StatusHandler показывает неотправленные отметки
func (h *TGHandler) StatusHandler() tgbotapisfm.Handler {
	return tgbotapisfm.Handler{
		Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
			ctx, cancel := h.ctx()
			defer cancel()

			events, err := h.queue.QueueEvents(ctx)
			if err != nil {
				h.logger.Error("error listing queues", zap.Error(err))
				return h.send(bot, update.Message.Chat.ID, "Could not read the local queue.", nil)
			}
			sort.Strings(events)
			lines := make([]string, 0, len(events)+1)
			for _, ev := range events {
				if n := len(h.queue.GetQueue(ctx, ev)); n > 0 {
					lines = append(lines, fmt.Sprintf("%s: %d pending", ev, n))
				}
			}
			if len(lines) == 0 {
				lines = append(lines, "Nothing pending.")
			}
			st := h.stats.Stats()
			lines = append(lines, fmt.Sprintf("Delivered: %d, failed attempts: %d", st.Delivered, st.Failed))
			if h.conn != nil {
				status := "offline"
				if h.conn.Online() {
					status = "online"
				}
				lines = append(lines, "Gateway: "+status)
			}
			return h.send(bot, update.Message.Chat.ID, strings.Join(lines, "\n"), nil)
		},
	}
}

func (h *TGHandler) SyncHandler() tgbotapisfm.Handler {
	return tgbotapisfm.Handler{
		Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
			h.syncer.ForceUpdate()
			return h.send(bot, update.Message.Chat.ID, "Sync started.", nil)
		},
	}
}

func (h *TGHandler) MenuState() tgbotapisfm.State {
	return tgbotapisfm.State{
		MessageHandlers: map[string]tgbotapisfm.Handler{
			strings.ToLower(btnQuick): {Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
				h.sessionFor(update.SentFrom().ID)
				return bot.SetUserStateImmediate(update.SentFrom().ID, StateQuick, update)
			}},
			strings.ToLower(btnRegister): {Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
				userID := update.SentFrom().ID
				h.startForm(userID, h.sessionFor(userID))
				return bot.SetUserStateImmediate(userID, StateForm, update)
			}},
		},
		CatchAllFunc: &tgbotapisfm.Handler{Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
			return h.showMenu(bot, update.FromChat().ID, "Please choose an option.")
		}},
	}
}

func (h *TGHandler) QuickPhoneState() tgbotapisfm.State {
	return tgbotapisfm.State{
		AtEntranceFunc: &tgbotapisfm.Handler{Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
			return h.send(bot, update.FromChat().ID, "Enter your phone number or share your contact.", contactKeyboard())
		}},
		CatchAllFunc: &tgbotapisfm.Handler{Handle: h.handleQuickPhone},
	}
}

func (h *TGHandler) handleQuickPhone(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
	if update.Message == nil {
		return nil
	}
	userID := update.SentFrom().ID
	chatID := update.Message.Chat.ID
	phone := utils.NormalizePhone(messagePhone(update.Message))
	if len(phone) < minQuickPhone {
		return h.send(bot, chatID, "Please enter a valid phone number.", contactKeyboard())
	}

	s := h.sessionFor(userID)
	ctx, cancel := h.ctx()
	defer cancel()
	res := h.identity.QuickCheckIn(ctx, phone, s.EventID)

	switch res.Status {
	case identity.QuickAlreadyCheckedIn:
		_ = bot.SetUserState(userID, StateMenu)
		return h.showMenu(bot, chatID, fmt.Sprintf("%s, you are already checked in for today.", nameOr(res.Name)))
	case identity.QuickSynced:
		_ = bot.SetUserState(userID, StateMenu)
		return h.showMenu(bot, chatID, fmt.Sprintf("Welcome back, %s! You are checked in. Your code: %s", nameOr(res.Name), res.Record.UniqueCode))
	case identity.QuickQueuedOffline:
		h.syncer.ForceUpdate()
		_ = bot.SetUserState(userID, StateMenu)
		return h.showMenu(bot, chatID, fmt.Sprintf("Welcome back, %s! You are checked in offline. It will sync once we are back online.", nameOr(res.Name)))
	case identity.QuickStoreFailed:
		_ = bot.SetUserState(userID, StateMenu)
		return h.showMenu(bot, chatID, "Sorry, we could not save your check-in. Please try again.")
	default:
		if err := h.send(bot, chatID, "We could not find you. Let's register you.", nil); err != nil {
			return err
		}
		h.startForm(userID, s)
		_ = s.Form.Set(form.FieldPhone, phone)
		return bot.SetUserStateImmediate(userID, StateForm, update)
	}
}

func (h *TGHandler) FormState() tgbotapisfm.State {
	return tgbotapisfm.State{
		AtEntranceFunc: &tgbotapisfm.Handler{Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
			return h.askNext(bot, update)
		}},
		CatchAllFunc: &tgbotapisfm.Handler{Handle: h.handleFormAnswer},
	}
}

func (h *TGHandler) handleFormAnswer(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
	if update.Message == nil {
		return nil
	}
	userID := update.SentFrom().ID
	chatID := update.Message.Chat.ID
	s := h.getSession(userID)
	if s == nil || s.Form == nil || s.Current == "" {
		_ = bot.SetUserState(userID, StateMenu)
		return h.showMenu(bot, chatID, "Your session expired. Please start again.")
	}

	field := s.Current
	value := strings.TrimSpace(update.Message.Text)
	switch field {
	case form.FieldPhone:
		value = messagePhone(update.Message)
	case form.FieldName:
		if len(value) > maxNameLen {
			return h.send(bot, chatID, "Name is too long, please use at most 255 characters.", nil)
		}
		value = normalizeName(value)
	case form.FieldDepartment:
		if strings.EqualFold(value, btnSkip) {
			value = ""
		}
	}

	if err := s.Form.Set(field, value); err != nil {
		if errors.Is(err, form.ErrInvalidValue) {
			return h.send(bot, chatID, "Please answer Yes or No.", yesNoKeyboard())
		}
		return err
	}
	if msg := fieldError(s.Form.Validate(), field); msg != "" {
		return h.send(bot, chatID, msg, nil)
	}
	s.Asked[field] = true

	ctx, cancel := h.ctx()
	defer cancel()
	switch field {
	case form.FieldEmail:
		if s.Form.EmailBlur(ctx) {
			if err := h.send(bot, chatID, s.Form.Notice(), nil); err != nil {
				return err
			}
		}
	case form.FieldPhone:
		check := s.Form.PhoneBlur(ctx)
		if check.AlreadyCheckedIn {
			s.Form = nil
			h.saveSession(userID, s)
			_ = bot.SetUserState(userID, StateMenu)
			return h.showMenu(bot, chatID, "This phone number is already checked in for today.")
		}
		if check.Offer != nil {
			h.saveSession(userID, s)
			if err := bot.SetUserState(userID, StateOffer); err != nil {
				return err
			}
			return h.send(bot, chatID, fmt.Sprintf("We found saved details for %s. Use them?", nameOr(check.Offer.Profile.Name)), yesNoKeyboard())
		}
	}
	h.saveSession(userID, s)
	return h.askNext(bot, update)
}

func (h *TGHandler) OfferState() tgbotapisfm.State {
	resume := func(accept bool) tgbotapisfm.Handler {
		return tgbotapisfm.Handler{Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
			userID := update.SentFrom().ID
			s := h.getSession(userID)
			if s == nil || s.Form == nil {
				_ = bot.SetUserState(userID, StateMenu)
				return h.showMenu(bot, update.FromChat().ID, "Your session expired. Please start again.")
			}
			if accept && s.Form.AcceptOffer() {
				if err := h.send(bot, update.FromChat().ID, s.Form.Notice(), nil); err != nil {
					return err
				}
			} else {
				s.Form.DeclineOffer()
			}
			if err := bot.SetUserState(userID, StateForm); err != nil {
				return err
			}
			return h.askNext(bot, update)
		}}
	}
	return tgbotapisfm.State{
		MessageHandlers: map[string]tgbotapisfm.Handler{
			strings.ToLower(btnYes): resume(true),
			strings.ToLower(btnNo):  resume(false),
		},
		CatchAllFunc: &tgbotapisfm.Handler{Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
			return h.send(bot, update.FromChat().ID, "Please answer Yes or No.", yesNoKeyboard())
		}},
	}
}

func (h *TGHandler) ConfirmState() tgbotapisfm.State {
	return tgbotapisfm.State{
		MessageHandlers: map[string]tgbotapisfm.Handler{
			strings.ToLower(btnSubmit): {Handle: h.handleSubmit},
			strings.ToLower(btnCancel): h.CancelHandler(),
		},
		CatchAllFunc: &tgbotapisfm.Handler{Handle: func(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
			return h.send(bot, update.FromChat().ID, "Press Submit to finish or Cancel to start over.", confirmKeyboard())
		}},
	}
}

func (h *TGHandler) handleSubmit(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
	userID := update.SentFrom().ID
	chatID := update.FromChat().ID
	s := h.getSession(userID)
	if s == nil || s.Form == nil {
		_ = bot.SetUserState(userID, StateMenu)
		return h.showMenu(bot, chatID, "Your session expired. Please start again.")
	}

	ctx, cancel := h.ctx()
	defer cancel()
	out, err := s.Form.Submit(ctx)

	var verr *form.ValidationError
	switch {
	case errors.As(err, &verr):
		for _, f := range steps {
			if msg, ok := verr.Fields[string(f)]; ok {
				s.Current = f
				h.saveSession(userID, s)
				_ = bot.SetUserState(userID, StateForm)
				return h.send(bot, chatID, msg+"\n"+prompt(f), keyboardFor(f))
			}
		}
		return h.send(bot, chatID, verr.Error(), nil)
	case errors.Is(err, form.ErrDuplicate):
		s.Form = nil
		h.saveSession(userID, s)
		_ = bot.SetUserState(userID, StateMenu)
		return h.showMenu(bot, chatID, "This phone number is already checked in for today.")
	case err != nil:
		h.logger.Error("error submitting form", zap.Error(err), zap.Int64("user_id", userID))
		return h.send(bot, chatID, "Could not save your registration. Please try again.", confirmKeyboard())
	}

	s.Form = nil
	h.saveSession(userID, s)
	_ = bot.SetUserState(userID, StateMenu)
	if out.State == form.StateSucceeded {
		return h.showMenu(bot, chatID, fmt.Sprintf("Registration complete! Your code: %s", out.Record.UniqueCode))
	}
	h.syncer.ForceUpdate()
	return h.showMenu(bot, chatID, "Registration saved offline. It will sync once we are back online.")
}

// askNext задает следующий вопрос формы или показывает итог
func (h *TGHandler) askNext(bot *tgbotapisfm.Bot, update tgbotapi.Update) error {
	userID := update.SentFrom().ID
	chatID := update.FromChat().ID
	s := h.getSession(userID)
	if s == nil || s.Form == nil {
		_ = bot.SetUserState(userID, StateMenu)
		return h.showMenu(bot, chatID, "Your session expired. Please start again.")
	}

	s.Current = s.next()
	h.saveSession(userID, s)
	if s.Current != "" {
		return h.send(bot, chatID, prompt(s.Current), keyboardFor(s.Current))
	}
	if err := bot.SetUserState(userID, StateConfirm); err != nil {
		return err
	}
	return h.send(bot, chatID, summary(s.Form.Values()), confirmKeyboard())
}

func (h *TGHandler) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

func (h *TGHandler) send(bot *tgbotapisfm.Bot, chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	} else {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	_, err := bot.SendMessage(msg)
	return err
}

func (h *TGHandler) showMenu(bot *tgbotapisfm.Bot, chatID int64, text string) error {
	return h.send(bot, chatID, text, tgbotapi.NewReplyKeyboard(
		[]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton(btnQuick),
			tgbotapi.NewKeyboardButton(btnRegister),
		},
	))
}

func prompt(f form.Field) string {
	switch f {
	case form.FieldEmail:
		return "Enter your email."
	case form.FieldPhone:
		return "Enter your phone number or share your contact."
	case form.FieldName:
		return "Enter your full name."
	case form.FieldAddress:
		return "Enter your address."
	case form.FieldOccupation:
		return "Enter your occupation."
	case form.FieldGender:
		return "Select your gender."
	case form.FieldNationality:
		return "Enter your nationality."
	case form.FieldDepartment:
		return "Enter your department or press Skip."
	case form.FieldFirstTimer:
		return "Is this your first time with us?"
	}
	return string(f)
}

func keyboardFor(f form.Field) interface{} {
	switch f {
	case form.FieldPhone:
		return contactKeyboard()
	case form.FieldGender:
		return tgbotapi.NewReplyKeyboard([]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton("Male"),
			tgbotapi.NewKeyboardButton("Female"),
		})
	case form.FieldDepartment:
		return tgbotapi.NewReplyKeyboard([]tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButton(btnSkip)})
	case form.FieldFirstTimer:
		return yesNoKeyboard()
	}
	return nil
}

func contactKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard([]tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButtonContact("Share my phone")})
	kb.OneTimeKeyboard = true
	return kb
}

func yesNoKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard([]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButton(btnYes),
		tgbotapi.NewKeyboardButton(btnNo),
	})
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard([]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButton(btnSubmit),
		tgbotapi.NewKeyboardButton(btnCancel),
	})
}

func summary(v form.Values) string {
	first := "no"
	if v.FirstTimer != nil && *v.FirstTimer {
		first = "yes"
	}
	department := v.Department
	if department == "" {
		department = "-"
	}
	return fmt.Sprintf("Please check your details:\nName: %s\nEmail: %s\nPhone: %s\nAddress: %s\nOccupation: %s\nGender: %s\nNationality: %s\nDepartment: %s\nFirst time: %s",
		v.Name, v.Email, v.Phone, v.Address, v.Occupation, v.Gender, v.Nationality, department, first)
}

// fieldError сообщение об ошибке только для указанного поля
func fieldError(err error, f form.Field) string {
	var verr *form.ValidationError
	if !errors.As(err, &verr) {
		return ""
	}
	return verr.Fields[string(f)]
}

// messagePhone телефон из текста или из отправленного контакта
func messagePhone(m *tgbotapi.Message) string {
	if m.Contact != nil {
		return m.Contact.PhoneNumber
	}
	return m.Text
}

func nameOr(name string) string {
	if name == "" {
		return "friend"
	}
	return name
}

func normalizeName(name string) string {
	parts := strings.Fields(name)
	for i, part := range parts {
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		for j := 1; j < len(runes); j++ {
			runes[j] = unicode.ToLower(runes[j])
		}
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}
