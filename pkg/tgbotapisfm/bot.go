package tgbotapisfm

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Config структура для конфигурации бота
type Config struct {
	Token           string           // Токен бота
	Expiration      time.Duration    // Время хранения состояний пользователя
	CleanupInterval time.Duration    // Интервал очистки кеша
	States          map[string]State // Карта состояний
	InitialState    string           // Состояние пользователя без сохраненного состояния

	APIEndpoint string       // Адрес Bot API, по умолчанию tgbotapi.APIEndpoint
	HTTPClient  *http.Client // Клиент для запросов к Bot API
	Limiter     *Limiter     // Лимитер отправки, по умолчанию NewLimiter()
}

// Bot структура для бота
type Bot struct {
	BotAPI       *tgbotapi.BotAPI // API бота. Экспортируется для доступа к нему из вне
	expiration   time.Duration    // Время хранения состояний пользователя
	initialState string
	limiter      *Limiter       // Лимитер для ограничения количества запросов к API
	cache        *gocache.Cache // Кеш для хранения состояний пользователей
	logger       *zap.Logger
	states       map[string]State
	globalStates []*State // Состояния, в которые может перейти пользователь из любого другого
	running      sync.Mutex
	statesMu     sync.RWMutex

	IgnoreList []int64 // Список ID пользователей, которые будут игнорироваться
}

// NewBot конструктор нового бота. Без логгера используется zap.NewNop().
func NewBot(config Config, ignoreList []int64, logger *zap.Logger) (*Bot, error) {
	if config.States == nil {
		config.States = make(map[string]State)
	}
	if config.Expiration < 0 {
		return nil, NewValidationError(ErrNegativeExpiration, config.Expiration)
	}
	if config.CleanupInterval < 0 {
		return nil, NewValidationError(ErrNegativeCleanup, config.CleanupInterval)
	}
	if config.Token == "" {
		return nil, ErrInvalidToken
	}
	if config.APIEndpoint == "" {
		config.APIEndpoint = tgbotapi.APIEndpoint
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: time.Minute}
	}
	if config.Limiter == nil {
		config.Limiter = NewLimiter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	botAPI, err := tgbotapi.NewBotAPIWithClient(config.Token, config.APIEndpoint, config.HTTPClient)
	if err != nil {
		return nil, NewValidationError(ErrTelegramInit, err)
	}

	b := &Bot{
		BotAPI:       botAPI,
		expiration:   config.Expiration,
		initialState: config.InitialState,
		limiter:      config.Limiter,
		cache:        gocache.New(config.Expiration, config.CleanupInterval),
		logger:       logger,
		IgnoreList:   ignoreList,
	}
	b.ReplaceStates(config.States)
	return b, nil
}

// Start запускает обработку обновлений в горутине и возвращает канал для ошибок
func (b *Bot) Start(offset, timeout int) chan error {
	errChan := make(chan error, 1)

	if !b.running.TryLock() {
		b.logger.Warn("bot is already running")
		errChan <- ErrBotStarted
		close(errChan)
		return errChan
	}

	b.logger.Info("starting bot", zap.String("username", b.BotAPI.Self.UserName))
	go func() {
		defer close(errChan)
		b.HandleUpdates(offset, timeout)
	}()

	return errChan
}

// Stop останавливает получение обновлений
func (b *Bot) Stop() {
	b.BotAPI.StopReceivingUpdates()
	b.logger.Info("stopped receiving updates")
}

// HandleUpdates обрабатывает обновления, пока не будет вызван Stop
func (b *Bot) HandleUpdates(offset, timeout int) {
	u := tgbotapi.NewUpdate(offset)
	u.Timeout = timeout
	updates := b.BotAPI.GetUpdatesChan(u)

	for update := range updates {
		if err := b.HandleUpdate(update); err != nil {
			b.logger.Error("error handling update", zap.Int("update_id", update.UpdateID), zap.Error(err))
		}
	}
}

// HandleUpdate обрабатывает одно обновление: сначала глобальные состояния, затем текущее
func (b *Bot) HandleUpdate(update tgbotapi.Update) error {
	from := update.SentFrom()
	if from == nil {
		return nil
	}
	if slices.Contains(b.IgnoreList, from.ID) {
		return nil
	}
	if chat := update.FromChat(); chat != nil && slices.Contains(b.IgnoreList, chat.ID) {
		return nil
	}

	found, err := b.HandleGlobalStates(update)
	if err != nil || found {
		return err
	}

	stateName, err := b.GetUserState(from.ID)
	if err != nil {
		if b.initialState == "" {
			return nil
		}
		stateName = b.initialState
	}

	b.statesMu.RLock()
	state, ok := b.states[stateName]
	b.statesMu.RUnlock()
	if !ok {
		return NewValidationError(ErrStateHandlerNotFound, stateName)
	}

	_, err = b.SelectHandler(update, &state)
	return err
}

// GetUserState возвращает название состояния, в котором находится пользователь
func (b *Bot) GetUserState(userID int64) (string, error) {
	x, ok := b.cache.Get(strconv.FormatInt(userID, 10))
	if !ok {
		return "", ErrStateNotFound
	}
	state, ok := x.(string)
	if !ok {
		return "", ErrInvalidStateType
	}
	return state, nil
}

// SetUserState меняет состояние пользователя
func (b *Bot) SetUserState(userID int64, state string) error {
	b.statesMu.RLock()
	_, ok := b.states[state]
	b.statesMu.RUnlock()
	if !ok {
		return NewValidationError(ErrStateHandlerNotFound, state)
	}

	b.cache.Set(strconv.FormatInt(userID, 10), state, b.expiration)
	return nil
}

// ClearUserState сбрасывает состояние пользователя
func (b *Bot) ClearUserState(userID int64) {
	b.cache.Delete(strconv.FormatInt(userID, 10))
}

// SetUserStateImmediate меняет состояние и вызывает его AtEntranceFunc
func (b *Bot) SetUserStateImmediate(userID int64, state string, update tgbotapi.Update) error {
	if err := b.SetUserState(userID, state); err != nil {
		return err
	}

	b.statesMu.RLock()
	newState := b.states[state]
	b.statesMu.RUnlock()

	if newState.AtEntranceFunc != nil {
		return newState.AtEntranceFunc.Handle(b, update)
	}
	return nil
}

// HandleGlobalStates возвращает true, если обновление обработано глобальным состоянием
func (b *Bot) HandleGlobalStates(update tgbotapi.Update) (bool, error) {
	b.statesMu.RLock()
	globals := b.globalStates
	b.statesMu.RUnlock()

	for _, state := range globals {
		found, err := b.selectExact(update, state)
		if found || err != nil {
			return found, err
		}
	}
	return false, nil
}

// SelectHandler выбирает обработчик состояния, при отсутствии вызывает CatchAllFunc
func (b *Bot) SelectHandler(update tgbotapi.Update, state *State) (bool, error) {
	found, err := b.selectExact(update, state)
	if found || err != nil {
		return found, err
	}
	if state.CatchAllFunc != nil {
		return false, state.CatchAllFunc.Handle(b, update)
	}
	b.logger.Debug("no handler for update", zap.Int("update_id", update.UpdateID))
	return false, nil
}

func (b *Bot) selectExact(update tgbotapi.Update, state *State) (bool, error) {
	switch {
	case update.Message != nil:
		h, ok := state.MessageHandlers[messageKey(update.Message)]
		if !ok {
			return false, nil
		}
		b.logger.Debug("message handled",
			zap.String("key", messageKey(update.Message)),
			zap.Int64("chat_id", update.Message.Chat.ID),
		)
		return true, h.Handle(b, update)
	case update.CallbackQuery != nil:
		h, ok := state.CallbackHandlers[update.CallbackQuery.Data]
		if !ok {
			return false, nil
		}
		b.logger.Debug("callback handled",
			zap.String("callback", update.CallbackQuery.Data),
			zap.Int64("user_id", update.CallbackQuery.From.ID),
		)
		return true, h.Handle(b, update)
	}
	return false, nil
}

// messageKey для команд "/команда" без аргументов, иначе текст в нижнем регистре
func messageKey(m *tgbotapi.Message) string {
	if m.IsCommand() {
		return "/" + strings.ToLower(m.Command())
	}
	return strings.ToLower(strings.TrimSpace(m.Text))
}

// ReplaceStates безопасно заменяет все состояния бота на новые
func (b *Bot) ReplaceStates(newStates map[string]State) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()

	globals := make([]*State, 0)
	for name := range newStates {
		state := newStates[name]
		if state.Global {
			globals = append(globals, &state)
		}
	}

	b.states = newStates
	b.globalStates = globals
}

// SendMessage отправляет сообщение с учетом лимитов
func (b *Bot) SendMessage(msg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	b.limiter.Wait(msg.ChatID)
	sent, err := b.BotAPI.Send(msg)
	if err != nil {
		return sent, fmt.Errorf("send message to %d: %w", msg.ChatID, err)
	}
	return sent, nil
}

// AnswerCallback убирает индикатор загрузки на callback-кнопке
func (b *Bot) AnswerCallback(callbackID, text string) error {
	_, err := b.BotAPI.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}
