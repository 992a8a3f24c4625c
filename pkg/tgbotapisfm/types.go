package tgbotapisfm

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// HandlerFunc обработчик обновления
type HandlerFunc func(bot *Bot, update tgbotapi.Update) error

type Handler struct {
	Handle HandlerFunc
}

// State состояние диалога пользователя
type State struct {
	// Глобальные состояния проверяются для любого пользователя до его текущего состояния
	Global bool

	// Вызывается при входе в состояние через SetUserStateImmediate
	AtEntranceFunc *Handler

	// Вызывается, если не нашлось подходящего обработчика
	CatchAllFunc *Handler

	// Ключ - текст сообщения в нижнем регистре или "/команда"
	MessageHandlers map[string]Handler

	// Ключ - data callback-кнопки
	CallbackHandlers map[string]Handler
}
