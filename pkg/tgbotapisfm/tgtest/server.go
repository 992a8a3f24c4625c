// Package tgtest имитация Telegram Bot API для тестов.
package tgtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sent отправленное ботом сообщение
type Sent struct {
	ChatID      int64
	Text        string
	ReplyMarkup string
}

type Server struct {
	*httptest.Server
	mu   sync.Mutex
	sent []Sent
}

func NewServer(t testing.TB) *Server {
	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Endpoint формат адреса для tgbotapi.NewBotAPIWithClient
func (s *Server) Endpoint() string {
	return s.URL + "/bot%s/%s"
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = r.ParseForm()

	var result interface{} = true
	switch path.Base(r.URL.Path) {
	case "getMe":
		result = map[string]interface{}{"id": 1, "is_bot": true, "first_name": "Test", "username": "test_bot"}
	case "sendMessage":
		chatID, _ := strconv.ParseInt(r.Form.Get("chat_id"), 10, 64)
		s.mu.Lock()
		s.sent = append(s.sent, Sent{ChatID: chatID, Text: r.Form.Get("text"), ReplyMarkup: r.Form.Get("reply_markup")})
		id := len(s.sent)
		s.mu.Unlock()
		result = map[string]interface{}{
			"message_id": id,
			"date":       0,
			"chat":       map[string]interface{}{"id": chatID, "type": "private"},
			"text":       r.Form.Get("text"),
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": result})
}

// Messages все отправленные сообщения
func (s *Server) Messages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// Last последнее отправленное сообщение
func (s *Server) Last() Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return Sent{}
	}
	return s.sent[len(s.sent)-1]
}

// Message обновление с текстом от пользователя в личном чате
func Message(userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, FirstName: "User"},
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

// Callback нажатие inline-кнопки
func Callback(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: userID},
			Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: userID, Type: "private"}},
			Data:    data,
		},
	}
}
