package tgbotapisfm

import (
	"sync"
	"time"
)

const (
	// Ограничения Telegram: около 30 сообщений в секунду всего и 1 в секунду в один чат
	defaultGlobalPause = time.Second / 30
	defaultChatPause   = time.Second
)

// Limiter выдерживает паузы между отправками сообщений
type Limiter struct {
	mu          sync.Mutex
	globalPause time.Duration
	chatPause   time.Duration
	lastGlobal  time.Time
	lastChat    map[int64]time.Time
}

func NewLimiter() *Limiter {
	return NewLimiterWithPauses(defaultGlobalPause, defaultChatPause)
}

func NewLimiterWithPauses(global, chat time.Duration) *Limiter {
	return &Limiter{
		globalPause: global,
		chatPause:   chat,
		lastChat:    make(map[int64]time.Time),
	}
}

// Wait блокирует до момента, когда в чат chatID можно отправить сообщение
func (l *Limiter) Wait(chatID int64) {
	l.mu.Lock()
	now := time.Now()
	next := l.lastGlobal.Add(l.globalPause)
	if last, ok := l.lastChat[chatID]; ok {
		if chatNext := last.Add(l.chatPause); chatNext.After(next) {
			next = chatNext
		}
	}
	if next.Before(now) {
		next = now
	}
	l.lastGlobal = next
	l.lastChat[chatID] = next
	l.mu.Unlock()

	if d := time.Until(next); d > 0 {
		time.Sleep(d)
	}
}
