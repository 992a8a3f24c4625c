package relay

import (
	"sync"

	"attendance_bot/internal/model"
)

const subscriberBuffer = 16

// Hub рассылает новые записи подписчикам потока администратора.
// Медленный подписчик теряет события, а не тормозит запись.
type Hub struct {
	mu   sync.Mutex
	subs map[chan model.AttendanceRecord]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan model.AttendanceRecord]struct{})}
}

// Subscribe возвращает канал событий и функцию отписки
func (h *Hub) Subscribe() (<-chan model.AttendanceRecord, func()) {
	ch := make(chan model.AttendanceRecord, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(rec model.AttendanceRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
