package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor периодически проверяет доступность шлюза и сообщает подписчикам
// о переходе в онлайн. Первое успешное наблюдение тоже считается переходом,
// чтобы очередь прошлой сессии ушла сразу после старта.
type Monitor struct {
	logger   *zap.Logger
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	known  bool
	online bool
	subs   map[int]func()
	nextID int

	stopCh    chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewMonitor(pinger Pinger, interval, timeout time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		logger:   logger,
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		subs:     make(map[int]func()),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe регистрирует обработчик восстановления связи.
// Возвращает функцию отписки.
func (m *Monitor) Subscribe(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline фиксирует наблюдение и уведомляет подписчиков при переходе в онлайн
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	restored := online && (!m.online || !m.known)
	wentOffline := !online && (m.online || !m.known)
	m.online = online
	m.known = true
	var fns []func()
	if restored {
		fns = make([]func(), 0, len(m.subs))
		for _, fn := range m.subs {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if wentOffline {
		m.logger.Warn("gateway unreachable, submissions will be queued")
	}
	if restored {
		m.logger.Info("gateway reachable", zap.Int("subscribers", len(fns)))
	}
	for _, fn := range fns {
		fn()
	}
}

// Check выполняет одну проверку
func (m *Monitor) Check(ctx context.Context) bool {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	err := m.pinger.Ping(ctx)
	if err != nil {
		m.logger.Debug("ping failed", zap.Error(err))
	}
	m.SetOnline(err == nil)
	return err == nil
}

func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.loop()
	})
}

func (m *Monitor) loop() {
	defer close(m.done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	m.Check(ctx)
	if m.interval <= 0 {
		<-m.stopCh
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-m.stopCh:
			return
		}
	}
}

// Stop останавливает проверки. Можно вызывать только после Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.done
	})
}
