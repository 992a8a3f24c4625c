package sync_queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReconnectSource источник сигнала "связь восстановлена"
type ReconnectSource interface {
	Subscribe(fn func()) (unsubscribe func())
}

// Worker фоновая отправка очередей: по восстановлению связи, по ForceUpdate
// и по таймеру (если interval > 0).
type Worker struct {
	logger  *zap.Logger
	manager *Manager
	source  ReconnectSource

	interval      time.Duration
	forceUpdateCh chan struct{}
	stopCh        chan struct{}
	done          chan struct{}
	unsubscribe   func()
	startOnce     sync.Once
	stopOnce      sync.Once
}

func NewWorker(manager *Manager, source ReconnectSource, interval time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		logger:        logger,
		manager:       manager,
		source:        source,
		interval:      interval,
		forceUpdateCh: make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start подписывается на восстановление связи и запускает цикл
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		if w.source != nil {
			w.unsubscribe = w.source.Subscribe(func() {
				w.logger.Info("connectivity restored, flushing queues")
				w.ForceUpdate()
			})
		}
		go w.backgroundSync()
	})
}

func (w *Worker) backgroundSync() {
	defer close(w.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			w.flush(ctx)
		case <-w.forceUpdateCh:
			w.flush(ctx)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) flush(ctx context.Context) {
	delivered, err := w.manager.FlushAll(ctx)
	if err != nil {
		w.logger.Error("error flushing queues", zap.Error(err))
	}
	if len(delivered) > 0 {
		w.logger.Info("background flush delivered records", zap.Int("count", len(delivered)))
	}
}

// ForceUpdate немедленно запускает синхронизацию
func (w *Worker) ForceUpdate() {
	select {
	case w.forceUpdateCh <- struct{}{}:
	default:
	}
}

// Stop отписывается от сигналов связи и ждет завершения цикла.
// Можно вызывать только после Start.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
		close(w.stopCh)
		<-w.done
	})
}
