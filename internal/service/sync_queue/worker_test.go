package sync_queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"attendance_bot/internal/service/gateway/gatewaytest"
)

type fakeSource struct {
	mu   sync.Mutex
	subs map[int]func()
	next int
}

func (s *fakeSource) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[int]func(){}
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *fakeSource) restore() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorker_FlushesOnReconnect(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := gatewaytest.New()
	gw.SetOffline(true)
	src := &fakeSource{}
	w := NewWorker(NewManager(store, gw, zaptest.NewLogger(t)), src, 0, zaptest.NewLogger(t))
	w.Start()
	defer w.Stop()

	enqueue(t, store, "e1", "1", "0800000001")
	gw.SetOffline(false)
	src.restore()

	waitFor(t, func() bool { return len(store.GetQueue(ctx, "e1")) == 0 })
	if len(gw.Records()) != 1 {
		t.Fatalf("accepted %d records, want 1", len(gw.Records()))
	}
}

func TestWorker_StopUnsubscribes(t *testing.T) {
	src := &fakeSource{}
	w := NewWorker(NewManager(newStore(t), gatewaytest.New(), zaptest.NewLogger(t)), src, time.Hour, zaptest.NewLogger(t))
	w.Start()
	if src.count() != 1 {
		t.Fatalf("subscriptions = %d, want 1", src.count())
	}
	w.Stop()
	w.Stop()
	if src.count() != 0 {
		t.Fatalf("subscriptions after Stop = %d, want 0", src.count())
	}
}

func TestWorker_ForceUpdateDoesNotBlock(t *testing.T) {
	w := NewWorker(NewManager(newStore(t), gatewaytest.New(), zaptest.NewLogger(t)), nil, 0, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		w.ForceUpdate()
	}
}
