package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type switchPinger struct{ up atomic.Bool }

func (p *switchPinger) Ping(context.Context) error {
	if p.up.Load() {
		return nil
	}
	return errors.New("down")
}

func TestMonitor_NotifiesOnlyOnTransitionToOnline(t *testing.T) {
	m := NewMonitor(&switchPinger{}, 0, time.Second, zaptest.NewLogger(t))
	var calls atomic.Int32
	m.Subscribe(func() { calls.Add(1) })

	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(true)

	if got := calls.Load(); got != 2 {
		t.Fatalf("notifications = %d, want 2", got)
	}
}

func TestMonitor_FirstOnlineObservationNotifies(t *testing.T) {
	m := NewMonitor(&switchPinger{}, 0, time.Second, zaptest.NewLogger(t))
	var calls atomic.Int32
	m.Subscribe(func() { calls.Add(1) })
	m.SetOnline(true)
	if calls.Load() != 1 {
		t.Fatal("first online observation must notify")
	}
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(&switchPinger{}, 0, time.Second, zaptest.NewLogger(t))
	var calls atomic.Int32
	cancel := m.Subscribe(func() { calls.Add(1) })
	cancel()
	m.SetOnline(true)
	if calls.Load() != 0 {
		t.Fatal("unsubscribed handler was called")
	}
}

func TestMonitor_CheckUsesPinger(t *testing.T) {
	p := &switchPinger{}
	m := NewMonitor(p, 0, time.Second, zaptest.NewLogger(t))
	if m.Check(context.Background()) || m.Online() {
		t.Fatal("monitor must be offline when ping fails")
	}
	p.up.Store(true)
	if !m.Check(context.Background()) || !m.Online() {
		t.Fatal("monitor must be online when ping succeeds")
	}
}

func TestMonitor_StartStop(t *testing.T) {
	p := &switchPinger{}
	p.up.Store(true)
	m := NewMonitor(p, 10*time.Millisecond, time.Second, zaptest.NewLogger(t))
	notified := make(chan struct{}, 1)
	m.Subscribe(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	m.Start()
	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after start")
	}
	m.Stop()
}
