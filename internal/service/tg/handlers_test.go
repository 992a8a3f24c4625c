package tg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"attendance_bot/internal/model"
	"attendance_bot/internal/repository/memory"
	"attendance_bot/internal/service/gateway/gatewaytest"
	"attendance_bot/internal/service/identity"
	"attendance_bot/internal/service/localstore"
	"attendance_bot/internal/service/sync_queue"
	"attendance_bot/pkg/tgbotapisfm"
	"attendance_bot/pkg/tgbotapisfm/tgtest"
)

const userID = 42

var testNow = time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

type countingSyncer struct {
	calls atomic.Int32
}

func (s *countingSyncer) ForceUpdate() {
	s.calls.Add(1)
}

type staticConn bool

func (c staticConn) Online() bool { return bool(c) }

type env struct {
	bot    *tgbotapisfm.Bot
	srv    *tgtest.Server
	store  *localstore.Store
	gw     *gatewaytest.Fake
	syncer *countingSyncer
}

func newEnv(t *testing.T, seed ...model.AttendanceRecord) env {
	t.Helper()
	return newEnvWithSnapshot(t, "", seed...)
}

func newEnvWithSnapshot(t *testing.T, snapshot string, seed ...model.AttendanceRecord) env {
	t.Helper()
	kv, err := memory.NewKVRepository(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	logger := zaptest.NewLogger(t)
	store := localstore.New(kv, "", logger)
	gw := gatewaytest.New(seed...)
	manager := sync_queue.NewManager(store, gw, logger)
	resolver := identity.NewResolver(gw, store, manager, logger).WithClock(func() time.Time { return testNow })
	syncer := &countingSyncer{}

	h := NewTGHandler(resolver, store, syncer, manager, "default-event", 5*time.Second, logger).
		WithConnectivity(staticConn(true))
	srv := tgtest.NewServer(t)
	bot, err := tgbotapisfm.NewBot(tgbotapisfm.Config{
		Token:        "token",
		States:       h.StatesMap(),
		InitialState: StateMenu,
		APIEndpoint:  srv.Endpoint(),
		HTTPClient:   srv.Client(),
		Limiter:      tgbotapisfm.NewLimiterWithPauses(0, 0),
	}, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	return env{bot: bot, srv: srv, store: store, gw: gw, syncer: syncer}
}

func (e env) say(t *testing.T, text string) string {
	t.Helper()
	if err := e.bot.HandleUpdate(tgtest.Message(userID, text)); err != nil {
		t.Fatalf("%q: %v", text, err)
	}
	return e.srv.Last().Text
}

func expect(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Fatalf("expected reply containing %q, got %q", want, got)
	}
}

func TestStart_SelectsEvent(t *testing.T) {
	e := newEnv(t)
	expect(t, e.say(t, "/start ev1"), "event ev1")
	expect(t, e.say(t, "/start"), "event default-event")
}

func TestQuickCheckIn_CachedProfile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	if _, err := e.store.SaveProfile(ctx, "0800000001", model.UserProfile{Name: "Ada", Phone: "0800000001"}); err != nil {
		t.Fatal(err)
	}
	e.say(t, "/start ev1")
	expect(t, e.say(t, "Quick check-in"), "phone number")
	expect(t, e.say(t, "123"), "valid phone")
	expect(t, e.say(t, "0800 000 001"), "Welcome back, Ada! You are checked in. Your code: CODE1")

	e.say(t, "Quick check-in")
	expect(t, e.say(t, "0800000001"), "already checked in")
}

func TestQuickCheckIn_UnknownStartsRegistration(t *testing.T) {
	e := newEnv(t)
	e.say(t, "/start ev1")
	e.say(t, "Quick check-in")
	expect(t, e.say(t, "0800000009"), "Enter your email")
	msgs := e.srv.Messages()
	expect(t, msgs[len(msgs)-2].Text, "could not find you")
}

func TestQuickCheckIn_StoreFailureIsReported(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	e := newEnvWithSnapshot(t, filepath.Join(dir, "store.gob"))
	if _, err := e.store.SaveProfile(ctx, "0800000001", model.UserProfile{Name: "Ada", Phone: "0800000001"}); err != nil {
		t.Fatal(err)
	}
	e.say(t, "/start ev1")
	e.say(t, "Quick check-in")

	// снимок больше некуда писать
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	expect(t, e.say(t, "0800000001"), "could not save your check-in")
	if q := e.store.GetQueue(ctx, "ev1"); len(q) != 0 {
		t.Fatalf("nothing should stay queued, got %d", len(q))
	}
}

func TestRegistration_OfflineQueues(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.gw.SetOffline(true)

	e.say(t, "/start ev1")
	expect(t, e.say(t, "Register"), "email")
	expect(t, e.say(t, "not-an-email"), "valid email")
	expect(t, e.say(t, "ada@example.com"), "phone")
	expect(t, e.say(t, "0800000001"), "full name")
	expect(t, e.say(t, "ada lovelace"), "address")
	expect(t, e.say(t, "12 St James's Square"), "occupation")
	expect(t, e.say(t, "Engineer"), "gender")
	expect(t, e.say(t, "Female"), "nationality")
	expect(t, e.say(t, "British"), "department")
	expect(t, e.say(t, "Skip"), "first time")
	expect(t, e.say(t, "maybe"), "Yes or No")
	summary := e.say(t, "Yes")
	expect(t, summary, "Name: Ada Lovelace")
	expect(t, summary, "Department: -")
	expect(t, e.say(t, "Submit"), "saved offline")

	q := e.store.GetQueue(ctx, "ev1")
	if len(q) != 1 || q[0].Name != "Ada Lovelace" || q[0].UniqueCode != "" {
		t.Fatalf("unexpected queue %+v", q)
	}
}

func TestRegistration_PhoneAlreadyCheckedIn(t *testing.T) {
	e := newEnv(t, model.AttendanceRecord{
		ID: "r1", EventID: "ev1", Name: "Ada", Phone: "0800000001", CreatedAt: "2026-03-08T08:00:00Z",
	})
	e.say(t, "/start ev1")
	e.say(t, "Register")
	e.say(t, "ada@example.com")
	expect(t, e.say(t, "0800000001"), "already checked in")
	if s, _ := e.bot.GetUserState(userID); s != StateMenu {
		t.Fatalf("state = %q", s)
	}
}

func TestRegistration_OfferAccepted(t *testing.T) {
	e := newEnv(t, model.AttendanceRecord{
		ID: "r1", EventID: "ev0", Name: "Ada Lovelace", Email: "ada@example.com", Phone: "0800000001",
		Address: "12 St James's Square", Occupation: "Engineer", Gender: "Female", Nationality: "British",
		CreatedAt: "2026-02-01T10:00:00Z",
	})
	e.say(t, "/start ev1")
	e.say(t, "Register")
	e.say(t, "someone@example.com")
	expect(t, e.say(t, "0800000001"), "saved details for Ada Lovelace")
	expect(t, e.say(t, "Yes"), "department")
	e.say(t, "Skip")
	e.say(t, "No")
	expect(t, e.say(t, "Submit"), "Registration complete! Your code: CODE1")
}

func TestStatusAndSync(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	expect(t, e.say(t, "/status"), "Nothing pending")

	if _, err := e.store.Enqueue(ctx, "ev1", model.AttendanceRecord{Phone: "0800000001"}); err != nil {
		t.Fatal(err)
	}
	reply := e.say(t, "/status")
	expect(t, reply, "ev1: 1 pending")
	expect(t, reply, "Gateway: online")

	expect(t, e.say(t, "/sync"), "Sync started")
	if e.syncer.calls.Load() != 1 {
		t.Fatal("sync not triggered")
	}
}

func TestNormalizeName(t *testing.T) {
	if got := normalizeName("  ada   LOVELACE "); got != "Ada Lovelace" {
		t.Fatalf("got %q", got)
	}
}
