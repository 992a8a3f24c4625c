package form

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"attendance_bot/internal/model"
	"attendance_bot/internal/repository/memory"
	"attendance_bot/internal/service/gateway/gatewaytest"
	"attendance_bot/internal/service/identity"
	"attendance_bot/internal/service/localstore"
	"attendance_bot/internal/service/sync_queue"
)

var testNow = time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

type env struct {
	store   *localstore.Store
	gw      *gatewaytest.Fake
	manager *sync_queue.Manager
	form    *Controller
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
	return env{store: store, gw: gw, manager: manager, form: NewController("ev1", resolver, store, logger)}
}

func fill(t *testing.T, c *Controller, phone string) {
	t.Helper()
	fields := map[Field]string{
		FieldName:        "Ada Lovelace",
		FieldEmail:       "ada@example.com",
		FieldPhone:       phone,
		FieldAddress:     "12 St James's Square",
		FieldOccupation:  "Engineer",
		FieldGender:      "Female",
		FieldNationality: "British",
		FieldFirstTimer:  "yes",
	}
	for f, v := range fields {
		if err := c.Set(f, v); err != nil {
			t.Fatal(err)
		}
	}
}

func TestValidate_ReportsMissingFields(t *testing.T) {
	e := newEnv(t)
	if err := e.form.Set(FieldEmail, "not-an-email"); err != nil {
		t.Fatal(err)
	}
	if err := e.form.Set(FieldPhone, "123"); err != nil {
		t.Fatal(err)
	}

	err := e.form.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, name := range []string{"name", "email", "phone", "address", "occupation", "gender", "nationality", "firstTimer"} {
		if _, ok := verr.Fields[name]; !ok {
			t.Errorf("expected error for %s", name)
		}
	}
	if _, ok := verr.Fields["department"]; ok {
		t.Error("department is optional")
	}
	if e.form.State() != StateEditing {
		t.Fatalf("state = %v", e.form.State())
	}
}

func TestValidate_FirstTimerNoIsAnswered(t *testing.T) {
	e := newEnv(t)
	fill(t, e.form, "0800000001")
	if err := e.form.Set(FieldFirstTimer, "no"); err != nil {
		t.Fatal(err)
	}
	if err := e.form.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSet_RejectsUnknownField(t *testing.T) {
	e := newEnv(t)
	if err := e.form.Set("shoeSize", "42"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("got %v", err)
	}
	if err := e.form.Set(FieldFirstTimer, "maybe"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("got %v", err)
	}
}

func TestSubmit_Online(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	fill(t, e.form, "0800000001")

	out, err := e.form.Submit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateSucceeded || out.Record.UniqueCode == "" {
		t.Fatalf("got %+v", out)
	}
	if e.form.State() != StateSucceeded || e.form.Result().UniqueCode != out.Record.UniqueCode {
		t.Fatalf("controller result %+v", e.form.Result())
	}
	if q := e.store.GetQueue(ctx, "ev1"); len(q) != 0 {
		t.Fatalf("queue should be empty, got %d", len(q))
	}
	if _, err := e.form.Submit(ctx); !errors.Is(err, ErrFinished) {
		t.Fatalf("second submit: %v", err)
	}
}

func TestSubmit_OfflineRegistration(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.gw.SetOffline(true)
	fill(t, e.form, "0800000001")

	out, err := e.form.Submit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateQueuedOffline || out.Record.UniqueCode != "" {
		t.Fatalf("got %+v", out)
	}
	q := e.store.GetQueue(ctx, "ev1")
	if len(q) != 1 || q[0].ID != out.Record.ID {
		t.Fatalf("record should be queued, got %+v", q)
	}

	e.gw.SetOffline(false)
	if _, err := e.manager.FlushAll(ctx); err != nil {
		t.Fatal(err)
	}
	if q := e.store.GetQueue(ctx, "ev1"); len(q) != 0 {
		t.Fatalf("queue should drain, got %d", len(q))
	}
	p, ok := e.store.GetProfile(ctx, "0800000001")
	if !ok || p.UniqueCode == "" {
		t.Fatalf("profile should carry the server code, got %+v", p)
	}
}

func TestSubmit_StoreFailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	e := newEnvWithSnapshot(t, filepath.Join(dir, "store.gob"))
	fill(t, e.form, "0800000001")
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	out, err := e.form.Submit(ctx)
	if err == nil || out.State != StateEditing {
		t.Fatalf("got %+v err=%v", out, err)
	}
	if q := e.store.GetQueue(ctx, "ev1"); len(q) != 0 {
		t.Fatalf("failed submit must not stay queued, got %d", len(q))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	out, err = e.form.Submit(ctx)
	if err != nil || out.State != StateSucceeded {
		t.Fatalf("retry: got %+v err=%v", out, err)
	}
}

func TestSubmit_BlockedByPhoneBlurStaysBlocked(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, model.AttendanceRecord{
		ID: "r1", EventID: "ev1", Phone: "0800000001", CreatedAt: "2026-03-08T08:00:00Z",
	})
	fill(t, e.form, "0800000001")

	check := e.form.PhoneBlur(ctx)
	if !check.AlreadyCheckedIn || e.form.State() != StateBlocked {
		t.Fatalf("expected blocked, got %+v state=%v", check, e.form.State())
	}

	if err := e.form.Validate(); err != nil {
		t.Fatal(err)
	}
	if e.form.State() != StateBlocked {
		t.Fatalf("validation must not unblock, state=%v", e.form.State())
	}

	// шлюз упал, но дубль уже подтвержден
	e.gw.SetLookupDown(true)
	if _, err := e.form.Submit(ctx); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("got %v", err)
	}
	if calls := e.gw.AppendCalls(); len(calls) != 0 {
		t.Fatalf("nothing should be sent, got %v", calls)
	}

	if err := e.form.Set(FieldPhone, "0800000002"); err != nil {
		t.Fatal(err)
	}
	if e.form.State() != StateEditing || e.form.Duplicate() != nil {
		t.Fatalf("changing phone should unblock, state=%v", e.form.State())
	}
}

func TestSubmit_FinalGuardBlocks(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, model.AttendanceRecord{
		ID: "r1", EventID: "ev1", Phone: "0800000001", CreatedAt: "2026-03-08T08:00:00Z",
	})
	fill(t, e.form, "0800000001")
	out, err := e.form.Submit(ctx)
	if !errors.Is(err, ErrDuplicate) || out.State != StateBlocked {
		t.Fatalf("got %+v err=%v", out, err)
	}
}

func TestSubmit_LookupFailureFailsOpen(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.gw.SetLookupDown(true)
	fill(t, e.form, "0800000001")
	out, err := e.form.Submit(ctx)
	if err != nil || out.State != StateSucceeded {
		t.Fatalf("got %+v err=%v", out, err)
	}
}

func TestEmailBlur_Prefills(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, model.AttendanceRecord{
		ID: "r1", EventID: "ev1", Name: "Ada", Email: "ada@example.com", Phone: "0800000001",
		Occupation: "Engineer", CreatedAt: "2026-02-01T10:00:00Z",
	})
	if err := e.form.Set(FieldEmail, "ada@example.com"); err != nil {
		t.Fatal(err)
	}
	if !e.form.EmailBlur(ctx) {
		t.Fatal("expected prefill")
	}
	v := e.form.Values()
	if v.Name != "Ada" || v.Phone != "0800000001" || v.Occupation != "Engineer" {
		t.Fatalf("got %+v", v)
	}
	if e.form.Notice() != identity.PrefillNotice {
		t.Fatalf("notice = %q", e.form.Notice())
	}
}

func TestPhoneBlur_OfferAppliedOnlyOnAccept(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, model.AttendanceRecord{
		ID: "r1", EventID: "ev0", Name: "Ada", Email: "ada@example.com", Phone: "0800000001",
		CreatedAt: "2026-02-01T10:00:00Z",
	})
	if err := e.form.Set(FieldPhone, "0800000001"); err != nil {
		t.Fatal(err)
	}
	check := e.form.PhoneBlur(ctx)
	if check.Offer == nil {
		t.Fatal("expected offer")
	}
	if v := e.form.Values(); v.Name != "" {
		t.Fatalf("offer must not be applied silently, got %+v", v)
	}
	if !e.form.AcceptOffer() {
		t.Fatal("accept failed")
	}
	if v := e.form.Values(); v.Name != "Ada" || v.Email != "ada@example.com" {
		t.Fatalf("got %+v", v)
	}
	if e.form.AcceptOffer() {
		t.Fatal("offer should be consumed")
	}
}
