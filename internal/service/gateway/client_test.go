package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
)

func TestAppend_ReturnsEnrichedRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/attendance" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var rec model.AttendanceRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Errorf("decode body: %v", err)
		}
		rec.UniqueCode = "ABC123"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": rec.ID, "eventId": rec.EventID, "phone": rec.Phone, "uniqueCode": rec.UniqueCode,
			"unexpected": "ignored",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, srv.Client())
	got, err := c.Append(context.Background(), model.AttendanceRecord{ID: "1", EventID: "e", Phone: "0800000001"})
	if err != nil {
		t.Fatal(err)
	}
	if got.UniqueCode != "ABC123" || got.ID != "1" {
		t.Errorf("unexpected response: %+v", got)
	}
}

func TestAppend_EmptyBodyFallsBackToSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sent := model.AttendanceRecord{ID: "1", Name: "Ada"}
	got, err := NewClient(srv.URL, time.Second, nil).Append(context.Background(), sent)
	if err != nil {
		t.Fatal(err)
	}
	if got != sent {
		t.Errorf("got %+v, want sent record", got)
	}
}

func TestAppend_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"persist failed"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, nil).Append(context.Background(), model.AttendanceRecord{})
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestAppend_TimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, 50*time.Millisecond, nil).Append(context.Background(), model.AttendanceRecord{})
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable on timeout", err)
	}
}

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/lookup" || q.Get("phone") != "0800000001" || q.Get("eventId") != "e1" || q.Has("email") {
			t.Errorf("unexpected query %s", r.URL.String())
		}
		_ = json.NewEncoder(w).Encode([]model.AttendanceRecord{{Name: "Ada", Phone: "0800000001"}})
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, time.Second, nil).Lookup(context.Background(), domain.LookupQuery{Phone: "0800000001", EventID: "e1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Ada" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestLookup_RequiresCriteria(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:0", time.Second, nil).Lookup(context.Background(), domain.LookupQuery{EventID: "e1"})
	if !errors.Is(err, domain.ErrLookupCriteria) {
		t.Fatalf("err = %v, want ErrLookupCriteria", err)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	c := NewClient(srv.URL, time.Second, nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping on live server: %v", err)
	}
	srv.Close()
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("Ping on closed server must fail")
	}
}
