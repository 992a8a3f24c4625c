package sheet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
)

// fakeSheets минимальная имитация Sheets API v4 для одного листа
type fakeSheets struct {
	mu        sync.Mutex
	header    []interface{}
	rows      [][]interface{}
	dataReads int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && path == "/v4/spreadsheets/sid":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"spreadsheetId": "sid",
			"sheets": []interface{}{
				map[string]interface{}{"properties": map[string]interface{}{"sheetId": 0, "title": "Attendance"}},
			},
		})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		var vr struct {
			Values [][]interface{} `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.rows = append(f.rows, vr.Values...)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"spreadsheetId": "sid"})
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		var vr struct {
			Values [][]interface{} `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.header = vr.Values[0]
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"spreadsheetId": "sid"})
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		values := [][]interface{}{}
		if strings.Contains(path, "!A1:") {
			if f.header != nil {
				values = append(values, f.header)
			}
		} else {
			f.dataReads++
			values = f.rows
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"range": "Attendance", "majorDimension": "ROWS", "values": values})
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func (f *fakeSheets) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dataReads
}

func newTestService(t *testing.T, ttl time.Duration) (*SheetService, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewSheetService(context.Background(), "", "sid", "0", 0, nil, ttl,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatal(err)
	}
	return s, fake
}

func TestNewSheetService_ResolvesSheetName(t *testing.T) {
	s, _ := newTestService(t, 0)
	if s.SheetName != "Attendance" {
		t.Fatalf("SheetName = %q", s.SheetName)
	}
}

func TestAppendAndFindRecords(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestService(t, 0)
	if err := s.EnsureHeader(ctx); err != nil {
		t.Fatal(err)
	}
	if len(fake.header) != len(defaultColumns) || fake.header[0] != "ID" {
		t.Fatalf("unexpected header %v", fake.header)
	}

	recs := []model.AttendanceRecord{
		{ID: "1", EventID: "ev1", Name: "Ada", Email: "Ada@Example.com", Phone: "0800000001", FirstTimer: true, CreatedAt: "2026-03-08T10:00:00Z", UniqueCode: "X1"},
		{ID: "2", EventID: "ev2", Name: "Ada", Email: "ada@example.com", Phone: "0800000001", CreatedAt: "2026-03-09T10:00:00Z"},
		{ID: "3", EventID: "ev1", Name: "Bob", Email: "bob@example.com", Phone: "0800000002", CreatedAt: "2026-03-08T11:00:00Z"},
	}
	for _, r := range recs {
		if err := s.AppendRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FindRecords(ctx, domain.LookupQuery{Email: "ada@example.com", EventID: "ev1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "1" || !got[0].FirstTimer || got[0].UniqueCode != "X1" {
		t.Fatalf("got %+v", got)
	}

	got, err = s.FindRecords(ctx, domain.LookupQuery{Phone: "0800000001"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Fatalf("expected both of Ada's records in order, got %+v", got)
	}

	all, err := s.FindRecords(ctx, domain.LookupQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
}

func TestFindRecords_CacheInvalidatedOnAppend(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestService(t, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := s.FindRecords(ctx, domain.LookupQuery{}); err != nil {
			t.Fatal(err)
		}
	}
	if fake.reads() != 1 {
		t.Fatalf("expected one read, got %d", fake.reads())
	}
	if err := s.AppendRecord(ctx, model.AttendanceRecord{ID: "1", Phone: "0800000001"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.FindRecords(ctx, domain.LookupQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || fake.reads() != 2 {
		t.Fatalf("got %d records after %d reads", len(got), fake.reads())
	}
}

func TestCreateColumnMapFromOrder(t *testing.T) {
	m := CreateColumnMapFromOrder("Phone, Name ,CreatedAt")
	if m["Phone"] != 0 || m["Name"] != 1 || m["CreatedAt"] != 2 {
		t.Fatalf("got %v", m)
	}
	if len(CreateColumnMapFromOrder("")) != len(defaultColumns) {
		t.Fatal("empty order should give default map")
	}
}

func TestColumnLetter(t *testing.T) {
	tests := map[int]string{1: "A", 13: "M", 26: "Z", 27: "AA", 52: "AZ"}
	for n, want := range tests {
		if got := columnLetter(n); got != want {
			t.Errorf("columnLetter(%d) = %q, want %q", n, got, want)
		}
	}
}
