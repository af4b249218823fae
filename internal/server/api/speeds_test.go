package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/speedcam/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func seedSpeeds(t *testing.T, s *store.Store) time.Time {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	records := []*store.SpeedRecord{
		{ID: "a", LogTimestamp: now.Add(-3 * time.Hour), AveSpeed: 22.5, Direction: "L2R", SpeedUnits: "mph"},
		{ID: "b", LogTimestamp: now.Add(-2 * time.Hour), AveSpeed: 41.0, Direction: "R2L", SpeedUnits: "mph"},
		{ID: "c", LogTimestamp: now.Add(-1 * time.Hour), AveSpeed: 35.2, Direction: "L2R", SpeedUnits: "mph"},
	}
	for _, rec := range records {
		if err := s.Speeds().Create(rec); err != nil {
			t.Fatalf("failed to create speed record: %v", err)
		}
	}
	return now
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp listSpeedsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	ids := make([]string, len(resp.Speeds))
	for i, r := range resp.Speeds {
		ids[i] = r.ID
	}
	return ids
}

func TestSpeedHandler_List(t *testing.T) {
	s := newTestStore(t)
	now := seedSpeeds(t, s)
	handler := NewSpeedHandler(s)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all newest first", "", []string{"c", "b", "a"}},
		{"direction", "?direction=l2r", []string{"c", "a"}},
		{"min speed", "?min_speed=30", []string{"c", "b"}},
		{"limit", "?limit=1", []string{"c"}},
		{"since", "?since=" + now.Add(-150*time.Minute).Format(time.RFC3339), []string{"c", "b"}},
		{"until", "?until=" + strings.ReplaceAll(now.Add(-150*time.Minute).Format(store.TimestampLayout), " ", "%20"), []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/speeds"+tt.query, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
			}
			got := decodeList(t, rec)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSpeedHandler_List_Empty(t *testing.T) {
	handler := NewSpeedHandler(newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/speeds", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `"speeds":[]`) {
		t.Errorf("expected an empty array, got %s", rec.Body.String())
	}
}

func TestSpeedHandler_List_BadQuery(t *testing.T) {
	handler := NewSpeedHandler(newTestStore(t))

	for _, q := range []string{"?direction=up", "?min_speed=fast", "?limit=-1", "?since=yesterday"} {
		req := httptest.NewRequest(http.MethodGet, "/api/speeds"+q, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status %d, got %d", q, http.StatusBadRequest, rec.Code)
		}
	}
}

func TestSpeedHandler_Get(t *testing.T) {
	s := newTestStore(t)
	seedSpeeds(t, s)
	handler := NewSpeedHandler(s)

	req := httptest.NewRequest(http.MethodGet, "/api/speeds/b", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var got store.SpeedRecord
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.AveSpeed != 41.0 || got.Direction != "R2L" {
		t.Errorf("unexpected record %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/speeds/missing", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSpeedHandler_UpdateStatus(t *testing.T) {
	s := newTestStore(t)
	seedSpeeds(t, s)
	handler := NewSpeedHandler(s)

	body := bytes.NewBufferString(`{"status": "plate:ABC123"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/speeds/a", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	got, err := s.Speeds().GetByID("a")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != "plate:ABC123" {
		t.Errorf("status = %q, want plate:ABC123", got.Status)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/speeds/a", bytes.NewBufferString("nope"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/speeds/zzz", bytes.NewBufferString(`{"status":"x"}`))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSpeedHandler_Delete(t *testing.T) {
	s := newTestStore(t)
	seedSpeeds(t, s)
	handler := NewSpeedHandler(s)

	req := httptest.NewRequest(http.MethodDelete, "/api/speeds/c", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/speeds/c", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSpeedHandler_Summary(t *testing.T) {
	s := newTestStore(t)
	seedSpeeds(t, s)
	handler := NewSpeedHandler(s)

	req := httptest.NewRequest(http.MethodGet, "/api/speeds/summary?group=month&days=2&over=30", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var resp summaryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Group != "month" || resp.Days != 2 || resp.MinSpeed != 30 {
		t.Errorf("unexpected options echo %+v", resp)
	}
	total := 0
	for _, b := range resp.Buckets {
		total += b.Count
	}
	if total != 2 {
		t.Errorf("expected 2 records over 30, got %d", total)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/speeds/summary?group=week", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestSpeedHandler_MethodNotAllowed(t *testing.T) {
	handler := NewSpeedHandler(newTestStore(t))

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/speeds"},
		{http.MethodDelete, "/api/speeds/summary"},
		{http.MethodPut, "/api/speeds/abc"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected status %d, got %d", tt.method, tt.path, http.StatusMethodNotAllowed, rec.Code)
		}
	}
}

func TestParseSummaryOptions_Defaults(t *testing.T) {
	opts, err := ParseSummaryOptions(httptest.NewRequest(http.MethodGet, "/api/speeds/summary", nil))
	if err != nil {
		t.Fatalf("ParseSummaryOptions() error = %v", err)
	}
	if opts.Group != store.GroupHour || opts.Days != 7 || opts.MinSpeed != 0 {
		t.Errorf("unexpected defaults %+v", opts)
	}
}
