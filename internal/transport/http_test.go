package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/wrapcycler/internal/storage"
	"github.com/gateway-fm/wrapcycler/pkg/types"
)

type fakeStatus struct {
	mu   sync.Mutex
	snap types.RunMetrics
}

func (f *fakeStatus) Snapshot() types.RunMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

type fakeHistory struct {
	runs        []storage.Run
	detail      *storage.RunDetail
	err         error
	gotLimit    int
	gotOffset   int
	gotDetailID string
}

func (f *fakeHistory) ListRuns(_ context.Context, limit, offset int) (*storage.PaginatedRuns, error) {
	f.gotLimit, f.gotOffset = limit, offset
	if f.err != nil {
		return nil, f.err
	}
	return &storage.PaginatedRuns{Runs: f.runs, Total: len(f.runs), Limit: limit, Offset: offset}, nil
}

func (f *fakeHistory) GetRun(_ context.Context, id string) (*storage.RunDetail, error) {
	f.gotDetailID = id
	return f.detail, f.err
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Status == nil {
		cfg.Status = &fakeStatus{}
	}
	s := NewServer(cfg)
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleStatus(t *testing.T) {
	status := &fakeStatus{snap: types.RunMetrics{
		Status:         types.StatusRunning,
		RunID:          "run-1",
		Iteration:      2,
		Iterations:     14,
		WrapsConfirmed: 5,
	}}
	h := newTestServer(t, Config{Status: status}).Handler()

	rec := do(t, h, http.MethodGet, "/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got types.RunMetrics
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" || got.Iteration != 2 || got.WrapsConfirmed != 5 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, Config{}).Handler()
	rec := do(t, h, http.MethodPost, "/v1/status")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /v1/status = %d, want 405", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed string
		origin  string
		want    string
	}{
		{"allow all", "*", "http://a.example", "*"},
		{"empty means all", "", "http://a.example", "*"},
		{"listed origin", "http://a.example, http://b.example", "http://b.example", "http://b.example"},
		{"unlisted origin", "http://a.example", "http://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, Config{CORSAllowedOrigins: tt.allowed}).Handler()
			req := httptest.NewRequest(http.MethodOptions, "/v1/status", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("OPTIONS status = %d, want 200", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandleRuns(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", DefaultPageSize, 0},
		{"explicit", "?limit=10&offset=20", 10, 20},
		{"limit above max ignored", "?limit=5000", DefaultPageSize, 0},
		{"negative offset ignored", "?offset=-3", DefaultPageSize, 0},
		{"garbage ignored", "?limit=abc&offset=xyz", DefaultPageSize, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &fakeHistory{runs: []storage.Run{{ID: "a"}, {ID: "b"}}}
			h := newTestServer(t, Config{History: history}).Handler()

			rec := do(t, h, http.MethodGet, "/v1/runs"+tt.query)
			if rec.Code != http.StatusOK {
				t.Fatalf("status code = %d, want 200", rec.Code)
			}
			if history.gotLimit != tt.wantLimit || history.gotOffset != tt.wantOffset {
				t.Errorf("ListRuns(%d, %d), want (%d, %d)",
					history.gotLimit, history.gotOffset, tt.wantLimit, tt.wantOffset)
			}
			var page storage.PaginatedRuns
			if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if page.Total != 2 || len(page.Runs) != 2 {
				t.Errorf("page = %+v", page)
			}
		})
	}
}

func TestHistoryErrors(t *testing.T) {
	tests := []struct {
		name    string
		history History
		path    string
		want    int
	}{
		{"runs disabled", nil, "/v1/runs", http.StatusServiceUnavailable},
		{"detail disabled", nil, "/v1/runs/abc", http.StatusServiceUnavailable},
		{"runs store failure", &fakeHistory{err: errors.New("disk gone")}, "/v1/runs", http.StatusInternalServerError},
		{"detail store failure", &fakeHistory{err: errors.New("disk gone")}, "/v1/runs/abc", http.StatusInternalServerError},
		{"detail not found", &fakeHistory{}, "/v1/runs/missing", http.StatusNotFound},
		{"detail without id", &fakeHistory{}, "/v1/runs/", http.StatusBadRequest},
		{"nested path", &fakeHistory{}, "/v1/runs/abc/cycles", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, Config{History: tt.history}).Handler()
			rec := do(t, h, http.MethodGet, tt.path)
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Errorf("error body = %v, %v", body, err)
			}
		})
	}
}

func TestHandleRunDetail(t *testing.T) {
	history := &fakeHistory{detail: &storage.RunDetail{
		Run: &storage.Run{ID: "abc", Status: types.StatusCompleted},
		Cycles: []storage.CycleRecord{{
			Iteration: 1,
			Wallet:    "0xf39F",
			Status:    types.CycleCompleted,
		}},
	}}
	h := newTestServer(t, Config{History: history}).Handler()

	rec := do(t, h, http.MethodGet, "/v1/runs/abc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if history.gotDetailID != "abc" {
		t.Errorf("GetRun(%q), want abc", history.gotDetailID)
	}
	var got storage.RunDetail
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Run == nil || got.Run.ID != "abc" || len(got.Cycles) != 1 {
		t.Errorf("detail = %+v", got)
	}
}

func TestHealthAndReady(t *testing.T) {
	t.Run("health", func(t *testing.T) {
		h := newTestServer(t, Config{}).Handler()
		rec := do(t, h, http.MethodGet, "/health")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy"`) {
			t.Errorf("GET /health = %d %s", rec.Code, rec.Body)
		}
	})

	tests := []struct {
		name   string
		health HealthChecker
		want   int
	}{
		{"no checker", nil, http.StatusOK},
		{"rpc ok", HealthFunc(func(context.Context) error { return nil }), http.StatusOK},
		{"rpc down", HealthFunc(func(context.Context) error { return errors.New("dial tcp: refused") }), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run("ready/"+tt.name, func(t *testing.T) {
			h := newTestServer(t, Config{Health: tt.health}).Handler()
			rec := do(t, h, http.MethodGet, "/ready")
			if rec.Code != tt.want {
				t.Errorf("GET /ready = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMetricsUsesGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "wrapcycler_test_total",
		Help: "test counter",
	}).Inc()

	h := newTestServer(t, Config{Gatherer: reg}).Handler()
	rec := do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wrapcycler_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body)
	}
}

func TestWebSocketStreamsSnapshots(t *testing.T) {
	status := &fakeStatus{snap: types.RunMetrics{Status: types.StatusRunning, RunID: "ws-run"}}
	s := newTestServer(t, Config{Status: status, BroadcastInterval: 10 * time.Millisecond})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// initial snapshot plus at least one broadcast
	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got types.RunMetrics
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("ReadJSON() #%d error = %v", i, err)
		}
		if got.RunID != "ws-run" {
			t.Errorf("message #%d RunID = %q, want ws-run", i, got.RunID)
		}
	}

	if n := s.wsServer.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, Config{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("Dial() from foreign origin succeeded, want rejection")
	}
}

func TestWebSocketStopIsIdempotent(t *testing.T) {
	ws := NewWebSocketServer(&fakeStatus{}, time.Millisecond, nil)
	ws.Start()
	ws.Stop()
	ws.Stop()
}
