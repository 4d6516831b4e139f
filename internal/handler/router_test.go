package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/vintedwatch/internal/ingest"
	"github.com/hitoshi/vintedwatch/internal/middleware"
	"github.com/hitoshi/vintedwatch/internal/model"
)

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error { return m.err }

type recordingStatus struct{ codes []int }

func (r *recordingStatus) RecordHTTPStatus(code int) { r.codes = append(r.codes, code) }

func newTestRouter(t *testing.T, rl *middleware.RateLimiter, status middleware.StatusRecorder) http.Handler {
	t.Helper()
	return NewRouter(&RouterDeps{
		HealthChecker:     &mockHealthChecker{},
		MetricsHandler:    http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
		StatusRecorder:    status,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		QueryService: &mockQueryService{
			listFn: func(context.Context) ([]*model.SavedQuery, error) { return nil, nil },
		},
		IngestService: &mockIngestService{
			fetchFn: func(_ context.Context, queryID string) (*ingest.FetchSummary, error) {
				return &ingest.FetchSummary{QueryID: queryID, Source: model.FetchSourceLive}, nil
			},
			itemsFn: func(context.Context, string, int) ([]*model.StoredItem, error) { return nil, nil },
		},
		StatsService: &mockStatsService{
			computeFn: func(_ context.Context, queryID string) (*model.DailyStat, error) {
				return &model.DailyStat{QueryID: queryID, Day: "2026-03-01"}, nil
			},
			historyFn: func(context.Context, string) ([]*model.DailyStat, error) { return nil, nil },
		},
	})
}

func TestNewRouter_Routes(t *testing.T) {
	status := &recordingStatus{}
	router := newTestRouter(t, nil, status)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/vinted/queries", http.StatusOK},
		{http.MethodPost, "/api/vinted/queries/q-1/fetch", http.StatusOK},
		{http.MethodGet, "/api/vinted/queries/q-1/items", http.StatusOK},
		{http.MethodPost, "/api/vinted/queries/q-1/stats", http.StatusOK},
		{http.MethodGet, "/api/vinted/queries/q-1/stats", http.StatusOK},
		{http.MethodDelete, "/api/vinted/queries/q-1/stats", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/feeds", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if w.Header().Get("X-Content-Type-Options") != "nosniff" {
				t.Error("security headers missing")
			}
		})
	}

	if len(status.codes) != len(tests) {
		t.Errorf("recorded %d statuses, want %d", len(status.codes), len(tests))
	}
}

func TestNewRouter_CreateQueryEndToEnd(t *testing.T) {
	router := NewRouter(&RouterDeps{
		CORSAllowedOrigin: "*",
		QueryService: &mockQueryService{
			createFn: func(_ context.Context, name string, filters model.QueryFilters) (*model.SavedQuery, error) {
				return &model.SavedQuery{ID: "q-9", Name: name, Filters: filters}, nil
			},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/vinted/queries", strings.NewReader(`{"name":"dress"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"id":"q-9"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestNewRouter_FetchRateLimited(t *testing.T) {
	cfg := middleware.NewRateLimiterConfig(120, 1)
	rl := middleware.NewRateLimiter(cfg, nil)
	defer rl.Stop()
	router := newTestRouter(t, rl, nil)

	send := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "192.0.2.50:1000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if got := send(http.MethodPost, "/api/vinted/queries/q-1/fetch"); got != http.StatusOK {
		t.Errorf("first fetch = %d, want 200", got)
	}
	if got := send(http.MethodPost, "/api/vinted/queries/q-1/fetch"); got != http.StatusTooManyRequests {
		t.Errorf("second fetch = %d, want 429", got)
	}
	if got := send(http.MethodGet, "/api/vinted/queries/q-1/stats"); got != http.StatusOK {
		t.Errorf("stats after fetch limit = %d, want 200", got)
	}
}

func TestHealth_Unavailable(t *testing.T) {
	w := httptest.NewRecorder()
	Health(&mockHealthChecker{err: errors.New("db down")})(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"unavailable"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}
