package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
	"github.com/alanyoungcy/jupiterarb/internal/server/handler"
	"github.com/alanyoungcy/jupiterarb/internal/server/ws"
)

type fakeScanner struct {
	mu      sync.Mutex
	running bool
	cfg     domain.ScannerConfig
	opps    []domain.ArbitrageOpportunity
}

func (f *fakeScanner) Start(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false
	}
	f.running = true
	return true
}

func (f *fakeScanner) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *fakeScanner) Stats() domain.ScannerStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.ScannerStats{ScanCount: 7, IsRunning: f.running, Config: f.cfg}
}

func (f *fakeScanner) LastOpportunities() []domain.ArbitrageOpportunity {
	return f.opps
}

func (f *fakeScanner) UpdateConfig(_ context.Context, patch domain.ScannerConfigPatch) (domain.ScannerConfig, error) {
	next := patch.Apply(f.cfg)
	if next.MinProfitUSD < 0 {
		return domain.ScannerConfig{}, domain.ErrConfiguration
	}
	f.cfg = next
	return next, nil
}

type fakeOppStore struct {
	domain.OpportunityStore
	opps []domain.ArbitrageOpportunity
	err  error
}

func (s *fakeOppStore) ListRecent(_ context.Context, limit int) ([]domain.ArbitrageOpportunity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.opps[:min(limit, len(s.opps))], nil
}

type fakeExecStore struct {
	domain.ExecutionStore
	lastLimit int
}

func (s *fakeExecStore) ListRecent(_ context.Context, limit int) ([]domain.Execution, error) {
	s.lastLimit = limit
	return nil, nil
}

type denyLimiter struct{ calls int }

func (l *denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.calls++
	return l.calls <= 1, nil
}

func (l *denyLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	scanner *fakeScanner
	opps    *fakeOppStore
	execs   *fakeExecStore
	hub     *ws.Hub
	srv     *httptest.Server
}

func newHarness(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.HealthCheck) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := discardLogger()
	h := &harness{
		scanner: &fakeScanner{cfg: domain.ScannerConfig{MinProfitUSD: 1, ScanInterval: time.Second}},
		opps: &fakeOppStore{opps: []domain.ArbitrageOpportunity{
			{ID: "a", ProfitUSD: 3}, {ID: "b", ProfitUSD: 2},
		}},
		execs: &fakeExecStore{},
	}
	h.hub = ws.NewHub(h.scanner, logger)
	go func() { _ = h.hub.Run(ctx) }()

	srv := NewServer(cfg, Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Scanner: handler.NewScannerHandler(ctx, h.scanner, logger),
		History: handler.NewHistoryHandler(h.opps, h.execs, logger),
	}, h.hub, limiter, logger)

	h.srv = httptest.NewServer(srv.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	h := newHarness(t, Config{}, nil, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	resp, body := h.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	h = newHarness(t, Config{}, nil, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	resp, body = h.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["dependencies"].(map[string]any)["redis"])
}

func TestScannerLifecycle(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)

	resp, body := h.do(t, http.MethodPost, "/api/scanner/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["started"])

	_, body = h.do(t, http.MethodPost, "/api/scanner/start", "")
	assert.Equal(t, false, body["started"])

	_, body = h.do(t, http.MethodGet, "/api/scanner/status", "")
	assert.Equal(t, true, body["isRunning"])
	assert.EqualValues(t, 7, body["scanCount"])

	_, body = h.do(t, http.MethodPost, "/api/scanner/stop", "")
	assert.Equal(t, true, body["stopped"])
	assert.Equal(t, false, body["status"].(map[string]any)["isRunning"])
}

func TestScannerOpportunitiesEmpty(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	_, body := h.do(t, http.MethodGet, "/api/scanner/opportunities", "")
	assert.Equal(t, []any{}, body["opportunities"])
	assert.EqualValues(t, 0, body["count"])
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)

	resp, body := h.do(t, http.MethodPut, "/api/scanner/config", `{"minProfitUSD": 2.5}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 2.5, body["minProfitUSD"], 1e-9)

	resp, _ = h.do(t, http.MethodPut, "/api/scanner/config", `{"minProfitUSD": -1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPut, "/api/scanner/config", `{"bogus": 1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryEndpoints(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)

	resp, err := http.Get(h.srv.URL + "/api/opportunities/recent?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var opps []domain.ArbitrageOpportunity
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&opps))
	require.Len(t, opps, 1)
	assert.Equal(t, "a", opps[0].ID)

	resp2, err := http.Get(h.srv.URL + "/api/executions/recent?limit=9999")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, 500, h.execs.lastLimit)

	h.opps.err = errors.New("db down")
	resp3, _ := h.do(t, http.MethodGet, "/api/opportunities/recent", "")
	assert.Equal(t, http.StatusInternalServerError, resp3.StatusCode)
}

func TestAuth(t *testing.T) {
	h := newHarness(t, Config{APIKey: "s3cret"}, nil, nil)

	resp, _ := h.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := h.do(t, http.MethodGet, "/api/scanner/status", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing authentication token", body["error"])

	resp, _ = h.do(t, http.MethodGet, "/api/scanner/status", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/scanner/status", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/scanner/status?token=s3cret", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	limiter := &denyLimiter{}
	h := newHarness(t, Config{RateLimitPerIP: 1}, limiter, nil)

	resp, _ := h.do(t, http.MethodGet, "/api/scanner/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := h.do(t, http.MethodGet, "/api/scanner/status", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, Config{CORSOrigins: []string{"http://localhost:5173"}}, nil, nil)

	resp, _ := h.do(t, http.MethodOptions, "/api/scanner/config", "", "Origin", "http://localhost:5173")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = h.do(t, http.MethodGet, "/api/scanner/status", "", "Origin", "http://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocketStream(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/scanner"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var connected struct {
		Type    domain.ScanEventType `json:"type"`
		Payload domain.ScannerStats  `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&connected))
	assert.Equal(t, domain.EventConnected, connected.Type)
	assert.Equal(t, int64(7), connected.Payload.ScanCount)

	h.hub.Emit(context.Background(), domain.ScanEvent{
		Type:    domain.EventLog,
		Payload: domain.LogPayload{Level: "warn", Message: "switching to synthetic"},
	})

	var ev struct {
		Type    domain.ScanEventType `json:"type"`
		Payload domain.LogPayload    `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.EventLog, ev.Type)
	assert.Equal(t, "switching to synthetic", ev.Payload.Message)
	assert.Equal(t, 1, h.hub.ClientCount())
}
