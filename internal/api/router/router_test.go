package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/psychiatrai/internal/screening"
	"github.com/wolfman30/psychiatrai/pkg/logging"
)

type fakeProcessor struct {
	calls int
}

func (f *fakeProcessor) ProcessTurn(ctx context.Context, in screening.TurnInput) (*screening.TurnResult, error) {
	f.calls++
	return &screening.TurnResult{Type: in.Modality, FollowupMessage: "How are you sleeping?"}, nil
}

func (f *fakeProcessor) GetSession(ctx context.Context, sessionID string) (*screening.Session, error) {
	return &screening.Session{ID: sessionID}, nil
}

func newTestRouter(t *testing.T, mutate func(*Config)) (http.Handler, *fakeProcessor) {
	t.Helper()
	logger := logging.New("error")
	proc := &fakeProcessor{}
	cfg := &Config{
		Logger:             logger,
		ScreeningHandler:   screening.NewHandler(proc, logger, 0),
		MetricsHandler:     promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
		CORSAllowedOrigins: []string{"http://localhost:3000"},
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg), proc
}

func turnRequest() *http.Request {
	form := url.Values{"type": {"text"}, "text_content": {"fine"}, "session_id": {"abc"}, "message_number": {"0"}}
	req := httptest.NewRequest(http.MethodPost, "/api/receive_input", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "http://localhost:3000")
	return req
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterHealthDegraded(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *Config) {
		cfg.ReadinessCheck = func(ctx context.Context) error { return errors.New("redis unreachable") }
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "redis unreachable")
}

func TestRouterReceiveInput(t *testing.T) {
	router, proc := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, turnRequest())

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, proc.calls)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Contains(t, rr.Body.String(), "How are you sleeping?")
}

func TestRouterRejectsGetOnReceiveInput(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/receive_input", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRouterSessionEndpointGated(t *testing.T) {
	hidden, _ := newTestRouter(t, nil)
	rr := httptest.NewRecorder()
	hidden.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	exposed, _ := newTestRouter(t, func(cfg *Config) { cfg.ExposeSessions = true })
	rr = httptest.NewRecorder()
	exposed.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"session_id":"abc"`)
}

func TestRouterRateLimitsAPI(t *testing.T) {
	router, proc := newTestRouter(t, func(cfg *Config) {
		cfg.RateLimitRPS = 0.01
		cfg.RateLimitBurst = 1
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, turnRequest())
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, turnRequest())
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, 1, proc.calls)

	// Health is never rate limited.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
