package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/wolfman30/psychiatrai/internal/config"
)

func TestMetricsRegistryExposesRuntimeCollectors(t *testing.T) {
	reg := newMetricsRegistry()
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("expected go collector metrics to be exported")
	}
}

func TestWriteTimeoutCoversWholeTurn(t *testing.T) {
	cfg := &appconfig.Config{
		SessionLockWait: 2 * time.Minute,
		ModelTimeout:    60 * time.Second,
		ScoringTimeout:  45 * time.Second,
	}
	want := 2*time.Minute + 60*time.Second + 45*time.Second + 15*time.Second
	if got := writeTimeout(cfg); got != want {
		t.Fatalf("expected write timeout %s, got %s", want, got)
	}
}

func TestNewServerUsesConfiguredPort(t *testing.T) {
	cfg := &appconfig.Config{Port: "9090", ModelTimeout: time.Second}
	handler := http.NotFoundHandler()

	srv := newServer(cfg, handler)
	if srv.Addr != ":9090" {
		t.Fatalf("expected addr :9090, got %s", srv.Addr)
	}
	if srv.WriteTimeout != writeTimeout(cfg) {
		t.Fatalf("expected write timeout %s, got %s", writeTimeout(cfg), srv.WriteTimeout)
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Fatalf("expected read header timeout to be set")
	}
}
