package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GEMINI_MODEL_ID", "")
	t.Setenv("SESSION_BACKEND", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("MAX_QUESTIONS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.GeminiModelID != "gemini-1.5-pro" {
		t.Fatalf("expected default gemini model, got %s", cfg.GeminiModelID)
	}
	if cfg.SessionBackend != "memory" {
		t.Fatalf("expected memory session backend, got %s", cfg.SessionBackend)
	}
	if cfg.MaxQuestions != 10 {
		t.Fatalf("expected 10 max questions, got %d", cfg.MaxQuestions)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("expected default session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.SessionTerminatedTTL != 30*24*time.Hour {
		t.Fatalf("expected default terminated ttl, got %s", cfg.SessionTerminatedTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected default cors origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.GeminiTemperature >= 0 {
		t.Fatalf("expected unset temperature to be negative, got %f", cfg.GeminiTemperature)
	}
	if cfg.IsProduction() {
		t.Fatalf("development env should not report production")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SESSION_BACKEND", " Redis ")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("SESSION_TERMINATED_TTL", "72h")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("STRICT_TURN_COUNT", "true")
	t.Setenv("GEMINI_TEMPERATURE", "0.4")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MODEL_TIMEOUT", "not-a-duration")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production env")
	}
	if cfg.SessionBackend != "redis" {
		t.Fatalf("expected normalized redis backend, got %q", cfg.SessionBackend)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("expected ttl override, got %s", cfg.SessionTTL)
	}
	if cfg.SessionTerminatedTTL != 72*time.Hour {
		t.Fatalf("expected terminated ttl override, got %s", cfg.SessionTerminatedTTL)
	}
	if !cfg.StrictTurnCount {
		t.Fatalf("expected strict turn count")
	}
	if cfg.GeminiTemperature != 0.4 {
		t.Fatalf("expected temperature override, got %f", cfg.GeminiTemperature)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.ModelTimeout != 60*time.Second {
		t.Fatalf("invalid duration should fall back to default, got %s", cfg.ModelTimeout)
	}
}
