package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/psychiatrai/internal/config"
	"github.com/wolfman30/psychiatrai/internal/screening"
	"github.com/wolfman30/psychiatrai/pkg/logging"
)

const defaultSessionTTL = 24 * time.Hour

// Session backends selectable through SESSION_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// SessionBackend is the session store chosen at startup plus its lifecycle hooks.
type SessionBackend struct {
	Name  string
	Store screening.SessionStore
	// Ready is nil for backends without an external dependency.
	Ready func(ctx context.Context) error
	Close func() error
}

// BuildSessionStore selects the session store from configuration. The redis
// backend fails fast when Redis is unreachable.
func BuildSessionStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*SessionBackend, error) {
	if logger == nil {
		logger = logging.Default()
	}
	backend := BackendMemory
	if cfg != nil && cfg.SessionBackend != "" {
		backend = cfg.SessionBackend
	}

	switch backend {
	case BackendMemory:
		ttl := defaultSessionTTL
		var opts []screening.MemoryStoreOption
		if cfg != nil {
			ttl = cfg.SessionTTL
			if cfg.SessionTerminatedTTL > 0 {
				opts = append(opts, screening.WithMemoryTerminatedTTL(cfg.SessionTerminatedTTL))
			}
		}
		store := screening.NewMemorySessionStore(ttl, opts...)
		logger.Info("session store ready", "backend", BackendMemory, "ttl", ttl.String())
		return &SessionBackend{Name: BackendMemory, Store: store, Close: store.Close}, nil

	case BackendRedis:
		if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("bootstrap: SESSION_BACKEND=redis requires REDIS_ADDR")
		}
		client := BuildRedisClient(ctx, cfg, logger, true)
		if client == nil {
			return nil, fmt.Errorf("bootstrap: redis at %s is not reachable", cfg.RedisAddr)
		}
		store := screening.NewRedisSessionStore(client,
			screening.WithSessionTTL(cfg.SessionTTL),
			screening.WithTerminatedTTL(cfg.SessionTerminatedTTL),
			screening.WithLockTTL(cfg.ModelTimeout+cfg.ScoringTimeout),
		)
		logger.Info("session store ready", "backend", BackendRedis, "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL.String())
		return &SessionBackend{
			Name:  BackendRedis,
			Store: store,
			Ready: func(ctx context.Context) error { return client.Ping(ctx).Err() },
			Close: client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("bootstrap: unknown SESSION_BACKEND %q", backend)
	}
}

// BuildGenerator returns the Gemini-backed generator.
func BuildGenerator(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*screening.GeminiGenerator, error) {
	if cfg == nil || strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return nil, fmt.Errorf("bootstrap: GEMINI_API_KEY is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	var opts []screening.GeminiOption
	if cfg.GeminiTemperature >= 0 {
		opts = append(opts, screening.WithTemperature(float32(cfg.GeminiTemperature)))
	}
	gen, err := screening.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("gemini generator ready", "model", gen.ModelID())
	return gen, nil
}
