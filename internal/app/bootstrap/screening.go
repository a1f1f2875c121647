package bootstrap

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	appconfig "github.com/wolfman30/psychiatrai/internal/config"
	"github.com/wolfman30/psychiatrai/internal/observability/metrics"
	"github.com/wolfman30/psychiatrai/internal/prompts"
	"github.com/wolfman30/psychiatrai/internal/screening"
	"github.com/wolfman30/psychiatrai/pkg/logging"
)

// ScreeningRuntime bundles the wired screening service and what it owns.
type ScreeningRuntime struct {
	Service  *screening.Service
	Handler  *screening.Handler
	Sessions *SessionBackend
	Metrics  *metrics.ScreeningMetrics

	closers []func() error
}

// Close releases the generator and session backend.
func (r *ScreeningRuntime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildScreeningRuntime wires the session store, generator, templates and
// service from configuration. A nil generator builds the Gemini client.
func BuildScreeningRuntime(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, reg prometheus.Registerer, gen screening.Generator) (*ScreeningRuntime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	rt := &ScreeningRuntime{}
	sessions, err := BuildSessionStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Sessions = sessions
	if sessions.Close != nil {
		rt.closers = append(rt.closers, sessions.Close)
	}

	if gen == nil {
		gemini, err := BuildGenerator(ctx, cfg, logger)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, gemini.Close)
		gen = gemini
	}

	maxQuestions := cfg.MaxQuestions
	if maxQuestions <= 0 {
		maxQuestions = prompts.DefaultMaxQuestions
	}
	templates := prompts.New(maxQuestions)

	rt.Metrics = metrics.NewScreeningMetrics(reg)
	rt.Service = screening.NewService(sessions.Store, gen, templates, logger,
		screening.WithMetrics(rt.Metrics),
		screening.WithModelTimeout(cfg.ModelTimeout),
		screening.WithScoringTimeout(cfg.ScoringTimeout),
		screening.WithLockWait(cfg.SessionLockWait),
		screening.WithStrictTurnCount(cfg.StrictTurnCount),
	)
	rt.Handler = screening.NewHandler(rt.Service, logger, cfg.MaxUploadBytes)

	logger.Info("screening runtime ready",
		"session_backend", sessions.Name,
		"max_questions", maxQuestions,
		"strict_turn_count", cfg.StrictTurnCount,
	)
	return rt, nil
}
