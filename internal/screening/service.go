package screening

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/psychiatrai/internal/observability/metrics"
	"github.com/wolfman30/psychiatrai/internal/prompts"
	"github.com/wolfman30/psychiatrai/pkg/logging"
)

const (
	defaultModelTimeout   = 60 * time.Second
	defaultScoringTimeout = 30 * time.Second
)

// Model pass labels used for latency metrics.
const (
	passTurn    = "turn"
	passScoring = "scoring"
)

// Service runs screening turns end to end.
type Service struct {
	store       SessionStore
	generator   Generator
	prompts     *prompts.TemplateSet
	controller  *TurnController
	interpreter *ReplyInterpreter
	logger      *logging.Logger
	metrics     *metrics.ScreeningMetrics
	tracer      trace.Tracer

	modelTimeout   time.Duration
	scoringTimeout time.Duration
	lockWait       time.Duration
	strict         bool
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

func WithMetrics(m *metrics.ScreeningMetrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithModelTimeout bounds the structured model call of each turn.
func WithModelTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.modelTimeout = d
		}
	}
}

// WithScoringTimeout bounds the secondary scoring call.
func WithScoringTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.scoringTimeout = d
		}
	}
}

// WithLockWait bounds how long a turn waits for a concurrent turn on the same
// session. Zero waits as long as the request context allows.
func WithLockWait(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.lockWait = d
	}
}

// WithStrictTurnCount rejects turns whose declared message number disagrees
// with the session.
func WithStrictTurnCount(strict bool) ServiceOption {
	return func(s *Service) {
		s.strict = strict
	}
}

func NewService(store SessionStore, generator Generator, templates *prompts.TemplateSet, logger *logging.Logger, opts ...ServiceOption) *Service {
	if store == nil {
		panic("screening: session store cannot be nil")
	}
	if generator == nil {
		panic("screening: generator cannot be nil")
	}
	if templates == nil {
		templates = prompts.New(prompts.DefaultMaxQuestions)
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &Service{
		store:          store,
		generator:      generator,
		prompts:        templates,
		logger:         logger,
		tracer:         otel.Tracer("psychiatrai.internal.screening"),
		modelTimeout:   defaultModelTimeout,
		scoringTimeout: defaultScoringTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.controller = NewTurnController(store, templates, logger, s.metrics, s.strict)
	s.interpreter = NewReplyInterpreter(templates)
	return s
}

// ProcessTurn handles one user answer: it builds the prompt from the session
// history, asks the model for a structured reply, commits the turn and, for
// a terminal reply without scores, runs the scoring pass. A failed turn
// leaves the session untouched.
func (s *Service) ProcessTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	ctx, span := s.tracer.Start(ctx, "screening.process_turn", trace.WithAttributes(
		attribute.String("screening.session_id", in.SessionID),
		attribute.String("screening.modality", string(in.Modality)),
	))
	defer span.End()

	if err := in.Validate(); err != nil {
		s.metrics.ObserveTurn(string(in.Modality), outcomeLabel(err))
		return nil, err
	}
	log := s.logger.WithSession(in.SessionID)

	result, directive, err := s.runTurn(ctx, in, log)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveTurn(string(in.Modality), outcomeLabel(err))
		return nil, err
	}

	// The session is terminal by now, so the lock is no longer needed.
	if directive != nil {
		s.runScoringPass(ctx, directive, result, log)
	}

	span.SetAttributes(attribute.Bool("screening.terminated", result.Terminate))
	s.metrics.ObserveTurn(string(in.Modality), "ok")
	return result, nil
}

func (s *Service) runTurn(ctx context.Context, in TurnInput, log *logging.Logger) (*TurnResult, *ScoringDirective, error) {
	lockCtx := ctx
	if s.lockWait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockWait)
		defer cancel()
	}
	unlock, err := s.store.Lock(lockCtx, in.SessionID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	plan, err := s.controller.HandleTurn(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	resp, err := s.generate(ctx, passTurn, s.modelTimeout, GenerateRequest{
		Parts:  plan.Parts,
		Schema: ReplySchema(),
	})
	if err != nil {
		log.Error("screening: model call failed", "turn", plan.TurnNumber, "error", err)
		return nil, nil, fmt.Errorf("%w: %w", ErrModelCall, err)
	}

	interp, err := s.interpreter.Interpret(resp.Text, plan, in)
	if err != nil {
		log.Warn("screening: model reply rejected",
			"turn", plan.TurnNumber,
			"error", err,
			"reply_preview", truncate(resp.Text, 200),
		)
		return nil, nil, err
	}
	for _, a := range interp.Anomalies {
		log.Warn("screening: reply value outside catalog", "field", a.Field, "value", a.Value)
		s.metrics.ObserveReplyAnomaly(a.Field)
	}

	if err := s.commit(ctx, in.SessionID, plan, interp); err != nil {
		log.Error("screening: failed to commit turn", "turn", plan.TurnNumber, "error", err)
		return nil, nil, err
	}

	log.Info("screening: turn processed",
		"turn", plan.TurnNumber,
		"modality", in.Modality,
		"terminated", interp.Terminate,
		"turn_mismatch", plan.Mismatch,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return interp.Result, interp.ScoringPass, nil
}

func (s *Service) commit(ctx context.Context, sessionID string, plan *TurnPlan, interp *Interpretation) error {
	if err := s.store.AppendEntry(ctx, sessionID, plan.Entry); err != nil {
		return err
	}
	if err := s.store.RecordFollowup(ctx, sessionID, interp.Followup); err != nil {
		return err
	}
	if !interp.Terminate {
		return nil
	}
	if err := s.store.MarkTerminated(ctx, sessionID); err != nil {
		return err
	}
	s.metrics.ObserveTermination()
	return nil
}

// runScoringPass fills in estimated scores from a free-form model call.
// Failures are logged and counted but never fail the turn.
func (s *Service) runScoringPass(ctx context.Context, d *ScoringDirective, result *TurnResult, log *logging.Logger) {
	ctx, span := s.tracer.Start(ctx, "screening.scoring_pass")
	defer span.End()

	prompt, err := s.prompts.BuildScoringRequest(d.Params())
	if err != nil {
		span.RecordError(err)
		log.Warn("screening: failed to build scoring request", "error", err)
		s.metrics.ObserveScoringPass("build_error")
		return
	}

	resp, err := s.generate(ctx, passScoring, s.scoringTimeout, GenerateRequest{
		Parts: []PromptPart{{Text: prompt}},
	})
	if err != nil {
		span.RecordError(err)
		log.Warn("screening: scoring pass failed", "error", err)
		s.metrics.ObserveScoringPass("model_error")
		return
	}

	scores, err := ParseLooseScores(resp.Text)
	if err != nil {
		span.RecordError(err)
		log.Warn("screening: scoring pass output unusable",
			"error", err,
			"reply_preview", truncate(resp.Text, 200),
		)
		s.metrics.ObserveScoringPass("unparsable")
		return
	}

	if result.EstimatedScores == nil {
		result.EstimatedScores = make(ScoreMap, len(scores))
	}
	for item, score := range scores {
		if _, ok := result.EstimatedScores[item]; !ok {
			result.EstimatedScores[item] = score
		}
	}
	log.Info("screening: scoring pass merged", "items", len(scores))
	s.metrics.ObserveScoringPass("merged")
}

func (s *Service) generate(ctx context.Context, pass string, timeout time.Duration, req GenerateRequest) (GenerateResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := s.generator.Generate(ctx, req)
	s.metrics.ObserveModelLatency(pass, time.Since(start).Seconds())
	return resp, err
}

// GetSession returns a snapshot of the session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id required", ErrValidation)
	}
	return s.store.Get(ctx, sessionID)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrInvalidSessionState):
		return "terminated"
	case errors.Is(err, ErrModelCall):
		return "model_error"
	case errors.Is(err, ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "busy"
	default:
		return "error"
	}
}
