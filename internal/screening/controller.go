package screening

import (
	"context"
	"fmt"

	"github.com/wolfman30/psychiatrai/internal/observability/metrics"
	"github.com/wolfman30/psychiatrai/internal/prompts"
	"github.com/wolfman30/psychiatrai/pkg/logging"
)

// TurnPlan is everything needed to call the model for one turn. Nothing in
// it has been persisted yet.
type TurnPlan struct {
	// Session is a snapshot with the pending entry already appended.
	Session *Session
	Entry   TranscriptEntry
	Prompt  string
	Parts   []PromptPart
	// TurnNumber is the server-side index of this turn, starting at 0.
	TurnNumber   int
	DeclaredTurn int
	Mismatch     bool
}

// TurnController turns an inbound answer into the outbound prompt.
type TurnController struct {
	store   SessionStore
	prompts *prompts.TemplateSet
	logger  *logging.Logger
	metrics *metrics.ScreeningMetrics
	strict  bool
}

func NewTurnController(store SessionStore, templates *prompts.TemplateSet, logger *logging.Logger, m *metrics.ScreeningMetrics, strict bool) *TurnController {
	if store == nil {
		panic("screening: session store cannot be nil")
	}
	if templates == nil {
		templates = prompts.New(prompts.DefaultMaxQuestions)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TurnController{
		store:   store,
		prompts: templates,
		logger:  logger,
		metrics: m,
		strict:  strict,
	}
}

// HandleTurn builds the plan for in. The caller must hold the session lock.
func (c *TurnController) HandleTurn(ctx context.Context, in TurnInput) (*TurnPlan, error) {
	sess, err := c.store.Get(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Terminated {
		return nil, fmt.Errorf("%w: session %s is terminated", ErrInvalidSessionState, in.SessionID)
	}

	turn := sess.TurnCount
	declared := in.DeclaredTurn()
	mismatch := declared != turn
	if mismatch {
		if c.strict {
			return nil, fmt.Errorf("%w: message_number %d does not match session turn %d", ErrValidation, declared, turn)
		}
		c.logger.Warn("screening: declared turn differs from session",
			"session_id", in.SessionID,
			"declared_turn", declared,
			"session_turn", turn,
		)
		c.metrics.ObserveTurnMismatch()
	}

	entry := TranscriptEntry{Kind: EntryAnswer, TurnNumber: turn}
	if turn == 0 {
		entry.Kind = EntryInitial
		entry.Text, err = c.prompts.BuildInitial(prompts.InitialParams{
			Modality: string(in.Modality),
			Answer:   in.TextContent,
		})
	} else {
		entry.Text, err = c.prompts.BuildLater(prompts.LaterParams{
			Modality:       string(in.Modality),
			PriorFollowup:  sess.LastFollowup,
			Answer:         in.TextContent,
			QuestionsAsked: turn + 1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("screening: build prompt for turn %d: %w", turn, err)
	}

	pending := sess.Clone()
	pending.Transcript = append(pending.Transcript, entry)

	prompt := prompts.Join(pending.Fragments())
	parts := []PromptPart{{Text: prompt}}
	if in.Modality.IsMedia() && in.Media != nil {
		media := *in.Media
		if media.MIMEType == "" {
			media.MIMEType = in.Modality.DefaultMIMEType()
		}
		parts = append(parts, PromptPart{Media: &media})
	}

	return &TurnPlan{
		Session:      pending,
		Entry:        entry,
		Prompt:       prompt,
		Parts:        parts,
		TurnNumber:   turn,
		DeclaredTurn: declared,
		Mismatch:     mismatch,
	}, nil
}
