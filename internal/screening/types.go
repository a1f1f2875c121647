package screening

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/psychiatrai/internal/catalog"
	"github.com/wolfman30/psychiatrai/internal/prompts"
)

// Modality is the medium the user answered in.
type Modality string

const (
	ModalityText  Modality = prompts.ModalityText
	ModalityAudio Modality = prompts.ModalityAudio
	ModalityVideo Modality = prompts.ModalityVideo
)

// Valid reports whether m is a supported modality.
func (m Modality) Valid() bool {
	switch m {
	case ModalityText, ModalityAudio, ModalityVideo:
		return true
	}
	return false
}

// IsMedia reports whether the answer arrives as a binary blob.
func (m Modality) IsMedia() bool {
	return m == ModalityAudio || m == ModalityVideo
}

// DefaultMIMEType is used when the upload does not declare a content type.
func (m Modality) DefaultMIMEType() string {
	switch m {
	case ModalityAudio:
		return "audio/webm"
	case ModalityVideo:
		return "video/webm"
	default:
		return "text/plain"
	}
}

// Media is an uploaded audio or video answer. It travels next to the prompt
// text as its own part and never becomes part of the transcript.
type Media struct {
	MIMEType string
	Filename string
	Data     []byte
}

// TurnInput is one inbound user turn.
type TurnInput struct {
	Modality    Modality
	TextContent string
	Media       *Media
	SessionID   string
	// TurnCount is the turn index declared by the caller. Negative means absent.
	TurnCount   int
}

// Validate checks the field combinations a turn must satisfy.
func (in TurnInput) Validate() error {
	if strings.TrimSpace(in.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if !in.Modality.Valid() {
		return fmt.Errorf("%w: unsupported type %q", ErrValidation, in.Modality)
	}
	if in.Modality == ModalityText && strings.TrimSpace(in.TextContent) == "" {
		return fmt.Errorf("%w: text_content is required for text turns", ErrValidation)
	}
	if in.Modality.IsMedia() && (in.Media == nil || len(in.Media.Data) == 0) {
		return fmt.Errorf("%w: file_content is required for %s turns", ErrValidation, in.Modality)
	}
	return nil
}

// DeclaredTurn returns the caller's turn index with absent or negative values
// treated as the first turn.
func (in TurnInput) DeclaredTurn() int {
	if in.TurnCount < 0 {
		return 0
	}
	return in.TurnCount
}

// EntryKind tags what a transcript fragment was built from.
type EntryKind string

const (
	EntryInitial EntryKind = "initial"
	EntryAnswer  EntryKind = "answer"
)

// TranscriptEntry is one rendered prompt fragment. Entries are never edited
// after they are appended.
type TranscriptEntry struct {
	Kind       EntryKind `json:"kind"`
	TurnNumber int       `json:"turn_number"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is a snapshot of one screening conversation.
type Session struct {
	ID           string            `json:"session_id"`
	Transcript   []TranscriptEntry `json:"transcript"`
	TurnCount    int               `json:"turn_count"`
	Terminated   bool              `json:"terminated"`
	LastFollowup string            `json:"last_followup,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// State names the position of the session in its lifecycle.
type State string

const (
	StateFresh      State = "fresh"
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

// State derives the lifecycle state from the snapshot.
func (s *Session) State() State {
	switch {
	case s.Terminated:
		return StateTerminated
	case len(s.Transcript) == 0:
		return StateFresh
	default:
		return StateActive
	}
}

// Fragments returns the transcript texts in turn order.
func (s *Session) Fragments() []string {
	out := make([]string, 0, len(s.Transcript))
	for _, e := range s.Transcript {
		out = append(out, e.Text)
	}
	return out
}

// Clone returns a deep copy so callers can extend it without touching the store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	return &cp
}

// TurnResult is the outward-facing result of one turn.
type TurnResult struct {
	Type                  Modality               `json:"type"`
	Analysis              *string                `json:"generated_analysis"`
	FollowupMessage       string                 `json:"generated_followup_response"`
	Explanation           *string                `json:"generated_explanation"`
	LikelyConditions      []catalog.Condition    `json:"likely_conditions"`
	SelectedQuestionnaire *catalog.Questionnaire `json:"selected_questionnaire"`
	EstimatedScores       ScoreMap               `json:"estimated_questionnaire_scores"`
	Terminate             bool                   `json:"terminate_chat"`
}
