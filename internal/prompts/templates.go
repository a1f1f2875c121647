// Package prompts renders the prompt fragments sent to the screening model.
package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/wolfman30/psychiatrai/internal/catalog"
)

// Media modality names accepted by the templates.
const (
	ModalityText  = "text"
	ModalityAudio = "audio"
	ModalityVideo = "video"
)

// DefaultMaxQuestions bounds the session length when no limit is configured.
const DefaultMaxQuestions = 10

// Separator joins transcript fragments into one outbound prompt.
const Separator = "\n"

// InitialParams feeds the first-turn template.
type InitialParams struct {
	Modality string
	// Answer is the user's first answer; ignored for audio and video.
	Answer string
}

// LaterParams feeds the template used from the second turn on.
type LaterParams struct {
	Modality      string
	PriorFollowup string
	Answer        string
	// QuestionsAsked is the running count including the question being answered.
	QuestionsAsked int
}

// ScoringParams feeds the secondary scoring request.
type ScoringParams struct {
	Transcript            string
	LikelyConditions      []string
	SelectedQuestionnaire string
}

// TemplateSet holds the parsed prompt templates. It is safe for concurrent use.
type TemplateSet struct {
	maxQuestions int
	prefix       string
	suffix       string
	initial      *template.Template
	later        *template.Template
	scoring      *template.Template
}

type initialData struct {
	InitialParams
	Prefix         string
	Suffix         string
	QuestionsAsked int
}

type laterData struct {
	LaterParams
	Suffix       string
	MaxQuestions int
}

type scoringData struct {
	ScoringParams
	Instruments []catalog.Instrument
}

// New parses every template and smoke-renders it once. A template that does
// not render is a programming error, so New panics instead of returning it.
func New(maxQuestions int) *TemplateSet {
	set, err := build(maxQuestions)
	if err != nil {
		panic(err)
	}
	return set
}

func build(maxQuestions int) (*TemplateSet, error) {
	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}
	var r Renderer

	questionnaires := make([]string, 0, len(catalog.Instruments))
	for _, in := range catalog.Instruments {
		questionnaires = append(questionnaires, string(in.Tag))
	}
	framing := map[string]any{
		"MaxQuestions":    maxQuestions,
		"Conditions":      catalog.ConditionNames(),
		"Questionnaires":  questionnaires,
		"Instruments":     catalog.Instruments,
		"OpeningQuestion": OpeningQuestion,
	}
	prefix, err := r.Render("prefix", prefixTemplate, framing)
	if err != nil {
		return nil, err
	}
	suffix, err := r.Render("suffix", suffixTemplate, framing)
	if err != nil {
		return nil, err
	}

	set := &TemplateSet{maxQuestions: maxQuestions, prefix: prefix, suffix: suffix}
	if set.initial, err = r.Parse("initial", initialTemplate); err != nil {
		return nil, err
	}
	if set.later, err = r.Parse("later", laterTemplate); err != nil {
		return nil, err
	}
	if set.scoring, err = r.Parse("scoring", scoringTemplate); err != nil {
		return nil, err
	}

	if _, err := set.BuildInitial(InitialParams{Modality: ModalityText, Answer: "ok"}); err != nil {
		return nil, err
	}
	if _, err := set.BuildLater(LaterParams{Modality: ModalityText, PriorFollowup: "q", Answer: "a", QuestionsAsked: 2}); err != nil {
		return nil, err
	}
	if _, err := set.BuildScoringRequest(ScoringParams{Transcript: "t"}); err != nil {
		return nil, err
	}
	return set, nil
}

// MaxQuestions returns the configured question budget.
func (s *TemplateSet) MaxQuestions() int { return s.maxQuestions }

// BuildInitial renders the first-turn fragment. After it the model has asked
// exactly one question.
func (s *TemplateSet) BuildInitial(p InitialParams) (string, error) {
	if err := checkModality(p.Modality); err != nil {
		return "", err
	}
	return execute(s.initial, initialData{
		InitialParams:  p,
		Prefix:         s.prefix,
		Suffix:         s.suffix,
		QuestionsAsked: 1,
	})
}

// BuildLater renders the fragment for the second and later turns.
func (s *TemplateSet) BuildLater(p LaterParams) (string, error) {
	if err := checkModality(p.Modality); err != nil {
		return "", err
	}
	if p.QuestionsAsked < 2 {
		return "", fmt.Errorf("prompts: later turn needs at least 2 questions asked, got %d", p.QuestionsAsked)
	}
	return execute(s.later, laterData{
		LaterParams:  p,
		Suffix:       s.suffix,
		MaxQuestions: s.maxQuestions,
	})
}

// BuildScoringRequest renders the secondary request that asks for item-level
// questionnaire scores. Transcript should already be sanitized.
func (s *TemplateSet) BuildScoringRequest(p ScoringParams) (string, error) {
	return execute(s.scoring, scoringData{
		ScoringParams: p,
		Instruments:   catalog.Instruments,
	})
}

// Join concatenates transcript fragments in order.
func Join(fragments []string) string {
	return strings.Join(fragments, Separator)
}

// Sanitize joins the fragments and strips the framing prefix and analysis
// suffix so the scoring request only carries the conversation itself.
func (s *TemplateSet) Sanitize(fragments []string) string {
	text := Join(fragments)
	text = strings.ReplaceAll(text, s.prefix, "")
	text = strings.ReplaceAll(text, s.suffix, "")
	return strings.TrimSpace(text)
}

func checkModality(m string) error {
	switch m {
	case ModalityText, ModalityAudio, ModalityVideo:
		return nil
	default:
		return fmt.Errorf("prompts: unknown modality %q", m)
	}
}
