package screening

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/psychiatrai/internal/catalog"
	"github.com/wolfman30/psychiatrai/internal/prompts"
)

// ScoringDirective asks for a second, free-form model call that estimates
// questionnaire item scores the terminal reply left out.
type ScoringDirective struct {
	Transcript            string
	LikelyConditions      []catalog.Condition
	SelectedQuestionnaire *catalog.Questionnaire
}

// Params renders the directive for the scoring template.
func (d *ScoringDirective) Params() prompts.ScoringParams {
	p := prompts.ScoringParams{Transcript: d.Transcript}
	for _, c := range d.LikelyConditions {
		p.LikelyConditions = append(p.LikelyConditions, string(c))
	}
	if d.SelectedQuestionnaire != nil {
		p.SelectedQuestionnaire = string(*d.SelectedQuestionnaire)
	}
	return p
}

// Anomaly is a reply value outside the known catalog.
type Anomaly struct {
	Field string
	Value string
}

// Interpretation is the decoded model reply and what it means for the session.
type Interpretation struct {
	Reply       StructuredReply
	Result      *TurnResult
	Followup    string
	Terminate   bool
	ScoringPass *ScoringDirective
	Anomalies   []Anomaly
}

// ReplyInterpreter validates model output and derives the turn outcome.
type ReplyInterpreter struct {
	prompts *prompts.TemplateSet
}

func NewReplyInterpreter(templates *prompts.TemplateSet) *ReplyInterpreter {
	if templates == nil {
		templates = prompts.New(prompts.DefaultMaxQuestions)
	}
	return &ReplyInterpreter{prompts: templates}
}

// Interpret parses raw model output for the turn described by plan.
func (ri *ReplyInterpreter) Interpret(raw string, plan *TurnPlan, in TurnInput) (*Interpretation, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return nil, &SchemaViolationError{Problems: []string{"reply is empty"}}
	}
	if err := validateReply(text); err != nil {
		return nil, err
	}

	var reply StructuredReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, &SchemaViolationError{Problems: []string{err.Error()}}
	}
	if strings.TrimSpace(reply.FollowupMessage) == "" {
		return nil, &SchemaViolationError{Problems: []string{"generated_followup_response is blank"}}
	}

	terminate := reply.ShouldTerminate()
	out := &Interpretation{
		Reply:     reply,
		Followup:  reply.FollowupMessage,
		Terminate: terminate,
		Result: &TurnResult{
			Type:            in.Modality,
			Analysis:        reply.Analysis,
			FollowupMessage: reply.FollowupMessage,
			Explanation:     reply.Explanation,
			Terminate:       terminate,
		},
	}
	if !terminate {
		return out, nil
	}

	out.Result.LikelyConditions = reply.LikelyConditions
	out.Result.SelectedQuestionnaire = reply.SelectedQuestionnaire
	out.Result.EstimatedScores = reply.EstimatedScores
	out.Anomalies = catalogAnomalies(reply)

	if len(reply.EstimatedScores) == 0 {
		out.ScoringPass = &ScoringDirective{
			Transcript:            ri.scoringTranscript(plan),
			LikelyConditions:      reply.LikelyConditions,
			SelectedQuestionnaire: scoringQuestionnaire(reply),
		}
	}
	return out, nil
}

// scoringQuestionnaire falls back to the instrument of the first likely
// condition when the reply selected none.
func scoringQuestionnaire(reply StructuredReply) *catalog.Questionnaire {
	if reply.SelectedQuestionnaire != nil {
		return reply.SelectedQuestionnaire
	}
	for _, c := range reply.LikelyConditions {
		if q, ok := catalog.QuestionnaireFor(c); ok {
			return &q
		}
	}
	return nil
}

func (ri *ReplyInterpreter) scoringTranscript(plan *TurnPlan) string {
	if plan == nil || plan.Session == nil {
		return ""
	}
	fragments := plan.Session.Fragments()
	if text := ri.prompts.Sanitize(fragments); text != "" {
		return text
	}
	return prompts.Join(fragments)
}

func catalogAnomalies(reply StructuredReply) []Anomaly {
	var out []Anomaly
	for _, c := range reply.LikelyConditions {
		if !c.Valid() {
			out = append(out, Anomaly{Field: "likely_conditions", Value: string(c)})
		}
	}
	if q := reply.SelectedQuestionnaire; q != nil && !q.Valid() {
		out = append(out, Anomaly{Field: "selected_questionnaire", Value: string(*q)})
	}
	return out
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s=%q", a.Field, a.Value)
}
