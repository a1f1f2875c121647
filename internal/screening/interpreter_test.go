package screening

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/psychiatrai/internal/catalog"
	"github.com/wolfman30/psychiatrai/internal/prompts"
)

func interpretPlan() *TurnPlan {
	return &TurnPlan{
		Session: &Session{
			ID: "s1",
			Transcript: []TranscriptEntry{
				{Kind: EntryInitial, Text: "I feel on edge most days"},
				{Kind: EntryAnswer, TurnNumber: 1, Text: "It started after I changed jobs"},
			},
		},
		TurnNumber: 1,
	}
}

func TestInterpret_ScoringQuestionnaireFallback(t *testing.T) {
	ri := NewReplyInterpreter(prompts.New(prompts.DefaultMaxQuestions))
	in := TurnInput{Modality: ModalityText, TextContent: "ok", SessionID: "s1"}

	tests := []struct {
		name string
		raw  string
		want *catalog.Questionnaire
	}{
		{
			name: "selected questionnaire wins",
			raw:  `{"generated_followup_response":"Thanks","terminate_chat":true,"likely_conditions":["Anxiety"],"selected_questionnaire":"PHQ-9"}`,
			want: ptr(catalog.QuestionnairePHQ9),
		},
		{
			name: "falls back to first known condition",
			raw:  `{"generated_followup_response":"Thanks","terminate_chat":true,"likely_conditions":["Other","Anxiety"]}`,
			want: ptr(catalog.QuestionnaireGAD7),
		},
		{
			name: "no instrument for conditions",
			raw:  `{"generated_followup_response":"Thanks","terminate_chat":true,"likely_conditions":["No Condition"]}`,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ri.Interpret(tt.raw, interpretPlan(), in)
			require.NoError(t, err)
			require.NotNil(t, out.ScoringPass)
			assert.Equal(t, tt.want, out.ScoringPass.SelectedQuestionnaire)
			assert.Contains(t, out.ScoringPass.Transcript, "changed jobs")
		})
	}
}

func TestInterpret_FallbackDoesNotLeakIntoResult(t *testing.T) {
	ri := NewReplyInterpreter(nil)
	in := TurnInput{Modality: ModalityText, TextContent: "ok", SessionID: "s1"}

	out, err := ri.Interpret(`{"generated_followup_response":"Thanks","terminate_chat":true,"likely_conditions":["Depression"]}`, interpretPlan(), in)
	require.NoError(t, err)
	assert.Nil(t, out.Result.SelectedQuestionnaire)
	assert.Equal(t, []catalog.Condition{catalog.ConditionDepression}, out.Result.LikelyConditions)
}

func TestInterpret_ContinuingTurn(t *testing.T) {
	ri := NewReplyInterpreter(nil)
	in := TurnInput{Modality: ModalityAudio, SessionID: "s1"}

	out, err := ri.Interpret(`{"generated_followup_response":"How is your sleep?","generated_analysis":"worried","likely_conditions":["Anxiety"]}`, interpretPlan(), in)
	require.NoError(t, err)
	assert.False(t, out.Terminate)
	assert.Nil(t, out.ScoringPass)
	assert.Empty(t, out.Anomalies)
	assert.Equal(t, "How is your sleep?", out.Followup)
	assert.Equal(t, ModalityAudio, out.Result.Type)
	require.NotNil(t, out.Result.Analysis)
	assert.Equal(t, "worried", *out.Result.Analysis)
	assert.Nil(t, out.Result.LikelyConditions)
}

func TestInterpret_Rejects(t *testing.T) {
	ri := NewReplyInterpreter(nil)
	in := TurnInput{Modality: ModalityText, TextContent: "ok", SessionID: "s1"}

	for name, raw := range map[string]string{
		"empty":          "  ",
		"blank followup": `{"generated_followup_response":"   "}`,
		"not json":       "I cannot answer that",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ri.Interpret(raw, interpretPlan(), in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSchemaViolation))
		})
	}
}

func TestInterpret_ReportsAnomalies(t *testing.T) {
	ri := NewReplyInterpreter(nil)
	in := TurnInput{Modality: ModalityText, TextContent: "ok", SessionID: "s1"}

	out, err := ri.Interpret(`{"generated_followup_response":"Bye","terminate_chat":true,"likely_conditions":["Burnout"],"selected_questionnaire":"BAT","estimated_questionnaire_scores":{"q1":2}}`, interpretPlan(), in)
	require.NoError(t, err)
	assert.Nil(t, out.ScoringPass)
	require.Len(t, out.Anomalies, 2)
	assert.Equal(t, `likely_conditions="Burnout"`, out.Anomalies[0].String())
	assert.Equal(t, `selected_questionnaire="BAT"`, out.Anomalies[1].String())
	assert.Equal(t, ScoreMap{"q1": "2"}, out.Result.EstimatedScores)
}

func ptr[T any](v T) *T {
	return &v
}
