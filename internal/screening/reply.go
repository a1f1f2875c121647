package screening

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/wolfman30/psychiatrai/internal/catalog"
)

// StructuredReply is the typed model output for one turn.
type StructuredReply struct {
	Analysis              *string                `json:"generated_analysis,omitempty" jsonschema:"description=Analysis of the user's latest answer"`
	FollowupMessage       string                 `json:"generated_followup_response" jsonschema:"required,minLength=1,description=Reply to the user; a closing message when terminating"`
	Explanation           *string                `json:"generated_explanation,omitempty" jsonschema:"description=Reasoning behind the analysis and reply"`
	LikelyConditions      []catalog.Condition    `json:"likely_conditions,omitempty"`
	SelectedQuestionnaire *catalog.Questionnaire `json:"selected_questionnaire,omitempty"`
	EstimatedScores       ScoreMap               `json:"estimated_questionnaire_scores,omitempty"`
	Terminate             *bool                  `json:"terminate_chat,omitempty" jsonschema:"description=True only on the last response"`
}

// ShouldTerminate reports the terminate flag, defaulting to false when absent.
func (r StructuredReply) ShouldTerminate() bool {
	return r.Terminate != nil && *r.Terminate
}

// ScoreMap maps questionnaire items to estimated scores. It decodes from a
// JSON object or from the "item1:score1, item2:score2" string form.
type ScoreMap map[string]string

// UnmarshalJSON accepts an object with string or numeric values, a score
// list string, or null.
func (m *ScoreMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*m = nil
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseScoreList(s)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case data[0] == '{':
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make(ScoreMap, len(raw))
		for item, v := range raw {
			switch val := v.(type) {
			case nil:
				continue
			case string:
				out[item] = val
			case float64:
				out[item] = strconv.FormatFloat(val, 'f', -1, 64)
			case bool:
				out[item] = strconv.FormatBool(val)
			default:
				b, err := json.Marshal(val)
				if err != nil {
					return err
				}
				out[item] = string(b)
			}
		}
		*m = out
		return nil
	default:
		return fmt.Errorf("screening: scores must be an object or string, got %s", truncate(string(data), 32))
	}
}

// JSONSchema describes the accepted score encodings.
func (ScoreMap) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Description: "Estimated score per questionnaire item",
		OneOf: []*jsonschema.Schema{
			{
				Type: "object",
				AdditionalProperties: &jsonschema.Schema{
					AnyOf: []*jsonschema.Schema{{Type: "string"}, {Type: "number"}},
				},
			},
			{
				Type:        "string",
				Description: `Item scores formatted as "item1:score1, item2:score2, ..."`,
			},
		},
	}
}

// ParseScoreList parses "item1:score1, item2:score2". Blank input yields nil.
func ParseScoreList(s string) (ScoreMap, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := ScoreMap{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.LastIndex(pair, ":")
		if idx <= 0 || idx == len(pair)-1 {
			return nil, fmt.Errorf("screening: malformed score entry %q", pair)
		}
		item := strings.TrimSpace(pair[:idx])
		score := strings.TrimSpace(pair[idx+1:])
		if item == "" || score == "" {
			return nil, fmt.Errorf("screening: malformed score entry %q", pair)
		}
		out[item] = score
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// ParseLooseScores extracts a score mapping from free-form model text. It is
// used for the scoring pass, whose output is not schema constrained.
func ParseLooseScores(text string) (ScoreMap, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, errors.New("screening: empty scoring output")
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var scores ScoreMap
		if err := json.Unmarshal([]byte(text[start:end+1]), &scores); err == nil && len(scores) > 0 {
			return scores, nil
		}
	}
	scores, err := ParseScoreList(text)
	if err != nil {
		return nil, fmt.Errorf("screening: unparsable scoring output: %w", err)
	}
	if len(scores) == 0 {
		return nil, errors.New("screening: scoring output contained no scores")
	}
	return scores, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
