// Package catalog holds the closed sets of condition and questionnaire tags a
// screening session can conclude with.
package catalog

import "github.com/invopop/jsonschema"

// Condition is a screening outcome category.
type Condition string

const (
	ConditionDepression      Condition = "Depression"
	ConditionAnxiety         Condition = "Anxiety"
	ConditionTrauma          Condition = "Trauma"
	ConditionOCD             Condition = "OCD"
	ConditionBipolarDisorder Condition = "Bipolar Disorder"
	ConditionSubstanceAbuse  Condition = "Substance Abuse"
	ConditionAnger           Condition = "Anger"
	ConditionSleepDisorder   Condition = "Sleep Disorder"
	ConditionSuicide         Condition = "Suicide"
	ConditionOther           Condition = "Other"
	ConditionNone            Condition = "No Condition"
)

// Conditions lists every accepted condition tag in prompt order.
var Conditions = []Condition{
	ConditionDepression,
	ConditionAnxiety,
	ConditionTrauma,
	ConditionOCD,
	ConditionBipolarDisorder,
	ConditionSubstanceAbuse,
	ConditionAnger,
	ConditionSleepDisorder,
	ConditionSuicide,
	ConditionOther,
	ConditionNone,
}

// Valid reports whether c is one of the enumerated tags.
func (c Condition) Valid() bool {
	for _, known := range Conditions {
		if c == known {
			return true
		}
	}
	return false
}

// JSONSchema describes the condition tag for structured model output.
func (Condition) JSONSchema() *jsonschema.Schema {
	enum := make([]any, 0, len(Conditions))
	for _, c := range Conditions {
		enum = append(enum, string(c))
	}
	return &jsonschema.Schema{
		Type:        "string",
		Enum:        enum,
		Description: "Likely condition category",
	}
}

// Questionnaire is the tag of a standardized screening instrument.
type Questionnaire string

const (
	QuestionnairePHQ9  Questionnaire = "PHQ-9"
	QuestionnaireGAD7  Questionnaire = "GAD-7"
	QuestionnaireIESR  Questionnaire = "IES-R"
	QuestionnaireYBOCS Questionnaire = "Y-BOCS"
	QuestionnaireMDQ   Questionnaire = "MDQ"
	QuestionnaireDAST  Questionnaire = "DAST"
	QuestionnaireCAS   Questionnaire = "CAS"
	QuestionnaireSDQ   Questionnaire = "SDQ"
	QuestionnaireSAFES Questionnaire = "SAFES"
)

// Instrument pairs a questionnaire with its full name and target condition.
type Instrument struct {
	Tag       Questionnaire
	Name      string
	Condition Condition
}

// Instruments lists the questionnaires the model may select from.
var Instruments = []Instrument{
	{QuestionnairePHQ9, "Patient Health Questionnaire-9", ConditionDepression},
	{QuestionnaireGAD7, "Generalized Anxiety Disorder-7", ConditionAnxiety},
	{QuestionnaireIESR, "Impact of Event Scale-Revised", ConditionTrauma},
	{QuestionnaireYBOCS, "Yale-Brown Obsessive-Compulsive Scale", ConditionOCD},
	{QuestionnaireMDQ, "Mood Disorder Questionnaire", ConditionBipolarDisorder},
	{QuestionnaireDAST, "Drug Abuse Screening Test", ConditionSubstanceAbuse},
	{QuestionnaireCAS, "Clinical Anger Scale", ConditionAnger},
	{QuestionnaireSDQ, "Sleep Disorders Questionnaire", ConditionSleepDisorder},
	{QuestionnaireSAFES, "Suicide Assessment Five-Item Screen", ConditionSuicide},
}

// Valid reports whether q is one of the enumerated tags.
func (q Questionnaire) Valid() bool {
	_, ok := Lookup(q)
	return ok
}

// JSONSchema describes the questionnaire tag for structured model output.
func (Questionnaire) JSONSchema() *jsonschema.Schema {
	enum := make([]any, 0, len(Instruments))
	for _, in := range Instruments {
		enum = append(enum, string(in.Tag))
	}
	return &jsonschema.Schema{
		Type:        "string",
		Enum:        enum,
		Description: "Questionnaire selected for the most likely condition",
	}
}

// Lookup returns the instrument registered for q.
func Lookup(q Questionnaire) (Instrument, bool) {
	for _, in := range Instruments {
		if in.Tag == q {
			return in, true
		}
	}
	return Instrument{}, false
}

// QuestionnaireFor returns the questionnaire used to score condition c.
func QuestionnaireFor(c Condition) (Questionnaire, bool) {
	for _, in := range Instruments {
		if in.Condition == c {
			return in.Tag, true
		}
	}
	return "", false
}

// ConditionNames returns the condition tags as plain strings.
func ConditionNames() []string {
	out := make([]string, 0, len(Conditions))
	for _, c := range Conditions {
		out = append(out, string(c))
	}
	return out
}
