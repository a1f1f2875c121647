package screening

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Fields the model may send as null.
var nullableReplyFields = []string{
	"generated_analysis",
	"generated_explanation",
	"likely_conditions",
	"selected_questionnaire",
	"estimated_questionnaire_scores",
	"terminate_chat",
}

var (
	schemaOnce       sync.Once
	replySchema      map[string]any
	replyValidator   *gojsonschema.Schema
	replySchemaError error
)

func loadReplySchema() (map[string]any, *gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		replySchema, replySchemaError = buildReplySchema()
		if replySchemaError != nil {
			return
		}
		// Enumerations are advisory: out-of-set tags are reported as
		// anomalies after decoding, not rejected here.
		relaxed := withoutEnums(deepCopy(replySchema))
		replyValidator, replySchemaError = gojsonschema.NewSchema(gojsonschema.NewGoLoader(relaxed))
		if replySchemaError != nil {
			replySchemaError = fmt.Errorf("screening: compile reply schema: %w", replySchemaError)
		}
	})
	return replySchema, replyValidator, replySchemaError
}

// ReplySchema returns the JSON schema the model is asked to follow. The
// returned map is a copy and may be modified.
func ReplySchema() map[string]any {
	schema, _, err := loadReplySchema()
	if err != nil {
		panic(err)
	}
	return deepCopy(schema)
}

func buildReplySchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(&StructuredReply{})
	m, err := schemaToMap(schema)
	if err != nil {
		return nil, fmt.Errorf("screening: reflect reply schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")

	props, ok := m["properties"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("screening: reply schema has no properties")
	}
	for _, name := range nullableReplyFields {
		prop, ok := props[name]
		if !ok {
			return nil, fmt.Errorf("screening: reply schema missing %s", name)
		}
		props[name] = map[string]any{
			"anyOf": []any{prop, map[string]any{"type": "null"}},
		}
	}
	return m, nil
}

// validateReply checks raw JSON against the reply schema.
func validateReply(raw string) error {
	_, validator, err := loadReplySchema()
	if err != nil {
		return err
	}
	result, err := validator.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return &SchemaViolationError{Problems: []string{"reply is not valid JSON: " + err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &SchemaViolationError{Problems: problems}
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func withoutEnums(node any) any {
	switch v := node.(type) {
	case map[string]any:
		delete(v, "enum")
		for k, child := range v {
			v[k] = withoutEnums(child)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = withoutEnums(child)
		}
		return v
	default:
		return v
	}
}

func deepCopy(m map[string]any) map[string]any {
	return copyValue(m).(map[string]any)
}

func copyValue(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = copyValue(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = copyValue(child)
		}
		return out
	default:
		return v
	}
}
