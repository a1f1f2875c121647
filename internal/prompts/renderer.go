package prompts

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig"
)

// Renderer compiles prompt templates with strict missing-key semantics and
// the sprig text function map.
type Renderer struct{}

// Parse compiles tmpl under name.
func (Renderer) Parse(name, tmpl string) (*template.Template, error) {
	if tmpl == "" {
		return nil, fmt.Errorf("prompts: template %s: text required", name)
	}
	t, err := template.New(name).
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("prompts: parse %s: %w", name, err)
	}
	return t, nil
}

// Render compiles and executes tmpl in one step.
func (r Renderer) Render(name, tmpl string, data any) (string, error) {
	t, err := r.Parse(name, tmpl)
	if err != nil {
		return "", err
	}
	return execute(t, data)
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompts: execute %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
