package sandbox

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

//go:embed runner.py.tmpl
var runnerSource string

var runnerTmpl = template.Must(template.New("runner").Funcs(template.FuncMap{"lit": pyLiteral}).Parse(runnerSource))

// runnerParams are the values baked into the runner script.
type runnerParams struct {
	CodePath       string
	DataDir        string
	MemoryBytes    int64
	TimeoutSeconds float64
	AllowedImports []string
}

// renderRunner produces the Python script that confines and runs the
// analysis program stored at p.CodePath.
func renderRunner(p runnerParams) (string, error) {
	var b strings.Builder
	if err := runnerTmpl.Execute(&b, p); err != nil {
		return "", fmt.Errorf("rendering runner: %w", err)
	}
	return b.String(), nil
}

// pyLiteral renders strings and string slices as Python literals. JSON
// strings and arrays of strings are valid Python; the empty string becomes
// None.
func pyLiteral(v any) (string, error) {
	if s, ok := v.(string); ok && s == "" {
		return "None", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
