// Package synth drafts the Python analysis program for a classified query.
//
// A configured generation backend is asked first. When it fails or returns
// nothing usable, a deterministic template keyed by the query pattern is
// rendered instead, so synthesis always yields a program.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"text/template"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/provider"
	"github.com/rhuss/kgquery/pkg/schema"
)

// AllowedImports are the modules generated programs are told they may use.
var AllowedImports = []string{"json", "networkx as nx", "pandas as pd", "numpy as np", "datetime", "collections", "itertools", "math"}

var fenceRe = regexp.MustCompile("(?s)```(?:python|py)?[ \t]*\r?\n(.*?)```")

// Synthesizer produces analysis programs.
type Synthesizer struct {
	backend provider.Backend
	schema  *schema.Schema
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithBackend enables backend-generated programs.
func WithBackend(b provider.Backend) Option {
	return func(s *Synthesizer) { s.backend = b }
}

// New creates a Synthesizer describing the given dataset schema to the backend.
func New(s *schema.Schema, opts ...Option) *Synthesizer {
	syn := &Synthesizer{schema: s}
	for _, opt := range opts {
		opt(syn)
	}
	return syn
}

// Synthesize returns an unvalidated program answering query over files.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, analysis api.QueryAnalysis, files []string) api.CodeArtifact {
	if s.backend != nil {
		code, err := s.generate(ctx, query, analysis, files)
		if err == nil {
			debug.Log("synth", "generated program", "bytes", len(code))
			debug.Raw("synth", code)
			return api.CodeArtifact{Source: code, Origin: api.CodeOriginGenerated}
		}
		slog.Warn("code generation failed, using template", "error", err)
	}

	code, err := Template(analysis, files)
	if err != nil {
		slog.Error("template rendering failed", "error", err)
		code = FallbackCode(query, files)
	}
	debug.Log("synth", "template program", "pattern", analysis.QueryPattern, "files", len(files))
	return api.CodeArtifact{Source: code, Origin: api.CodeOriginTemplate}
}

func (s *Synthesizer) generate(ctx context.Context, query string, analysis api.QueryAnalysis, files []string) (string, error) {
	prompt, err := s.Prompt(query, analysis, files)
	if err != nil {
		return "", err
	}
	reply, err := s.backend.Generate(provider.WithPurpose(ctx, "synthesize"), prompt)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	code := Unfence(reply)
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("backend returned no code")
	}
	return code, nil
}

// Unfence returns the body of the first fenced code block in reply, or the
// trimmed reply when it carries no fence.
func Unfence(reply string) string {
	if m := fenceRe.FindStringSubmatch(reply); m != nil {
		return strings.TrimRight(m[1], "\n")
	}
	return strings.TrimSpace(reply)
}

var promptTmpl = template.Must(template.New("synthesize").Parse(`Generate Python code to query knowledge graphs for this analysis.

Query: "{{.Query}}"
Analysis:
{{.Analysis}}
Target files: {{.Files}}

Complete dataset schema:
{{.Schema}}

Requirements:
1. Load each target file with load_graph(path). It returns the node-link
   document {"nodes": [...], "links": [...]}; use nx.node_link_graph on it if
   you need a graph. open() and filesystem access are not available.
2. Query the graph structure according to the hierarchy and node types.
3. Focus on node types: {{.NodeTypes}}
4. Use query pattern: {{.Pattern}}
5. Extract the data relevant to the query.
6. Return results in the standardized format below.

Available imports: {{.Imports}}

Node ID patterns to use:
{{.IDPatterns}}

Code template:
` + "```python" + `
{{.Example}}` + "```" + `

Generate complete, executable Python code that prints the results dictionary
as JSON, with keys data, metadata and summary, plus error on failure.
The final line MUST be: ` + EmitStatement + `
Do not end with a bare results expression.
`))

// Prompt renders the code generation prompt.
func (s *Synthesizer) Prompt(query string, analysis api.QueryAnalysis, files []string) (string, error) {
	analysisJSON, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding analysis: %w", err)
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("encoding files: %w", err)
	}
	nodeTypesJSON, err := json.Marshal(analysis.TargetNodeTypes)
	if err != nil {
		return "", fmt.Errorf("encoding node types: %w", err)
	}
	patternsJSON, err := json.MarshalIndent(s.schema.NodeIDPatterns(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding node id patterns: %w", err)
	}
	example, err := Template(analysis, files)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = promptTmpl.Execute(&buf, map[string]string{
		"Query":      query,
		"Analysis":   string(analysisJSON),
		"Files":      string(filesJSON),
		"Schema":     s.schema.JSON(),
		"NodeTypes":  string(nodeTypesJSON),
		"Pattern":    analysis.QueryPattern,
		"Imports":    strings.Join(AllowedImports, ", "),
		"IDPatterns": string(patternsJSON),
		"Example":    example,
	})
	if err != nil {
		return "", fmt.Errorf("rendering synthesis prompt: %w", err)
	}
	return buf.String(), nil
}
