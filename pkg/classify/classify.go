// Package classify turns a question into a QueryAnalysis. A generation
// backend is consulted first when configured; any failure there falls back
// to a deterministic keyword table, so classification never fails.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"text/template"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/provider"
	"github.com/rhuss/kgquery/pkg/schema"
	"github.com/rhuss/kgquery/pkg/temporal"
)

// Strategy names which path produced an analysis.
const (
	StrategyBackend = "backend"
	StrategyKeyword = "keyword"
)

// ErrNoJSON is returned when a backend reply holds no JSON object.
var ErrNoJSON = errors.New("backend reply contains no JSON object")

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// Result is a classification with the path that produced it.
type Result struct {
	Analysis api.QueryAnalysis
	Strategy string
	// Rule is the keyword rule that matched, for the keyword strategy.
	Rule string
	// BackendErr records why the backend path was abandoned, if it was tried.
	BackendErr error
}

// Classifier classifies queries. It is safe for concurrent use.
type Classifier struct {
	backend   provider.Backend
	schema    *schema.Schema
	extractor *temporal.Extractor
	rules     []Rule
	scopes    []ScopeRule
	now       func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithBackend enables backend-assisted classification.
func WithBackend(b provider.Backend) Option {
	return func(c *Classifier) { c.backend = b }
}

// WithRules replaces the keyword classification table.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) { c.rules = rules }
}

// WithClock overrides the date reported to the backend.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// New creates a Classifier over the given schema and date extractor.
func New(s *schema.Schema, extractor *temporal.Extractor, opts ...Option) *Classifier {
	c := &Classifier{
		schema:    s,
		extractor: extractor,
		rules:     DefaultRules,
		scopes:    DefaultScopeRules,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Analyze extracts dates from query and classifies it.
func (c *Classifier) Analyze(ctx context.Context, query string) api.QueryAnalysis {
	return c.Classify(ctx, query, c.extractor.Extract(query)).Analysis
}

// Classify classifies query given dates already extracted from it.
func (c *Classifier) Classify(ctx context.Context, query string, dates []string) Result {
	var backendErr error
	if c.backend != nil {
		a, err := c.classifyWithBackend(ctx, query, dates)
		if err == nil {
			debug.Log("classify", "backend classification", "type", a.Type, "pattern", a.QueryPattern)
			return Result{Analysis: a, Strategy: StrategyBackend}
		}
		backendErr = err
		slog.Warn("backend classification failed, using keyword rules", "error", err)
	}

	a, rule := ApplyRules(query, c.rules, c.scopes)
	a.ExtractedDateRange = dates
	debug.Log("classify", "keyword classification", "rule", rule, "type", a.Type, "pattern", a.QueryPattern)
	return Result{Analysis: a, Strategy: StrategyKeyword, Rule: rule, BackendErr: backendErr}
}

func (c *Classifier) classifyWithBackend(ctx context.Context, query string, dates []string) (api.QueryAnalysis, error) {
	prompt, err := c.prompt(query)
	if err != nil {
		return api.QueryAnalysis{}, err
	}

	reply, err := c.backend.Generate(provider.WithPurpose(ctx, "classify"), prompt)
	if err != nil {
		return api.QueryAnalysis{}, fmt.Errorf("generating classification: %w", err)
	}

	a, err := ParseAnalysis(reply)
	if err != nil {
		return api.QueryAnalysis{}, err
	}
	return c.normalize(a, dates), nil
}

// ParseAnalysis pulls the first JSON object out of a backend reply and
// validates it against the analysis document schema.
func ParseAnalysis(reply string) (api.QueryAnalysis, error) {
	raw := jsonObjectRe.FindString(reply)
	if raw == "" {
		return api.QueryAnalysis{}, ErrNoJSON
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return api.QueryAnalysis{}, fmt.Errorf("decoding classification: %w", err)
	}

	result, err := gojsonschema.Validate(analysisSchema, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return api.QueryAnalysis{}, fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return api.QueryAnalysis{}, fmt.Errorf("classification failed validation: %v", errs)
	}

	var a api.QueryAnalysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return api.QueryAnalysis{}, fmt.Errorf("decoding classification: %w", err)
	}
	return a, nil
}

// normalize fills gaps with defaults and drops anything the schema does not
// know. Backend dates are revalidated; without any, the extracted dates apply.
func (c *Classifier) normalize(a api.QueryAnalysis, dates []string) api.QueryAnalysis {
	def := DefaultAnalysis()
	if a.TimeScope == "" {
		a.TimeScope = def.TimeScope
	}
	if a.GeographicScope == "" {
		a.GeographicScope = def.GeographicScope
	}
	if a.BusinessScope == "" {
		a.BusinessScope = def.BusinessScope
	}
	if a.AnalysisType == "" {
		a.AnalysisType = def.AnalysisType
	}
	if a.Entities == nil {
		a.Entities = []string{}
	}
	if a.QueryPattern == "" || !c.schema.ValidPattern(a.QueryPattern) {
		a.QueryPattern = api.PatternGeneral
	}

	nodes := slices.DeleteFunc(slices.Clone(a.TargetNodeTypes), func(n string) bool {
		return !c.schema.ValidNodeType(n)
	})
	if len(nodes) == 0 {
		nodes = slices.Clone(c.schema.NodeTypesForPattern(a.QueryPattern))
	}
	if len(nodes) == 0 {
		nodes = def.TargetNodeTypes
	}
	a.TargetNodeTypes = nodes

	a.ExtractedDateRange = api.NormalizeDateTokens(a.ExtractedDateRange)
	if a.ExtractedDateRange == nil {
		a.ExtractedDateRange = dates
	}
	return a
}

var promptTmpl = template.Must(template.New("classify").Parse(`Analyze this query about retail/sales data and classify it.

Query: "{{.Query}}"
Current Date: {{.Today}}

Dataset schema:
{{.Schema}}

Determine:
1. type: one of temporal_analysis, spatial_analysis, comparison, aggregation, correlation, impact_analysis
2. time_scope: one of single_month, multi_month, year_over_year, seasonal
3. geographic_scope: one of all_locations, specific_state, specific_stores
4. business_scope: one of all_sbus, specific_sbu, specific_department
5. entities: key entities mentioned (weather events, business units, metrics, places)
6. analysis_type: one of trend, correlation, impact, comparison, aggregation
7. target_node_types: node types from the schema
8. query_pattern: a query pattern name from the schema
9. extracted_date_range: every month the query refers to, as YYYYMM strings

Date examples:
- "January 2022" -> ["202201"]
- "Q1 2023" -> ["202301", "202302", "202303"]
- "March to June 2023" -> ["202303", "202304", "202305", "202306"]
- "Hurricane Ian" -> ["202208", "202209"] (include the month before for comparison)
- "last 3 months" -> the last 3 months up to the current date

Reply with one JSON object only, for example:
{"type": "impact_analysis", "time_scope": "multi_month", "geographic_scope": "specific_state", "business_scope": "specific_sbu", "entities": ["hurricane", "florida"], "analysis_type": "impact", "requires_weather": true, "requires_geospatial": true, "target_node_types": ["weather", "day_store", "store"], "query_pattern": "weather_impact", "extracted_date_range": ["202208", "202209"]}
`))

func (c *Classifier) prompt(query string) (string, error) {
	var buf bytes.Buffer
	err := promptTmpl.Execute(&buf, map[string]string{
		"Query":  query,
		"Today":  c.now().Format("2006-01-02"),
		"Schema": c.schema.JSON(),
	})
	if err != nil {
		return "", fmt.Errorf("rendering classification prompt: %w", err)
	}
	return buf.String(), nil
}
