package classify

import (
	"regexp"
	"strings"

	"github.com/rhuss/kgquery/pkg/api"
)

// Rule is one row of the keyword classification table. The first rule whose
// predicate matches applies its patch; later rules are not consulted.
type Rule struct {
	Name  string
	Match func(query string) bool
	Patch func(a *api.QueryAnalysis)
}

// ScopeRule refines scope fields. Every matching scope rule applies.
type ScopeRule struct {
	Name  string
	Match func(query string) bool
	Patch func(a *api.QueryAnalysis)
}

// anyWord matches any of the keywords at a word start, so "store" also
// matches "stores" but "vs" does not match "canvas".
func anyWord(keywords ...string) func(string) bool {
	parts := make([]string, len(keywords))
	for i, k := range keywords {
		parts[i] = strings.Join(strings.Fields(regexp.QuoteMeta(k)), `\s+`)
	}
	re := regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)`)
	return re.MatchString
}

// DefaultRules is the built-in classification table, evaluated top to bottom.
var DefaultRules = []Rule{
	{
		Name:  "weather",
		Match: anyWord("hurricane", "storm", "weather", "temperature"),
		Patch: func(a *api.QueryAnalysis) {
			a.Type = api.QueryTypeImpactAnalysis
			a.AnalysisType = "impact"
			a.RequiresWeather = true
			a.RequiresGeospatial = true
			a.TargetNodeTypes = []string{"weather", "day_store", "store"}
			a.QueryPattern = api.PatternWeatherImpact
		},
	},
	{
		Name:  "comparison",
		Match: anyWord("compare", "vs", "versus", "difference"),
		Patch: func(a *api.QueryAnalysis) {
			a.Type = api.QueryTypeComparison
			a.AnalysisType = "comparison"
			a.TargetNodeTypes = []string{"sbu", "dept", "store"}
		},
	},
	{
		Name:  "trend",
		Match: anyWord("trend", "over time", "timeline", "before", "after"),
		Patch: func(a *api.QueryAnalysis) {
			a.Type = api.QueryTypeTemporalAnalysis
			a.AnalysisType = "trend"
			a.TimeScope = api.TimeScopeMultiMonth
			a.TargetNodeTypes = []string{"month", "day", "sbu", "store"}
			a.QueryPattern = api.PatternTemporalAnalysis
		},
	},
	{
		Name:  "store",
		Match: anyWord("store", "location", "shop"),
		Patch: func(a *api.QueryAnalysis) {
			a.TargetNodeTypes = []string{"store", "day_store", "sbu_store"}
			a.QueryPattern = api.PatternStorePerformance
		},
	},
	{
		Name:  "department",
		Match: anyWord("department", "category", "dept"),
		Patch: func(a *api.QueryAnalysis) {
			a.TargetNodeTypes = []string{"dept", "store"}
			a.QueryPattern = api.PatternDepartmentAnalysis
		},
	},
}

// DefaultScopeRules refine geographic and business scope.
var DefaultScopeRules = []ScopeRule{
	{
		Name:  "state",
		Match: anyWord("state", "florida", "california", "texas"),
		Patch: func(a *api.QueryAnalysis) {
			a.GeographicScope = "specific_state"
			a.RequiresGeospatial = true
		},
	},
	{
		Name:  "sbu",
		Match: anyWord("food", "home"),
		Patch: func(a *api.QueryAnalysis) {
			a.BusinessScope = "specific_sbu"
		},
	},
}

// entityWords are recorded in Entities when they occur in the query.
var entityWords = []string{"hurricane", "storm", "weather", "temperature", "food", "home", "florida", "california", "texas"}

var entityMatchers = func() []func(string) bool {
	out := make([]func(string) bool, len(entityWords))
	for i, w := range entityWords {
		out[i] = anyWord(w)
	}
	return out
}()

// DefaultAnalysis returns the analysis used when no rule matches.
func DefaultAnalysis() api.QueryAnalysis {
	return api.QueryAnalysis{
		Type:            api.QueryTypeAggregation,
		TimeScope:       api.TimeScopeSingleMonth,
		GeographicScope: "all_locations",
		BusinessScope:   "all_sbus",
		Entities:        []string{},
		AnalysisType:    "aggregation",
		TargetNodeTypes: []string{"sbu", "store"},
		QueryPattern:    api.PatternSBUAnalysis,
	}
}

// ApplyRules classifies query with the keyword tables. It never fails.
func ApplyRules(query string, rules []Rule, scopes []ScopeRule) (api.QueryAnalysis, string) {
	a := DefaultAnalysis()
	matched := "default"
	for _, r := range rules {
		if r.Match(query) {
			r.Patch(&a)
			matched = r.Name
			break
		}
	}
	for _, s := range scopes {
		if s.Match(query) {
			s.Patch(&a)
		}
	}
	for i, match := range entityMatchers {
		if match(query) {
			a.Entities = append(a.Entities, entityWords[i])
		}
	}
	return a, matched
}
