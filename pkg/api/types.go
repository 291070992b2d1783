package api

// Query types produced by classification.
const (
	QueryTypeAggregation      = "aggregation"
	QueryTypeComparison       = "comparison"
	QueryTypeTemporalAnalysis = "temporal_analysis"
	QueryTypeImpactAnalysis   = "impact_analysis"
)

// Time scopes drive partition auto-selection.
const (
	TimeScopeSingleMonth  = "single_month"
	TimeScopeMultiMonth   = "multi_month"
	TimeScopeYearOverYear = "year_over_year"
)

// Query patterns name the analytic recipes applied by the code template.
const (
	PatternSBUAnalysis        = "sbu_analysis"
	PatternStorePerformance   = "store_performance"
	PatternDepartmentAnalysis = "department_analysis"
	PatternWeatherImpact      = "weather_impact"
	PatternGeographicAnalysis = "geographic_analysis"
	PatternTemporalAnalysis   = "temporal_analysis"
	PatternGeneral            = "general"
)

// QueryRequest is the caller-facing input for a single analytic question.
type QueryRequest struct {
	Query   string         `json:"query"`
	Dates   []string       `json:"dates,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	Stream  bool           `json:"stream,omitempty"`
}

// QueryAnalysis is the classification of a query. It is produced once per
// query and not modified afterwards.
type QueryAnalysis struct {
	Type               string   `json:"type"`
	TimeScope          string   `json:"time_scope"`
	GeographicScope    string   `json:"geographic_scope"`
	BusinessScope      string   `json:"business_scope"`
	Entities           []string `json:"entities"`
	TargetNodeTypes    []string `json:"target_node_types"`
	QueryPattern       string   `json:"query_pattern"`
	AnalysisType       string   `json:"analysis_type,omitempty"`
	RequiresWeather    bool     `json:"requires_weather"`
	RequiresGeospatial bool     `json:"requires_geospatial"`
	ExtractedDateRange []string `json:"extracted_date_range"`
}

// CodeOrigin records where a code artifact came from.
type CodeOrigin string

const (
	CodeOriginGenerated CodeOrigin = "generated"
	CodeOriginTemplate  CodeOrigin = "template"
)

// CodeArtifact is a unit of analysis code on its way to the sandbox. Repair
// stages replace the artifact rather than editing it.
type CodeArtifact struct {
	Source           string     `json:"source_text"`
	Origin           CodeOrigin `json:"origin"`
	Validated        bool       `json:"validated"`
	ValidationErrors []string   `json:"validation_errors,omitempty"`
}

// ExecutionStatus is the state of a sandboxed execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimedOut  ExecutionStatus = "timed_out"
)

// ExecutionResult is produced exactly once per execution attempt.
type ExecutionResult struct {
	Success         bool            `json:"success"`
	Status          ExecutionStatus `json:"status"`
	Payload         map[string]any  `json:"payload"`
	Stdout          string          `json:"stdout,omitempty"`
	Stderr          string          `json:"stderr,omitempty"`
	Error           string          `json:"error,omitempty"`
	FailureKind     FailureKind     `json:"failure_kind,omitempty"`
	Backend         string          `json:"backend,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
}

// SchemaInfo describes which parts of the dataset schema a query used.
type SchemaInfo struct {
	NodeTypesUsed []string `json:"node_types_used"`
	QueryPattern  string   `json:"query_pattern"`
}

// Projection is the shaped execution payload. On failure only Error is set.
type Projection struct {
	QueryType  string         `json:"query_type,omitempty"`
	Data       any            `json:"data,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
	SchemaInfo *SchemaInfo    `json:"schema_info,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// CodeValidation reports the outcome of the repair funnel.
type CodeValidation struct {
	IsValid      bool     `json:"is_valid"`
	Errors       []string `json:"errors"`
	UsedFallback bool     `json:"used_fallback"`
}

// ResponseEnvelope is the externally visible result of one query.
type ResponseEnvelope struct {
	ID               string         `json:"id"`
	Object           string         `json:"object"`
	CreatedAt        int64          `json:"created_at"`
	Query            string         `json:"query"`
	Data             *Projection    `json:"data"`
	GeneratedCode    string         `json:"generated_code"`
	OriginalCode     string         `json:"original_code,omitempty"`
	CodeValidation   CodeValidation `json:"code_validation"`
	QueryType        string         `json:"query_type"`
	Analysis         *QueryAnalysis `json:"analysis,omitempty"`
	Insights         []string       `json:"insights"`
	TargetFiles      []string       `json:"target_files"`
	ExecutionSuccess bool           `json:"execution_success"`
	Error            string         `json:"error,omitempty"`
	FailureKind      FailureKind    `json:"failure_kind,omitempty"`
	ExecutionTimeMS  int64          `json:"execution_time_ms"`
	ElapsedMS        int64          `json:"elapsed_ms"`
}

// EnvelopeList is a paginated list of stored envelopes.
type EnvelopeList struct {
	Object  string              `json:"object"`
	Data    []*ResponseEnvelope `json:"data"`
	HasMore bool                `json:"has_more"`
	FirstID string              `json:"first_id,omitempty"`
	LastID  string              `json:"last_id,omitempty"`
}
