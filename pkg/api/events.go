package api

// StageEventType identifies the type of a streaming event.
type StageEventType string

const (
	EventQueryCreated   StageEventType = "query.created"
	EventQueryStage     StageEventType = "query.stage"
	EventQueryCompleted StageEventType = "query.completed"
	EventQueryFailed    StageEventType = "query.failed"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageClassify   Stage = "classify"
	StageResolve    Stage = "resolve"
	StageSynthesize Stage = "synthesize"
	StageRepair     Stage = "repair"
	StageExecute    Stage = "execute"
	StageProject    Stage = "project"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{
	StageExtract, StageClassify, StageResolve, StageSynthesize,
	StageRepair, StageExecute, StageProject,
}

// StageEvent represents a single server-sent event emitted while a query
// moves through the pipeline.
type StageEvent struct {
	Type           StageEventType    `json:"type"`
	SequenceNumber int               `json:"sequence_number"`
	QueryID        string            `json:"query_id"`
	Stage          Stage             `json:"stage,omitempty"`
	ElapsedMS      int64             `json:"elapsed_ms,omitempty"`
	Detail         map[string]any    `json:"detail,omitempty"`
	Envelope       *ResponseEnvelope `json:"envelope,omitempty"`
}
