// Package api defines the core types of the kgquery analytic pipeline.
//
// It covers the values handed from stage to stage (query analysis, code
// artifacts, execution results), the externally visible response envelope,
// streaming stage events, error types, execution state machine validation,
// and ID generation.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O.
//
// Core types:
//   - [QueryRequest]: Caller input (question, optional explicit dates, context)
//   - [QueryAnalysis]: Classification of intent, scope and target node types
//   - [CodeArtifact]: Analysis code tagged with its origin and validation state
//   - [ExecutionResult]: Outcome of one sandboxed execution
//   - [ResponseEnvelope]: The unit of work returned to callers
//   - [StageEvent]: Server-sent event emitted as pipeline stages complete
//   - [APIError]: Structured error with type, code, param, and message
package api
