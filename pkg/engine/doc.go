// Package engine runs the query pipeline. The Engine implements
// transport.QueryRunner: it validates the request, then moves the query
// through date extraction, classification, partition resolution, code
// synthesis, repair, sandboxed execution and result projection, strictly in
// that order. Failures inside a stage degrade to that stage's fallback; the
// caller always receives an envelope. Optional capabilities (storage, a
// generation backend) use nil-safe composition.
package engine
