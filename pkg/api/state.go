package api

import "fmt"

// ValidateExecutionTransition checks whether an execution status transition
// is valid. An empty "from" status is the state before the request exists.
// Succeeded, failed and timed_out are terminal.
func ValidateExecutionTransition(from, to ExecutionStatus) *APIError {
	valid := map[ExecutionStatus][]ExecutionStatus{
		"":               {ExecutionPending},
		ExecutionPending: {ExecutionRunning, ExecutionFailed},
		ExecutionRunning: {ExecutionSucceeded, ExecutionFailed, ExecutionTimedOut},
	}

	allowed, exists := valid[from]
	if !exists {
		return NewInvalidRequestError("status",
			fmt.Sprintf("invalid transition from %s to %s", from, to))
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return NewInvalidRequestError("status",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed || s == ExecutionTimedOut
}
