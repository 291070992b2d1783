package api

import (
	"fmt"
	"strings"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxQueryLength int
	MaxDates       int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxQueryLength: 4096,
		MaxDates:       60,
	}
}

// ValidateQueryRequest checks a QueryRequest for validity. It returns an
// *APIError describing the first validation failure, or nil if the request
// is valid.
//
// Explicit dates are checked for shape only. A well-formed date outside the
// dataset range is legal and simply resolves to no partitions.
func ValidateQueryRequest(req *QueryRequest, cfg ValidationConfig) *APIError {
	if strings.TrimSpace(req.Query) == "" {
		return NewInvalidRequestError("query", "query is required")
	}

	if cfg.MaxQueryLength > 0 && len(req.Query) > cfg.MaxQueryLength {
		return NewInvalidRequestError("query",
			fmt.Sprintf("query exceeds maximum length of %d bytes", cfg.MaxQueryLength))
	}

	if cfg.MaxDates > 0 && len(req.Dates) > cfg.MaxDates {
		return NewInvalidRequestError("dates",
			fmt.Sprintf("dates exceeds maximum of %d entries", cfg.MaxDates))
	}

	for i, d := range req.Dates {
		if _, _, ok := ParseDateToken(d); !ok {
			return NewInvalidRequestError(fmt.Sprintf("dates[%d]", i),
				fmt.Sprintf("date %q must use YYYYMM format", d))
		}
	}

	return nil
}
