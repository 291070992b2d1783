package engine

import (
	"time"

	"github.com/rhuss/kgquery/pkg/api"
)

// Config holds configuration for the query engine.
type Config struct {
	// DatasetPath is the directory holding the YYYYMM.json partitions.
	DatasetPath string

	// Timeout and MemoryLimitMB override the executor defaults per query.
	// Zero keeps the executor's own setting.
	Timeout       time.Duration
	MemoryLimitMB int

	// Validation bounds incoming requests. The zero value uses
	// api.DefaultValidationConfig.
	Validation api.ValidationConfig
}

func (c Config) validation() api.ValidationConfig {
	if c.Validation.MaxQueryLength <= 0 {
		return api.DefaultValidationConfig()
	}
	return c.Validation
}
