// Package debug provides category-gated debug logging for kgquery.
//
// Categories select which pipeline stages log (KGQUERY_DEBUG or config).
// The level selects verbosity (KGQUERY_LOG_LEVEL or config).
//
//	debug.Log("sandbox", "spawn", "backend", "process", "workdir", dir)
//	if debug.Enabled("synth") { /* expensive formatting */ }
//
// Categories: backend, cache, classify, partition, synth, repair, sandbox, engine,
// storage, auth, transport, config, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace is below slog.LevelDebug. At TRACE, prompts, generated code and
// raw sandbox output are logged untruncated.
const LevelTrace = slog.LevelDebug - 4

// Environment variables consulted by Init.
const (
	EnvCategories = "KGQUERY_DEBUG"
	EnvLevel      = "KGQUERY_LOG_LEVEL"
	EnvFormat     = "KGQUERY_LOG_FORMAT"
)

// categories is read-only after Init.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv(EnvCategories))
}

// Options carries the logging settings from configuration. Environment
// variables take precedence over every field.
type Options struct {
	Categories string
	Level      string
	Format     string // "text" or "json"
}

// Init configures categories and installs the default slog logger.
func Init(opts Options) {
	cats := envOr(EnvCategories, opts.Categories)
	categories = parseCategories(cats)

	level := envOr(EnvLevel, opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(envOr(EnvFormat, opts.Format), "json") {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the given category.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the given category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// Raw writes plain text to stderr, only when the category is enabled at TRACE.
func Raw(category string, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(os.Stderr, text)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories.
func Categories() []string {
	var result []string
	for k := range categories {
		result = append(result, k)
	}
	return result
}

// Truncate returns s cut to maxLen bytes with "..." appended when shortened.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
