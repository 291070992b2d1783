// Package project shapes a sandbox payload into the caller-facing result and
// derives human-readable insights from it.
package project

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rhuss/kgquery/pkg/api"
)

// Completed is the insight reported when nothing else could be derived.
const Completed = "Query completed successfully"

// Project converts an execution result into a projection. A failed execution
// yields a projection carrying only the error. The clock is used for the
// timestamp.
func Project(res api.ExecutionResult, analysis *api.QueryAnalysis, now time.Time) *api.Projection {
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "Execution failed"
		}
		return &api.Projection{Error: msg}
	}

	p := &api.Projection{
		Data:      res.Payload["data"],
		Metadata:  asMap(res.Payload["metadata"]),
		Summary:   asMap(res.Payload["summary"]),
		Timestamp: now.Format("2006-01-02T15:04:05.000000"),
		SchemaInfo: &api.SchemaInfo{
			NodeTypesUsed: []string{},
			QueryPattern:  api.PatternGeneral,
		},
	}
	if p.Data == nil {
		p.Data = []any{}
	}
	if analysis != nil {
		p.QueryType = analysis.Type
		if analysis.TargetNodeTypes != nil {
			p.SchemaInfo.NodeTypesUsed = analysis.TargetNodeTypes
		}
		if analysis.QueryPattern != "" {
			p.SchemaInfo.QueryPattern = analysis.QueryPattern
		}
	}
	// Programs may report their own failure inside an otherwise clean run.
	if msg, ok := res.Payload["error"].(string); ok && msg != "" {
		p.Error = msg
	}
	return p
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Insights derives insight sentences from a projection. It never fails; a
// projection that yields nothing gets the single Completed insight.
func Insights(p *api.Projection) []string {
	if p == nil {
		return []string{Completed}
	}
	if p.Error != "" && p.SchemaInfo == nil {
		return []string{"Query execution failed: " + p.Error}
	}

	var out []string
	if records := records(p.Data); len(records) > 0 {
		out = append(out, fmt.Sprintf("Found %d data points matching your query", len(records)))
		if p.SchemaInfo != nil && len(p.SchemaInfo.NodeTypesUsed) > 0 {
			out = append(out, fmt.Sprintf("Analysis focused on: %s level data", strings.Join(p.SchemaInfo.NodeTypesUsed, ", ")))
		}
		out = append(out, dataInsights(records)...)
	}

	for _, key := range slices.Sorted(maps.Keys(p.Summary)) {
		out = append(out, fmt.Sprintf("%s: %s", titleCase(key), formatValue(p.Summary[key])))
	}

	if p.SchemaInfo != nil && p.SchemaInfo.QueryPattern != "" && p.SchemaInfo.QueryPattern != api.PatternGeneral {
		out = append(out, "Query pattern used: "+p.SchemaInfo.QueryPattern)
	}
	if p.Error != "" {
		out = append(out, "Analysis reported an error: "+p.Error)
	}

	if len(out) == 0 {
		return []string{Completed}
	}
	return out
}

// records returns the object elements of a data list. Anything else in data
// carries no groupable fields.
func records(data any) []map[string]any {
	list, ok := data.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// dataInsights reports groupings found in the records: node type
// distribution, SBU split, date coverage and store coverage.
func dataInsights(records []map[string]any) []string {
	var out []string

	typeCounts := map[string]int{}
	for _, r := range records {
		nt, _ := r["node_type"].(string)
		if nt == "" {
			nt = "unknown"
		}
		typeCounts[nt]++
	}
	if len(typeCounts) > 1 {
		name, n := dominant(typeCounts)
		out = append(out, fmt.Sprintf("Most common data type: %s (%d records)", name, n))
	}

	sbuCounts := map[string]int{}
	for _, r := range records {
		id, _ := r["node_id"].(string)
		switch {
		case strings.Contains(id, "FOOD"):
			sbuCounts["FOOD"]++
		case strings.Contains(id, "HOME"):
			sbuCounts["HOME"]++
		}
	}
	switch len(sbuCounts) {
	case 0:
	case 2:
		out = append(out, fmt.Sprintf("Data includes both FOOD (%d) and HOME (%d) SBUs", sbuCounts["FOOD"], sbuCounts["HOME"]))
	default:
		name, n := dominant(sbuCounts)
		out = append(out, fmt.Sprintf("Data primarily from %s SBU (%d records)", name, n))
	}

	dates := map[string]struct{}{}
	for _, r := range records {
		id, _ := r["node_id"].(string)
		if len(id) >= 8 && isDigits(id[:8]) {
			dates[id[:8]] = struct{}{}
		}
	}
	switch len(dates) {
	case 0:
	case 1:
		for d := range dates {
			out = append(out, "Data from a single date: "+d)
		}
	default:
		out = append(out, fmt.Sprintf("Data spans %d different dates", len(dates)))
	}

	stores := map[string]struct{}{}
	for _, r := range records {
		if st := r["st_cd"]; st != nil && st != "" && st != false {
			stores[formatValue(st)] = struct{}{}
		}
	}
	if len(stores) > 0 {
		out = append(out, fmt.Sprintf("Data covers %d unique stores", len(stores)))
	}
	return out
}

// dominant returns the key with the highest count, the smallest key on ties.
func dominant(counts map[string]int) (string, int) {
	var best string
	n := -1
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		if counts[k] > n {
			best, n = k, counts[k]
		}
	}
	return best, n
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// titleCase turns "total_records" into "Total Records".
func titleCase(key string) string {
	runes := []rune(strings.ReplaceAll(key, "_", " "))
	start := true
	for i, r := range runes {
		if unicode.IsLetter(r) {
			if start {
				runes[i] = unicode.ToUpper(r)
			} else {
				runes[i] = unicode.ToLower(r)
			}
			start = false
		} else {
			start = true
		}
	}
	return string(runes)
}

// formatValue renders a decoded JSON value for an insight sentence. Whole
// numbers print without a fraction.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
