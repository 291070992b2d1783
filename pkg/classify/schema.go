package classify

import "github.com/xeipuuv/gojsonschema"

// analysisSchema is the JSON Schema a backend classification must satisfy.
// Only the shape is enforced; unknown node types and patterns are cleaned up
// afterwards.
var analysisSchema = gojsonschema.NewGoLoader(map[string]any{
	"type":     "object",
	"required": []any{"type"},
	"properties": map[string]any{
		"type": map[string]any{
			"type": "string",
			"enum": []any{
				"temporal_analysis", "spatial_analysis", "comparison",
				"aggregation", "correlation", "impact_analysis",
			},
		},
		"time_scope": map[string]any{
			"type": "string",
			"enum": []any{"single_month", "multi_month", "year_over_year", "seasonal"},
		},
		"geographic_scope":    map[string]any{"type": "string"},
		"business_scope":      map[string]any{"type": "string"},
		"analysis_type":       map[string]any{"type": "string"},
		"query_pattern":       map[string]any{"type": "string"},
		"requires_weather":    map[string]any{"type": "boolean"},
		"requires_geospatial": map[string]any{"type": "boolean"},
		"entities": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"target_node_types": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"extracted_date_range": map[string]any{
			"type":  []any{"array", "null"},
			"items": map[string]any{"type": "string"},
		},
	},
})
