// Package schema describes the graph dataset the pipeline queries: node
// types and their properties, relationships, named query patterns and the
// node id conventions used in partition files.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed dataset.yaml
var embedded []byte

// NodeType is one kind of node in the dataset hierarchy.
type NodeType struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Properties  []string `yaml:"properties" json:"properties"`
	ExampleID   string   `yaml:"example_id" json:"example_id"`
	IDPattern   string   `yaml:"id_pattern" json:"id_pattern"`
}

// Relationship is a labelled edge between two hierarchy levels.
type Relationship struct {
	Source      string `yaml:"source" json:"source"`
	Target      string `yaml:"target" json:"target"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description" json:"description"`
}

// QueryPattern is a named analytic recipe and the node types it typically reads.
type QueryPattern struct {
	Name           string   `yaml:"name" json:"name"`
	Description    string   `yaml:"description" json:"description"`
	TypicalNodes   []string `yaml:"typical_nodes" json:"typical_nodes"`
	ExampleQueries []string `yaml:"example_queries" json:"example_queries"`
}

// Schema is the full dataset description.
type Schema struct {
	Hierarchy     []string            `yaml:"hierarchy" json:"hierarchy"`
	NodeTypes     []NodeType          `yaml:"node_types" json:"node_types"`
	Relationships []Relationship      `yaml:"relationships" json:"relationships"`
	QueryPatterns []QueryPattern      `yaml:"query_patterns" json:"query_patterns"`
	CommonFilters map[string][]string `yaml:"common_filters" json:"common_filters"`
}

var defaultSchema = mustParse(embedded)

// Default returns the built-in dataset schema.
func Default() *Schema {
	return defaultSchema
}

// Load reads a schema from a YAML file. An empty path returns Default.
func Load(path string) (*Schema, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing schema %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and checks a YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if len(s.NodeTypes) == 0 {
		return nil, fmt.Errorf("schema defines no node types")
	}
	for _, p := range s.QueryPatterns {
		for _, n := range p.TypicalNodes {
			if !s.ValidNodeType(n) {
				return nil, fmt.Errorf("query pattern %q references unknown node type %q", p.Name, n)
			}
		}
	}
	return &s, nil
}

func mustParse(data []byte) *Schema {
	s, err := Parse(data)
	if err != nil {
		panic("schema: invalid embedded dataset schema: " + err.Error())
	}
	return s
}

// NodeType looks up a node type by name.
func (s *Schema) NodeType(name string) (NodeType, bool) {
	for _, nt := range s.NodeTypes {
		if nt.Name == name {
			return nt, true
		}
	}
	return NodeType{}, false
}

// ValidNodeType reports whether name is a known node type.
func (s *Schema) ValidNodeType(name string) bool {
	_, ok := s.NodeType(name)
	return ok
}

// PropertiesFor returns the properties of a node type, or nil.
func (s *Schema) PropertiesFor(name string) []string {
	nt, _ := s.NodeType(name)
	return nt.Properties
}

// NodeTypesForPattern returns the typical node types of a query pattern, or nil.
func (s *Schema) NodeTypesForPattern(pattern string) []string {
	for _, p := range s.QueryPatterns {
		if p.Name == pattern {
			return p.TypicalNodes
		}
	}
	return nil
}

// ValidPattern reports whether pattern names a known query pattern.
func (s *Schema) ValidPattern(pattern string) bool {
	return s.NodeTypesForPattern(pattern) != nil
}

// Filter returns the common filter values for a category, or nil.
func (s *Schema) Filter(category string) []string {
	return s.CommonFilters[category]
}

// NodeIDPatterns maps node type names to their id convention with an example.
func (s *Schema) NodeIDPatterns() map[string]string {
	out := make(map[string]string, len(s.NodeTypes))
	for _, nt := range s.NodeTypes {
		out[nt.Name] = fmt.Sprintf("%s (e.g., %s)", nt.IDPattern, nt.ExampleID)
	}
	return out
}

// JSON renders the schema as indented JSON for embedding in prompts.
func (s *Schema) JSON() string {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
