package relay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"
)

// ToolDef declares one tool the model may call. Definitions are loaded
// from YAML; the relay advertises them upstream and routes the model's
// tool_call events to whichever client owns the conversation.
type ToolDef struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Parameters is the JSON Schema for the call arguments.
	Parameters *ParamsSchema `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// ResultFilter is an optional jq expression applied to the tool's
	// JSON output before it is forwarded upstream. It keeps bulky
	// client results out of the model's context.
	ResultFilter *ResultFilter `yaml:"result_filter,omitempty" json:"result_filter,omitempty"`
}

// ParamsSchema wraps jsonschema.Schema so it can live in YAML tool
// files. YAML decodes into a plain map which round-trips through JSON
// into the schema type.
type ParamsSchema struct {
	*jsonschema.Schema
}

// MarshalJSON implements json.Marshaler.
func (s ParamsSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Schema)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ParamsSchema) UnmarshalJSON(data []byte) error {
	s.Schema = &jsonschema.Schema{}
	return json.Unmarshal(data, s.Schema)
}

// MarshalYAML implements yaml.Marshaler.
func (s ParamsSchema) MarshalYAML() (any, error) {
	if s.Schema == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s.Schema)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *ParamsSchema) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.Schema = &jsonschema.Schema{}
	if err := json.Unmarshal(raw, s.Schema); err != nil {
		return fmt.Errorf("invalid parameters schema: %w", err)
	}
	return nil
}

// asMap renders the schema as a plain JSON object for the upstream
// session.update payload.
func (s *ParamsSchema) asMap() (map[string]any, error) {
	if s == nil || s.Schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	raw, err := json.Marshal(s.Schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ResultFilter wraps a jq expression with its pre-parsed query. The
// expression is parsed during deserialization to catch errors at load
// time instead of mid-conversation.
type ResultFilter struct {
	Expr  string
	Query *gojq.Query
}

// MarshalYAML implements yaml.Marshaler.
func (f ResultFilter) MarshalYAML() (any, error) {
	return f.Expr, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *ResultFilter) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode(&f.Expr); err != nil {
		return err
	}
	if f.Expr == "" {
		return nil
	}
	query, err := gojq.Parse(f.Expr)
	if err != nil {
		return fmt.Errorf("invalid jq expression %q: %w", f.Expr, err)
	}
	f.Query = query
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f ResultFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Expr)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *ResultFilter) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &f.Expr); err != nil {
		return err
	}
	if f.Expr == "" {
		return nil
	}
	query, err := gojq.Parse(f.Expr)
	if err != nil {
		return fmt.Errorf("invalid jq expression %q: %w", f.Expr, err)
	}
	f.Query = query
	return nil
}

// Run executes the filter on the input and returns the first result as
// a JSON string.
func (f *ResultFilter) Run(input any) (string, error) {
	if f == nil || f.Query == nil {
		return "", nil
	}
	iter := f.Query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return "", fmt.Errorf("jq expression returned no result")
	}
	if err, ok := v.(error); ok {
		return "", fmt.Errorf("jq error: %w", err)
	}
	result, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal jq result: %w", err)
	}
	return string(result), nil
}

// ToolSet is the validated collection of tool definitions the relay
// advertises for every conversation.
type ToolSet struct {
	Tools []*ToolDef

	byName map[string]*ToolDef
}

type toolsFile struct {
	Tools []*ToolDef `yaml:"tools"`
}

// ParseTools parses a YAML tool file.
func ParseTools(data []byte) (*ToolSet, error) {
	var file toolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("relay: parse tools: %w", err)
	}

	ts := &ToolSet{
		Tools:  file.Tools,
		byName: make(map[string]*ToolDef, len(file.Tools)),
	}
	for i, td := range file.Tools {
		if td == nil || td.Name == "" {
			return nil, fmt.Errorf("relay: tool %d has no name", i)
		}
		if _, dup := ts.byName[td.Name]; dup {
			return nil, fmt.Errorf("relay: duplicate tool %q", td.Name)
		}
		ts.byName[td.Name] = td
	}
	return ts, nil
}

// LoadTools reads and parses a YAML tool file from disk.
func LoadTools(path string) (*ToolSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("relay: load tools: %w", err)
	}
	ts, err := ParseTools(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return ts, nil
}

// Len returns the number of tools. Nil-safe.
func (ts *ToolSet) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.Tools)
}

// Lookup returns the named tool, or nil.
func (ts *ToolSet) Lookup(name string) *ToolDef {
	if ts == nil {
		return nil
	}
	return ts.byName[name]
}

// upstreamDefs renders the set in the upstream session.update tool
// format.
func (ts *ToolSet) upstreamDefs() ([]map[string]any, error) {
	if ts.Len() == 0 {
		return nil, nil
	}
	defs := make([]map[string]any, 0, len(ts.Tools))
	for _, td := range ts.Tools {
		params, err := td.Parameters.asMap()
		if err != nil {
			return nil, fmt.Errorf("relay: tool %q parameters: %w", td.Name, err)
		}
		def := map[string]any{
			"type":       "function",
			"name":       td.Name,
			"parameters": params,
		}
		if td.Description != "" {
			def["description"] = td.Description
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// FilterResult applies the named tool's result filter to a JSON output
// string. Unknown tools and tools without a filter pass through
// unchanged; a filter failure returns the original output alongside the
// error so the caller can fall back to it.
func (ts *ToolSet) FilterResult(name, output string) (string, error) {
	td := ts.Lookup(name)
	if td == nil || td.ResultFilter == nil {
		return output, nil
	}
	var v any
	if err := json.Unmarshal([]byte(output), &v); err != nil {
		return output, fmt.Errorf("relay: tool %q output is not JSON: %w", name, err)
	}
	filtered, err := td.ResultFilter.Run(v)
	if err != nil {
		return output, fmt.Errorf("relay: tool %q filter: %w", name, err)
	}
	return filtered, nil
}
