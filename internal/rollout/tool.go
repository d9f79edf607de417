// Package rollout runs agent episodes: it drives the policy model through
// a tool-calling loop over the mail store and records the transcript.
package rollout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrUnknownTool marks a call to a name outside the registry. The episode
// loop reports these back to the model instead of ending the episode.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is one callable exposed to the policy model. Schema returns the JSON
// schema for the tool's argument object; arguments are validated against it
// before Invoke runs.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Registry is the closed set of tools available to one episode. Lookup is
// by declared name only; nothing outside the set can be invoked.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string
}

// NewRegistry builds a registry from the given tools, compiling each tool's
// argument schema. Duplicate names are an error.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   map[string]Tool{},
		schemas: map[string]*jsonschema.Schema{},
	}
	for _, tool := range tools {
		name := tool.Name()
		if _, ok := r.tools[name]; ok {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}

		schema, err := compileSchema(tool.Schema())
		if err != nil {
			return nil, fmt.Errorf("compiling schema for tool %q: %w", name, err)
		}

		r.tools[name] = tool
		r.schemas[name] = schema
		r.order = append(r.order, name)
	}
	return r, nil
}

// Definitions returns the tool definitions in registration order, in the
// wire shape the policy client sends to the model.
func (r *Registry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Get returns the named tool, or false for anything outside the set.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Invoke validates rawArgs against the tool's schema and runs it. Unknown
// tool names and schema violations are returned as errors for the caller to
// report back to the model as tool results.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownTool, name)
	}

	if rawArgs == "" {
		rawArgs = "{}"
	}
	var value any
	if err := json.Unmarshal([]byte(rawArgs), &value); err != nil {
		return "", fmt.Errorf("tool %q: arguments are not valid JSON: %w", name, err)
	}

	if err := r.schemas[name].Validate(value); err != nil {
		return "", fmt.Errorf("tool %q: invalid arguments: %w", name, err)
	}

	args, ok := value.(map[string]any)
	if !ok {
		return "", fmt.Errorf("tool %q: arguments must be a JSON object", name)
	}
	return tool.Invoke(ctx, args)
}

// ToolDefinition is the wire-level description of a tool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("serializing schema: %w", err)
	}
	var schemaValue any
	if err := json.Unmarshal(raw, &schemaValue); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schemaValue); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	return compiler.Compile("schema.json")
}
