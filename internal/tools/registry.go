// Package tools holds the capabilities the model may invoke mid-turn.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/rbright/parley/internal/conversation"
)

// Capability is one invocable tool.
type Capability interface {
	Spec() Spec
	Execute(ctx context.Context, input map[string]any) ([]conversation.Text, error)
}

type entry struct {
	capability Capability
	spec       Spec
	schema     *gojsonschema.Schema
}

// Registry maps tool names to capabilities. Registration happens at
// startup; Execute is safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// Register adds c. Names must be unique and schemas must compile.
func (r *Registry) Register(c Capability) error {
	spec := c.Spec()
	if spec.Name == "" {
		return errors.New("tool name is required")
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[spec.Name]; exists {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}
	r.entries[spec.Name] = entry{capability: c, spec: spec, schema: schema}
	return nil
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the model-facing description of every capability.
func (r *Registry) Schemas() []conversation.ToolSchema {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]conversation.ToolSchema, 0, len(names))
	for _, name := range names {
		spec := r.entries[name].spec
		schemas = append(schemas, conversation.ToolSchema{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.Schema(),
		})
	}
	return schemas
}

// Execute validates call.Input, applies defaults and runs the capability.
// The returned result always echoes call.ID.
func (r *Registry) Execute(ctx context.Context, call conversation.ToolCall) (conversation.ToolResult, error) {
	r.mu.RLock()
	e, ok := r.entries[call.Name]
	r.mu.RUnlock()
	if !ok {
		return conversation.ToolResult{}, &UnknownToolError{Name: call.Name}
	}

	input := call.Input
	if input == nil {
		input = map[string]any{}
	}
	if err := validate(e, input); err != nil {
		return conversation.ToolResult{}, err
	}

	content, err := e.capability.Execute(ctx, e.spec.withDefaults(input))
	if err != nil {
		return conversation.ToolResult{}, &ExecutionError{Name: call.Name, Err: err}
	}
	if len(content) == 0 {
		content = []conversation.Text{{Value: "The tool returned no content."}}
	}

	if r.logger != nil {
		r.logger.Debug("tool executed", "tool", call.Name, "tool_use_id", call.ID, "blocks", len(content))
	}
	return conversation.ToolResult{ID: call.ID, Content: content}, nil
}

func validate(e entry, input map[string]any) error {
	result, err := e.schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return &InvalidInputError{Name: e.spec.Name, Problems: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &InvalidInputError{Name: e.spec.Name, Problems: problems}
}

// ErrorResult folds err into a tool result for call so the model can react
// to the failure.
func ErrorResult(call conversation.ToolCall, err error) conversation.ToolResult {
	return conversation.ToolResult{
		ID:      call.ID,
		Content: []conversation.Text{{Value: fmt.Sprintf("Error executing %s: %v", call.Name, err)}},
		IsError: true,
	}
}
