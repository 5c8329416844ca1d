package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/conversation"
)

type echoCapability struct {
	lastInput map[string]any
	err       error
}

func (e *echoCapability) Spec() Spec {
	return Spec{
		Name:        "echo",
		Description: "Echo the message.",
		Params: []Param{
			{Name: "message", Type: "string", Description: "Text to echo.", Required: true},
			{Name: "times", Type: "integer", Description: "Repeat count.", Default: 1},
		},
	}
}

func (e *echoCapability) Execute(_ context.Context, input map[string]any) ([]conversation.Text, error) {
	e.lastInput = input
	if e.err != nil {
		return nil, e.err
	}
	return []conversation.Text{{Value: StringArg(input, "message")}}, nil
}

func TestRegistryExecuteAppliesDefaultsAndEchoesID(t *testing.T) {
	capability := &echoCapability{}
	registry := NewRegistry(nil)
	require.NoError(t, registry.Register(capability))

	result, err := registry.Execute(context.Background(), conversation.ToolCall{
		ID:    "call-7",
		Name:  "echo",
		Input: map[string]any{"message": "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "call-7", result.ID)
	require.Equal(t, []conversation.Text{{Value: "hi"}}, result.Content)
	require.False(t, result.IsError)
	require.Equal(t, 1, capability.lastInput["times"])
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	registry := NewRegistry(nil)
	require.NoError(t, registry.Register(&echoCapability{}))
	require.ErrorContains(t, registry.Register(&echoCapability{}), "already registered")
}

func TestRegistryUnknownTool(t *testing.T) {
	registry := NewRegistry(nil)

	_, err := registry.Execute(context.Background(), conversation.ToolCall{ID: "x", Name: "teleport"})

	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "teleport", unknown.Name)
}

func TestRegistryValidatesInputAgainstSchema(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
	}{
		{name: "missing required", input: map[string]any{}},
		{name: "wrong type", input: map[string]any{"message": 42}},
		{name: "fractional integer", input: map[string]any{"message": "hi", "times": 1.5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			capability := &echoCapability{}
			registry := NewRegistry(nil)
			require.NoError(t, registry.Register(capability))

			_, err := registry.Execute(context.Background(), conversation.ToolCall{ID: "1", Name: "echo", Input: tc.input})

			var invalid *InvalidInputError
			require.ErrorAs(t, err, &invalid)
			require.NotEmpty(t, invalid.Problems)
			require.Nil(t, capability.lastInput)
		})
	}
}

func TestRegistryAcceptsJSONDecodedNumbers(t *testing.T) {
	capability := &echoCapability{}
	registry := NewRegistry(nil)
	require.NoError(t, registry.Register(capability))

	_, err := registry.Execute(context.Background(), conversation.ToolCall{
		ID:    "1",
		Name:  "echo",
		Input: map[string]any{"message": "hi", "times": float64(3)},
	})
	require.NoError(t, err)
	require.Equal(t, 3, IntArg(capability.lastInput, "times", 0))
}

func TestRegistryWrapsCapabilityFailure(t *testing.T) {
	boom := errors.New("upstream down")
	registry := NewRegistry(nil)
	require.NoError(t, registry.Register(&echoCapability{err: boom}))

	_, err := registry.Execute(context.Background(), conversation.ToolCall{
		ID:    "1",
		Name:  "echo",
		Input: map[string]any{"message": "hi"},
	})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.ErrorIs(t, err, boom)
}

func TestRegistrySchemasAreSortedAndComplete(t *testing.T) {
	registry := NewRegistry(nil)
	require.NoError(t, registry.Register(NewPublish(nil)))
	require.NoError(t, registry.Register(NewSearch(nil)))

	schemas := registry.Schemas()
	require.Len(t, schemas, 2)
	require.Equal(t, PublishToolName, schemas[0].Name)
	require.Equal(t, SearchToolName, schemas[1].Name)
	require.Equal(t, []any{"title", "content"}, schemas[0].InputSchema["required"])

	props := schemas[1].InputSchema["properties"].(map[string]any)
	maxResults := props["max_results"].(map[string]any)
	require.Equal(t, 5, maxResults["default"])
}

func TestErrorResultFoldsFailure(t *testing.T) {
	call := conversation.ToolCall{ID: "abc", Name: "web_search"}

	result := ErrorResult(call, errors.New("timeout"))
	require.Equal(t, "abc", result.ID)
	require.True(t, result.IsError)
	require.Equal(t, "Error executing web_search: timeout", result.TextOf())
}

func TestArgHelpers(t *testing.T) {
	input := map[string]any{
		"n":     float64(4),
		"frac":  2.5,
		"tags":  []any{"go", 3, "audio"},
		"solo":  "one",
		"title": "hello",
	}

	require.Equal(t, 4, IntArg(input, "n", 0))
	require.Equal(t, 9, IntArg(input, "frac", 9))
	require.Equal(t, 9, IntArg(input, "missing", 9))
	require.Equal(t, []string{"go", "audio"}, StringsArg(input, "tags"))
	require.Equal(t, []string{"one"}, StringsArg(input, "solo"))
	require.Nil(t, StringsArg(input, "missing"))
	require.Equal(t, "hello", StringArg(input, "title"))
}
