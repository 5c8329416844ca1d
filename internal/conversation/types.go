// Package conversation holds the turn log shared by a voice session.
package conversation

import "strings"

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates content blocks.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one element of a turn's content. The set of implementations is
// closed: Text, ToolCall and ToolResult.
type Block interface {
	BlockType() BlockType
}

// Text is plain text content.
type Text struct {
	Value string
}

func (Text) BlockType() BlockType { return BlockText }

// ToolCall is a model request to run a named capability. ID comes from the
// model stream and is echoed unchanged by the matching ToolResult.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

func (ToolCall) BlockType() BlockType { return BlockToolUse }

// ToolResult carries capability output back to the model.
type ToolResult struct {
	ID      string
	Content []Text
	IsError bool
}

func (ToolResult) BlockType() BlockType { return BlockToolResult }

// TextOf joins the result's text blocks with newlines.
func (r ToolResult) TextOf() string {
	parts := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		parts = append(parts, block.Value)
	}
	return strings.Join(parts, "\n")
}

// Turn is one resolved exchange unit.
type Turn struct {
	Role    Role
	Content []Block
}

// IsPlainUser reports whether t is a user turn carrying spoken text rather
// than tool results.
func (t Turn) IsPlainUser() bool {
	if t.Role != RoleUser {
		return false
	}
	for _, block := range t.Content {
		if block.BlockType() == BlockToolResult {
			return false
		}
	}
	return true
}

// ToolSchema describes one capability to the model.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Invocation is the read-only snapshot handed to the model for one call.
type Invocation struct {
	ModelID      string
	SystemPrompt string
	Tools        []ToolSchema
	History      []Turn
}
