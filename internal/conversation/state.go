package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrRoleOrder reports an append that would break role alternation.
	ErrRoleOrder = errors.New("conversation role order violated")
	// ErrUnmatchedToolResult reports a tool result without an outstanding call.
	ErrUnmatchedToolResult = errors.New("tool result does not match an outstanding tool call")
)

// State is the append-only turn log for one session.
//
// It has a single writer (the turn in flight) and no internal locking;
// readers take a Snapshot.
type State struct {
	turns []Turn
}

func NewState() *State {
	return &State{}
}

// AppendUser records a spoken user utterance.
func (s *State) AppendUser(text string) error {
	if err := s.expectNext(RoleUser); err != nil {
		return err
	}
	s.turns = append(s.turns, Turn{Role: RoleUser, Content: []Block{Text{Value: text}}})
	return nil
}

// AppendAssistantText records the model's final answer for a turn.
func (s *State) AppendAssistantText(text string) error {
	if err := s.expectNext(RoleAssistant); err != nil {
		return err
	}
	s.turns = append(s.turns, Turn{Role: RoleAssistant, Content: []Block{Text{Value: text}}})
	return nil
}

// AppendAssistantToolUse records a tool request. Text the model produced
// before the request is kept in the same turn, ahead of the tool block.
func (s *State) AppendAssistantToolUse(call ToolCall, precedingText string) error {
	if err := s.expectNext(RoleAssistant); err != nil {
		return err
	}
	content := make([]Block, 0, 2)
	if precedingText != "" {
		content = append(content, Text{Value: precedingText})
	}
	content = append(content, call)
	s.turns = append(s.turns, Turn{Role: RoleAssistant, Content: content})
	return nil
}

// AppendToolResult records capability output as a synthetic user turn.
func (s *State) AppendToolResult(result ToolResult) error {
	if err := s.expectNext(RoleUser); err != nil {
		return err
	}
	if !s.outstanding(result.ID) {
		return fmt.Errorf("%w: %q", ErrUnmatchedToolResult, result.ID)
	}
	s.turns = append(s.turns, Turn{Role: RoleUser, Content: []Block{result}})
	return nil
}

// Snapshot returns a copy of the full log.
func (s *State) Snapshot() []Turn {
	return cloneTurns(s.turns)
}

// Window returns a copy of at most maxTurns recent turns. The window always
// begins at a plain user turn so tool calls stay paired with their results.
// maxTurns <= 0 returns the full log.
func (s *State) Window(maxTurns int) []Turn {
	if maxTurns <= 0 || len(s.turns) <= maxTurns {
		return s.Snapshot()
	}

	start := -1
	for i := len(s.turns) - maxTurns; i < len(s.turns); i++ {
		if s.turns[i].IsPlainUser() {
			start = i
			break
		}
	}
	if start < 0 {
		for i := len(s.turns) - maxTurns - 1; i >= 0; i-- {
			if s.turns[i].IsPlainUser() {
				start = i
				break
			}
		}
	}
	if start < 0 {
		return s.Snapshot()
	}
	return cloneTurns(s.turns[start:])
}

// Len returns the number of turns.
func (s *State) Len() int {
	return len(s.turns)
}

// LastRole returns the role of the newest turn, or "" for an empty log.
func (s *State) LastRole() Role {
	if len(s.turns) == 0 {
		return ""
	}
	return s.turns[len(s.turns)-1].Role
}

// PendingCall returns the tool call in the newest turn when no result has
// been recorded for it yet.
func (s *State) PendingCall() (ToolCall, bool) {
	if s.LastRole() != RoleAssistant {
		return ToolCall{}, false
	}
	for _, block := range s.turns[len(s.turns)-1].Content {
		if call, ok := block.(ToolCall); ok {
			return call, true
		}
	}
	return ToolCall{}, false
}

// Reset clears the log. Callers must hold the turn gate.
func (s *State) Reset() {
	s.turns = nil
}

func (s *State) expectNext(role Role) error {
	last := s.LastRole()
	if last == role {
		return fmt.Errorf("%w: %s after %s", ErrRoleOrder, role, last)
	}
	if last == "" && role != RoleUser {
		return fmt.Errorf("%w: conversation must start with %s", ErrRoleOrder, RoleUser)
	}
	return nil
}

func (s *State) outstanding(id string) bool {
	if len(s.turns) == 0 {
		return false
	}
	for _, block := range s.turns[len(s.turns)-1].Content {
		if call, ok := block.(ToolCall); ok && call.ID == id {
			return true
		}
	}
	return false
}

func cloneTurns(turns []Turn) []Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, turn := range turns {
		out[i] = Turn{Role: turn.Role, Content: append([]Block(nil), turn.Content...)}
	}
	return out
}
