package modelstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rbright/parley/internal/conversation"
)

// Outcome is the result of consuming one response: Answer or ToolRequested.
type Outcome interface {
	outcome()
}

// Answer is a complete plain-text response.
type Answer struct {
	Text string
}

// ToolRequested means the model paused to invoke a capability. PrecedingText
// is any answer text streamed before the tool block.
type ToolRequested struct {
	Call          conversation.ToolCall
	PrecedingText string
}

func (Answer) outcome()        {}
func (ToolRequested) outcome() {}

// MalformedToolInputError reports tool input that is not a JSON object.
type MalformedToolInputError struct {
	ID            string
	Name          string
	Raw           string
	PrecedingText string
	Err           error
}

func (e *MalformedToolInputError) Error() string {
	return fmt.Sprintf("malformed input for tool %q: %v", e.Name, e.Err)
}

func (e *MalformedToolInputError) Unwrap() error { return e.Err }

var errToolBlockUnterminated = errors.New("tool block not terminated")

// Consume reads stream until it can report an outcome. Text deltas are
// mirrored to sink as they arrive; sink may be nil. Consume does not close
// the stream.
func Consume(ctx context.Context, stream Stream, sink io.Writer) (Outcome, error) {
	var (
		text      strings.Builder
		tool      *ToolDescriptor
		toolInput strings.Builder
	)

	for {
		event, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			if tool != nil {
				return nil, malformed(tool, toolInput.String(), text.String(), errToolBlockUnterminated)
			}
			return Answer{Text: text.String()}, nil
		}
		if err != nil {
			return nil, err
		}

		switch ev := event.(type) {
		case BlockStart:
			if ev.Tool != nil {
				descriptor := *ev.Tool
				tool = &descriptor
				toolInput.Reset()
			}
		case BlockDelta:
			switch delta := ev.Delta.(type) {
			case TextDelta:
				text.WriteString(delta.Text)
				if sink != nil && delta.Text != "" {
					_, _ = io.WriteString(sink, delta.Text)
				}
			case ToolInputDelta:
				if tool != nil {
					toolInput.WriteString(delta.PartialJSON)
				}
			}
		case BlockStop:
			if tool == nil {
				continue
			}
			input, err := parseToolInput(toolInput.String())
			if err != nil {
				return nil, malformed(tool, toolInput.String(), text.String(), err)
			}
			return ToolRequested{
				Call: conversation.ToolCall{
					ID:    tool.ID,
					Name:  tool.Name,
					Input: input,
				},
				PrecedingText: text.String(),
			}, nil
		case MessageStop:
			if tool != nil {
				return nil, malformed(tool, toolInput.String(), text.String(), errToolBlockUnterminated)
			}
			return Answer{Text: text.String()}, nil
		}
	}
}

// parseToolInput decodes concatenated fragments into a JSON object. An
// empty input is an empty object.
func parseToolInput(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, errors.New("tool input is not a JSON object")
	}
	return input, nil
}

func malformed(tool *ToolDescriptor, raw string, precedingText string, err error) error {
	return &MalformedToolInputError{
		ID:            tool.ID,
		Name:          tool.Name,
		Raw:           raw,
		PrecedingText: precedingText,
		Err:           err,
	}
}
