// Package modelstream reduces a streamed model response to a single outcome.
package modelstream

import "context"

// Kind names a stream event for logging.
type Kind string

const (
	KindBlockStart  Kind = "block_start"
	KindBlockDelta  Kind = "block_delta"
	KindBlockStop   Kind = "block_stop"
	KindMessageStop Kind = "message_stop"
)

// StopReason is the model's reason for ending a message.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopSequence     StopReason = "stop_sequence"
	StopContentBlock StopReason = "content_filtered"
)

// Event is one element of a model response stream. Implementations are
// BlockStart, BlockDelta, BlockStop and MessageStop.
type Event interface {
	Kind() Kind
	sealed()
}

// ToolDescriptor identifies a tool block announced by the model.
type ToolDescriptor struct {
	ID   string
	Name string
}

// BlockStart opens a content block. Tool is set for tool-invocation blocks.
type BlockStart struct {
	Index int
	Tool  *ToolDescriptor
}

// BlockDelta carries an incremental piece of the current block.
type BlockDelta struct {
	Index int
	Delta Delta
}

// BlockStop closes a content block.
type BlockStop struct {
	Index int
}

// MessageStop ends the response.
type MessageStop struct {
	Reason StopReason
}

func (BlockStart) Kind() Kind  { return KindBlockStart }
func (BlockDelta) Kind() Kind  { return KindBlockDelta }
func (BlockStop) Kind() Kind   { return KindBlockStop }
func (MessageStop) Kind() Kind { return KindMessageStop }

func (BlockStart) sealed()  {}
func (BlockDelta) sealed()  {}
func (BlockStop) sealed()   {}
func (MessageStop) sealed() {}

// Delta is the payload of a BlockDelta: TextDelta or ToolInputDelta.
type Delta interface {
	deltaSealed()
}

// TextDelta is a fragment of answer text.
type TextDelta struct {
	Text string
}

// ToolInputDelta is a fragment of a tool's JSON input.
type ToolInputDelta struct {
	PartialJSON string
}

func (TextDelta) deltaSealed()      {}
func (ToolInputDelta) deltaSealed() {}

// Stream yields response events in order. Recv returns io.EOF after the
// last event.
type Stream interface {
	Recv(ctx context.Context) (Event, error)
	Close() error
}
