package modelstream

import (
	"context"
	"io"
	"sync"
)

// Replay returns a Stream that yields events in order, then err (io.EOF
// when err is nil).
func Replay(events []Event, err error) Stream {
	if err == nil {
		err = io.EOF
	}
	return &replayStream{events: events, err: err}
}

type replayStream struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (s *replayStream) Recv(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.events) == 0 {
		return nil, s.err
	}
	event := s.events[0]
	s.events = s.events[1:]
	return event, nil
}

func (s *replayStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Text builds the events of a plain answer streamed as fragments.
func Text(fragments ...string) []Event {
	events := []Event{BlockStart{Index: 0}}
	for _, fragment := range fragments {
		events = append(events, BlockDelta{Index: 0, Delta: TextDelta{Text: fragment}})
	}
	return append(events, BlockStop{Index: 0}, MessageStop{Reason: StopEndTurn})
}

// ToolUse builds the events of a tool request preceded by optional text.
func ToolUse(precedingText string, id string, name string, inputFragments ...string) []Event {
	var events []Event
	index := 0
	if precedingText != "" {
		events = append(events,
			BlockStart{Index: 0},
			BlockDelta{Index: 0, Delta: TextDelta{Text: precedingText}},
			BlockStop{Index: 0},
		)
		index = 1
	}
	events = append(events, BlockStart{Index: index, Tool: &ToolDescriptor{ID: id, Name: name}})
	for _, fragment := range inputFragments {
		events = append(events, BlockDelta{Index: index, Delta: ToolInputDelta{PartialJSON: fragment}})
	}
	return append(events, BlockStop{Index: index}, MessageStop{Reason: StopToolUse})
}
