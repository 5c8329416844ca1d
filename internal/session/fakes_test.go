package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/modelstream"
	"github.com/rbright/parley/internal/playback"
	"github.com/rbright/parley/internal/transcript"
)

type reply struct {
	events    []modelstream.Event
	invokeErr error
	wait      chan struct{}
	panicWith any
}

type scriptedModel struct {
	mu      sync.Mutex
	replies []reply
	calls   []conversation.Invocation
}

func (m *scriptedModel) Invoke(ctx context.Context, inv conversation.Invocation) (modelstream.Stream, error) {
	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, inv)
	m.mu.Unlock()

	if idx >= len(m.replies) {
		return nil, errors.New("unexpected model invocation")
	}
	r := m.replies[idx]
	if r.wait != nil {
		select {
		case <-r.wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.panicWith != nil {
		panic(r.panicWith)
	}
	if r.invokeErr != nil {
		return nil, r.invokeErr
	}
	return modelstream.Replay(r.events, nil), nil
}

func (m *scriptedModel) invocations() []conversation.Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]conversation.Invocation(nil), m.calls...)
}

type fakeTools struct {
	mu        sync.Mutex
	executed  []conversation.ToolCall
	panicWith any
}

func (f *fakeTools) Execute(_ context.Context, call conversation.ToolCall) (conversation.ToolResult, error) {
	f.mu.Lock()
	f.executed = append(f.executed, call)
	f.mu.Unlock()
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return conversation.ToolResult{
		ID:      call.ID,
		Content: []conversation.Text{{Value: "result for " + call.ID}},
	}, nil
}

func (f *fakeTools) Schemas() []conversation.ToolSchema {
	return []conversation.ToolSchema{{Name: "web_search", Description: "search", InputSchema: map[string]any{"type": "object"}}}
}

func (f *fakeTools) Names() []string { return []string{"web_search"} }

func (f *fakeTools) calls() []conversation.ToolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.ToolCall(nil), f.executed...)
}

type fakeSynth struct {
	err   error
	pcm   []byte
	mu    sync.Mutex
	texts []string
}

func (s *fakeSynth) Synthesize(_ context.Context, text string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(bytes.NewReader(s.pcm)), nil
}

func (s *fakeSynth) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// slowSink accepts each buffer after delay, like a device draining a queue.
type slowSink struct {
	delay   time.Duration
	written atomic.Int64
	closed  atomic.Bool
}

func (s *slowSink) Write(pcm []byte) error {
	if s.closed.Load() {
		return errors.New("sink closed")
	}
	time.Sleep(s.delay)
	s.written.Add(int64(len(pcm)))
	return nil
}

func (s *slowSink) Drain() error { return nil }

func (s *slowSink) Close() error {
	s.closed.Store(true)
	return nil
}

func newPlayer(sink *slowSink) *playback.Player {
	return playback.NewPlayer(func(context.Context) (playback.Sink, error) { return sink, nil }, 0, nil)
}

type fakeIndicator struct {
	listening atomic.Int32
	partials  atomic.Int32
	heard     atomic.Int32
	speaking  atomic.Int32
	stopped   atomic.Int32
	errors    atomic.Int32
	turnDone  atomic.Int32
	notices   atomic.Int32

	mu     sync.Mutex
	answer strings.Builder
}

func (f *fakeIndicator) Listening(context.Context)     { f.listening.Add(1) }
func (f *fakeIndicator) Partial(string)                { f.partials.Add(1) }
func (f *fakeIndicator) Heard(context.Context, string) { f.heard.Add(1) }
func (f *fakeIndicator) BeginAnswer() io.Writer        { return f }
func (f *fakeIndicator) EndAnswer()                    {}
func (f *fakeIndicator) Speaking(context.Context)      { f.speaking.Add(1) }
func (f *fakeIndicator) PlaybackStopped(context.Context) {
	f.stopped.Add(1)
}
func (f *fakeIndicator) TurnDone()                     { f.turnDone.Add(1) }
func (f *fakeIndicator) Error(context.Context, string) { f.errors.Add(1) }
func (f *fakeIndicator) Notice(string)                 { f.notices.Add(1) }
func (f *fakeIndicator) Farewell()                     {}

func (f *fakeIndicator) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answer.Write(p)
}

func (f *fakeIndicator) streamed() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answer.String()
}

type fakeRecorder struct {
	mu        sync.Mutex
	outcomes  []string
	playbacks []string
	models    int
	tools     int
	synthFail int
	restarts  int
}

func (r *fakeRecorder) ModelInvoked(string, time.Duration, error) {
	r.mu.Lock()
	r.models++
	r.mu.Unlock()
}

func (r *fakeRecorder) ToolExecuted(string, time.Duration, bool) {
	r.mu.Lock()
	r.tools++
	r.mu.Unlock()
}

func (r *fakeRecorder) TurnFinished(outcome string, _ time.Duration) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func (r *fakeRecorder) PlaybackFinished(state string) {
	r.mu.Lock()
	r.playbacks = append(r.playbacks, state)
	r.mu.Unlock()
}

func (r *fakeRecorder) SynthesisFailed() {
	r.mu.Lock()
	r.synthFail++
	r.mu.Unlock()
}

func (r *fakeRecorder) SessionRestarted() {
	r.mu.Lock()
	r.restarts++
	r.mu.Unlock()
}

func (r *fakeRecorder) snapshot() fakeRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fakeRecorder{
		outcomes:  append([]string(nil), r.outcomes...),
		playbacks: append([]string(nil), r.playbacks...),
		models:    r.models,
		tools:     r.tools,
		synthFail: r.synthFail,
		restarts:  r.restarts,
	}
}

type harness struct {
	ctrl      *Controller
	model     *scriptedModel
	tools     *fakeTools
	synth     *fakeSynth
	sink      *slowSink
	indicator *fakeIndicator
	recorder  *fakeRecorder
}

func newHarness(replies ...reply) *harness {
	h := &harness{
		model:     &scriptedModel{replies: replies},
		tools:     &fakeTools{},
		synth:     &fakeSynth{pcm: make([]byte, 4096)},
		sink:      &slowSink{delay: time.Millisecond},
		indicator: &fakeIndicator{},
		recorder:  &fakeRecorder{},
	}
	h.ctrl = NewController(Deps{
		Model:       h.model,
		Tools:       h.tools,
		Synthesizer: h.synth,
		Player:      newPlayer(h.sink),
		Indicator:   h.indicator,
		Selector:    NewUniformSelector([]string{"model-a"}),
		Recorder:    h.recorder,
		Now:         func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) },
	}, Settings{})
	return h
}

func final(text string) transcript.Result {
	return transcript.Result{Text: text}
}

func partial(text string) transcript.Result {
	return transcript.Result{Text: text, IsPartial: true}
}

func textOf(turn conversation.Turn) string {
	var parts []string
	for _, block := range turn.Content {
		if text, ok := block.(conversation.Text); ok {
			parts = append(parts, text.Value)
		}
	}
	return strings.Join(parts, "")
}
