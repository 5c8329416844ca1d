// Package toolloop drives a model response to a final answer, executing the
// tools the model requests along the way.
package toolloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/modelstream"
	"github.com/rbright/parley/internal/tools"
)

// DefaultMaxToolRounds bounds tool executions per turn.
const DefaultMaxToolRounds = 8

// Invoker starts one model response stream for inv.
type Invoker interface {
	Invoke(ctx context.Context, inv conversation.Invocation) (modelstream.Stream, error)
}

// Executor runs a tool call.
type Executor interface {
	Execute(ctx context.Context, call conversation.ToolCall) (conversation.ToolResult, error)
}

// Observer receives loop telemetry.
type Observer interface {
	ModelInvoked(modelID string, elapsed time.Duration, err error)
	ToolExecuted(name string, elapsed time.Duration, isError bool)
}

// ModelInvocationError reports a failed model call or response stream.
type ModelInvocationError struct {
	ModelID string
	Err     error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("invoke model %s: %v", e.ModelID, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// ToolLoopExceededError reports a turn that requested more tool rounds than
// allowed.
type ToolLoopExceededError struct {
	Limit int
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("tool loop exceeded %d rounds", e.Limit)
}

// Config bounds a loop.
type Config struct {
	// MaxToolRounds caps tool executions per Run. Zero selects the default.
	MaxToolRounds int
	// HistoryTurns caps the history window sent to the model. Zero sends
	// the full log.
	HistoryTurns int
}

// Loop is the tool invocation loop for one session. It appends to state and
// must not run concurrently with other writers.
type Loop struct {
	model    Invoker
	tools    Executor
	state    *conversation.State
	cfg      Config
	sink     io.Writer
	logger   *slog.Logger
	observer Observer
}

// Option configures a Loop.
type Option func(*Loop)

// WithSink mirrors streamed answer text to w.
func WithSink(w io.Writer) Option {
	return func(l *Loop) { l.sink = w }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

func WithObserver(observer Observer) Option {
	return func(l *Loop) {
		if observer != nil {
			l.observer = observer
		}
	}
}

func New(model Invoker, executor Executor, state *conversation.State, cfg Config, opts ...Option) *Loop {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	l := &Loop{
		model:    model,
		tools:    executor,
		state:    state,
		cfg:      cfg,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run resolves inv to final answer text. inv.History is replaced with the
// current state window before every model call.
func (l *Loop) Run(ctx context.Context, inv conversation.Invocation) (string, error) {
	rounds := 0
	for {
		inv.History = l.state.Window(l.cfg.HistoryTurns)

		outcome, err := l.invoke(ctx, inv)
		var malformed *modelstream.MalformedToolInputError
		switch {
		case errors.As(err, &malformed):
			call := conversation.ToolCall{ID: malformed.ID, Name: malformed.Name, Input: map[string]any{}}
			if rounds >= l.cfg.MaxToolRounds {
				return "", &ToolLoopExceededError{Limit: l.cfg.MaxToolRounds}
			}
			rounds++
			l.breakLine(malformed.PrecedingText)
			if err := l.appendRound(call, malformed.PrecedingText, tools.ErrorResult(call, malformed)); err != nil {
				return "", err
			}
			l.logWarn("malformed tool input", "tool", malformed.Name, "tool_use_id", malformed.ID, "error", malformed.Err)
			continue
		case err != nil:
			return "", &ModelInvocationError{ModelID: inv.ModelID, Err: err}
		}

		switch out := outcome.(type) {
		case modelstream.Answer:
			return out.Text, nil
		case modelstream.ToolRequested:
			if rounds >= l.cfg.MaxToolRounds {
				return "", &ToolLoopExceededError{Limit: l.cfg.MaxToolRounds}
			}
			rounds++
			l.breakLine(out.PrecedingText)
			if err := l.state.AppendAssistantToolUse(out.Call, out.PrecedingText); err != nil {
				return "", fmt.Errorf("record tool use: %w", err)
			}
			result := l.execute(ctx, out.Call)
			if err := l.state.AppendToolResult(result); err != nil {
				return "", fmt.Errorf("record tool result: %w", err)
			}
		default:
			return "", &ModelInvocationError{ModelID: inv.ModelID, Err: fmt.Errorf("unexpected outcome %T", outcome)}
		}
	}
}

func (l *Loop) invoke(ctx context.Context, inv conversation.Invocation) (modelstream.Outcome, error) {
	start := time.Now()
	stream, err := l.model.Invoke(ctx, inv)
	if err != nil {
		l.observer.ModelInvoked(inv.ModelID, time.Since(start), err)
		return nil, err
	}
	defer stream.Close()

	outcome, err := modelstream.Consume(ctx, stream, l.sink)
	l.observer.ModelInvoked(inv.ModelID, time.Since(start), err)
	return outcome, err
}

// breakLine ends streamed text that preceded a tool request so the next
// round's text starts on its own line.
func (l *Loop) breakLine(precedingText string) {
	if l.sink == nil || precedingText == "" {
		return
	}
	_, _ = io.WriteString(l.sink, "\n")
}

// execute runs call. Failures, including a panicking executor, become an
// error result so the recorded tool use always has its answer.
func (l *Loop) execute(ctx context.Context, call conversation.ToolCall) conversation.ToolResult {
	start := time.Now()
	var (
		result conversation.ToolResult
		err    error
		pc     panics.Catcher
	)
	pc.Try(func() { result, err = l.tools.Execute(ctx, call) })
	if recovered := pc.Recovered(); recovered != nil {
		if l.logger != nil {
			l.logger.Error("tool panicked", "tool", call.Name, "tool_use_id", call.ID, "panic", fmt.Sprint(recovered.Value), "stack", string(recovered.Stack))
		}
		err = &tools.ExecutionError{Name: call.Name, Err: fmt.Errorf("panic: %v", recovered.Value)}
	}
	if err != nil {
		l.logWarn("tool failed", "tool", call.Name, "tool_use_id", call.ID, "error", err.Error())
		result = tools.ErrorResult(call, err)
	}
	result.ID = call.ID
	l.observer.ToolExecuted(call.Name, time.Since(start), result.IsError)
	if l.logger != nil {
		l.logger.Info("tool round complete",
			"tool", call.Name,
			"tool_use_id", call.ID,
			"is_error", result.IsError,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
	return result
}

func (l *Loop) appendRound(call conversation.ToolCall, precedingText string, result conversation.ToolResult) error {
	if err := l.state.AppendAssistantToolUse(call, precedingText); err != nil {
		return fmt.Errorf("record tool use: %w", err)
	}
	if err := l.state.AppendToolResult(result); err != nil {
		return fmt.Errorf("record tool result: %w", err)
	}
	l.observer.ToolExecuted(call.Name, 0, true)
	return nil
}

func (l *Loop) logWarn(msg string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Warn(msg, args...)
}

type noopObserver struct{}

func (noopObserver) ModelInvoked(string, time.Duration, error) {}
func (noopObserver) ToolExecuted(string, time.Duration, bool)  {}
