// Package session runs the conversation. A Controller admits final
// transcripts into turns, resolves each turn through the tool loop, speaks
// the answer, and resumes listening. A Session keeps the recognition stream
// alive around it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/rbright/parley/internal/bedrock"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/gate"
	"github.com/rbright/parley/internal/indicator"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/metrics"
	"github.com/rbright/parley/internal/playback"
	"github.com/rbright/parley/internal/toolloop"
	"github.com/rbright/parley/internal/transcript"
)

// ErrBusy is returned for maintenance requests that arrive mid-turn.
var ErrBusy = errors.New("a turn is in progress")

// Assistant replies recorded when a turn cannot produce a model answer.
// Only the tool-loop apology is spoken.
const (
	exceededReply = "Sorry, I could not finish that request. Please try asking it a different way."
	failedReply   = "Sorry, something went wrong while answering that."
	abortedReply  = "(interrupted)"
	emptyReply    = "(no answer)"
)

const panicMessage = "Something went wrong while answering that."

// ToolSet executes tool calls and describes them to the model.
type ToolSet interface {
	toolloop.Executor
	Schemas() []conversation.ToolSchema
	Names() []string
}

// Synthesizer turns answer text into raw PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// Player starts a playback of PCM audio.
type Player interface {
	Start(ctx context.Context, audio io.Reader) *playback.Handle
}

// Recorder receives session telemetry.
type Recorder interface {
	toolloop.Observer
	TurnFinished(outcome string, elapsed time.Duration)
	PlaybackFinished(state string)
	SynthesisFailed()
	SessionRestarted()
}

// Deps are the collaborators of a Controller. Synthesizer or Player may be
// nil, which disables speech.
type Deps struct {
	Model       toolloop.Invoker
	Tools       ToolSet
	Synthesizer Synthesizer
	Player      Player
	Indicator   indicator.Controller
	Selector    ModelSelector
	Recorder    Recorder
	Logger      *slog.Logger
	Now         func() time.Time
}

// Settings shape every turn.
type Settings struct {
	Conversation config.ConversationConfig
	Location     string
	Instructions string
}

// Controller owns the gate, the conversation log, and the turn path.
type Controller struct {
	deps     Deps
	settings Settings
	gate     *gate.Gate
	state    *conversation.State

	mu       sync.Mutex
	phase    fsm.State
	playback *playback.Handle

	turns atomic.Int64
	wg    conc.WaitGroup
}

func NewController(deps Deps, settings Settings) *Controller {
	if deps.Indicator == nil {
		deps.Indicator = noopIndicator{}
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if deps.Selector == nil {
		deps.Selector = NewUniformSelector(nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{
		deps:     deps,
		settings: settings,
		gate:     gate.New(),
		state:    conversation.NewState(),
		phase:    fsm.StateListening,
	}
}

// Phase returns the current turn phase.
func (c *Controller) Phase() fsm.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Turns counts completed turns, including failed ones.
func (c *Controller) Turns() int64 {
	return c.turns.Load()
}

// Dropped counts recognition events discarded mid-turn.
func (c *Controller) Dropped() int64 {
	return c.gate.DroppedWhileBusy()
}

// Submit routes one recognition event. A final transcript admitted by the
// gate starts a turn goroutine bound to ctx.
func (c *Controller) Submit(ctx context.Context, ev transcript.Result) gate.Verdict {
	verdict, text := c.gate.Submit(ev)
	switch verdict {
	case gate.Partial:
		c.deps.Indicator.Partial(text)
	case gate.Opened:
		c.wg.Go(func() { c.runTurn(ctx, text) })
	}
	return verdict
}

// Wait blocks until every started turn has resumed the gate.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// StopPlayback stops the answer being spoken. It reports false when nothing
// is playing or the playback was already stopped.
func (c *Controller) StopPlayback() bool {
	c.mu.Lock()
	h := c.playback
	c.mu.Unlock()
	if h == nil {
		return false
	}
	return h.Stop()
}

// Reset clears the conversation log between turns.
func (c *Controller) Reset() error {
	if !c.gate.TryAcquire() {
		return ErrBusy
	}
	defer c.gate.Resume()

	c.state.Reset()
	c.logInfo("conversation reset")
	return nil
}

// Handle serves IPC commands for the running session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{
			OK:      true,
			State:   string(c.Phase()),
			Message: "status",
			Turns:   int(c.Turns()),
			Dropped: c.Dropped(),
		}
	case ipc.CommandStop:
		if !c.StopPlayback() {
			return ipc.Response{OK: false, State: string(c.Phase()), Error: "nothing is playing"}
		}
		return ipc.Response{OK: true, State: string(c.Phase()), Message: "playback stopped"}
	case ipc.CommandReset:
		if err := c.Reset(); err != nil {
			return ipc.Response{OK: false, State: string(c.Phase()), Error: fmt.Sprintf("cannot reset: %v", err)}
		}
		c.deps.Indicator.Notice("Conversation cleared.")
		return ipc.Response{OK: true, State: string(c.Phase()), Message: "conversation cleared"}
	default:
		return ipc.Response{OK: false, State: string(c.Phase()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// runTurn resolves one admitted transcript. It resumes the gate exactly
// once, on every path, including a panic anywhere in the turn.
func (c *Controller) runTurn(parent context.Context, text string) {
	turnID := uuid.NewString()
	started := c.deps.Now()
	modelID := c.deps.Selector.Select()

	ctx, cancel := context.WithCancel(parent)
	outcome := metrics.OutcomeFailed
	var pc panics.Catcher
	pc.Try(func() { outcome = c.playTurn(ctx, turnID, modelID, text) })
	if recovered := pc.Recovered(); recovered != nil {
		outcome = metrics.OutcomeFailed
		c.recoverTurn(ctx, turnID, recovered)
	}
	cancel()
	c.finishTurn(parent, turnID, modelID, outcome, started)
}

// playTurn runs the turn path and returns its outcome.
func (c *Controller) playTurn(ctx context.Context, turnID string, modelID string, text string) string {
	c.transition(fsm.EventHeard)
	c.deps.Indicator.Heard(ctx, text)

	if err := c.state.AppendUser(text); err != nil {
		c.fail(ctx, turnID, err)
		return metrics.OutcomeFailed
	}

	answer, err := c.resolve(ctx, modelID)
	outcome := metrics.OutcomeAnswered
	var exceeded *toolloop.ToolLoopExceededError
	switch {
	case err == nil:
		if strings.TrimSpace(answer) == "" {
			c.acknowledge(turnID, emptyReply)
			c.transition(fsm.EventAnswered)
			c.transition(fsm.EventSpoken)
			return outcome
		}
		if err := c.state.AppendAssistantText(answer); err != nil {
			c.fail(ctx, turnID, err)
			return metrics.OutcomeFailed
		}
	case errors.As(err, &exceeded):
		outcome = metrics.OutcomeExceeded
		c.logWarn("tool loop exceeded", "turn_id", turnID, "limit", exceeded.Limit)
		answer = exceededReply
		c.acknowledge(turnID, answer)
	case ctx.Err() != nil:
		c.acknowledge(turnID, abortedReply)
		c.transition(fsm.EventAbort)
		return metrics.OutcomeAborted
	default:
		c.acknowledge(turnID, failedReply)
		c.fail(ctx, turnID, err)
		return metrics.OutcomeFailed
	}

	c.transition(fsm.EventAnswered)
	if c.speak(ctx, turnID, answer) {
		c.transition(fsm.EventAbort)
		return outcome
	}
	c.transition(fsm.EventSpoken)
	return outcome
}

// recoverTurn repairs the log after a panicked turn: a tool call left
// without a result gets an error result, and the user turn is answered.
func (c *Controller) recoverTurn(ctx context.Context, turnID string, recovered *panics.Recovered) {
	c.mu.Lock()
	c.playback = nil
	c.mu.Unlock()

	if c.deps.Logger != nil {
		c.deps.Logger.Error("turn panicked",
			"turn_id", turnID,
			"panic", fmt.Sprint(recovered.Value),
			"stack", string(recovered.Stack),
		)
	}
	if call, ok := c.state.PendingCall(); ok {
		result := conversation.ToolResult{
			ID:      call.ID,
			Content: []conversation.Text{{Value: fmt.Sprintf("Error executing %s: the tool stopped unexpectedly", call.Name)}},
			IsError: true,
		}
		if err := c.state.AppendToolResult(result); err != nil {
			c.logWarn("record recovered tool result failed", "turn_id", turnID, "error", err.Error())
		}
	}
	c.acknowledge(turnID, failedReply)
	c.transition(fsm.EventFail)
	c.deps.Indicator.Error(ctx, panicMessage)
}

// resolve runs the tool loop for the turn's invocation.
func (c *Controller) resolve(ctx context.Context, modelID string) (string, error) {
	loop := toolloop.New(
		c.deps.Model,
		c.deps.Tools,
		c.state,
		toolloop.Config{
			MaxToolRounds: c.settings.Conversation.MaxToolRounds,
			HistoryTurns:  c.settings.Conversation.HistoryTurns,
		},
		toolloop.WithSink(c.deps.Indicator.BeginAnswer()),
		toolloop.WithLogger(c.deps.Logger),
		toolloop.WithObserver(c.deps.Recorder),
	)
	defer c.deps.Indicator.EndAnswer()

	inv := conversation.Invocation{
		ModelID: modelID,
		SystemPrompt: SystemPrompt(PromptContext{
			Now:          c.deps.Now(),
			Location:     c.settings.Location,
			Tools:        c.deps.Tools.Names(),
			Instructions: c.settings.Instructions,
		}),
		Tools: c.deps.Tools.Schemas(),
	}
	return loop.Run(ctx, inv)
}

// speak plays answer and reports whether playback was interrupted.
// Synthesis and playback failures degrade to silence.
func (c *Controller) speak(ctx context.Context, turnID string, answer string) bool {
	if c.deps.Synthesizer == nil || c.deps.Player == nil {
		return false
	}

	audio, err := c.deps.Synthesizer.Synthesize(ctx, answer)
	if err != nil {
		c.deps.Recorder.SynthesisFailed()
		c.logWarn("speech synthesis failed", "turn_id", turnID, "error", err.Error())
		return false
	}

	handle := c.deps.Player.Start(ctx, audio)
	c.mu.Lock()
	c.playback = handle
	c.mu.Unlock()
	c.deps.Indicator.Speaking(ctx)

	<-handle.Done()
	c.mu.Lock()
	c.playback = nil
	c.mu.Unlock()

	result, _ := handle.Wait(context.Background())
	c.deps.Recorder.PlaybackFinished(string(result.State))
	if result.Err != nil {
		c.logWarn("playback failed", "turn_id", turnID, "error", result.Err.Error())
	}
	if result.State != playback.StateStopped {
		return false
	}
	if ctx.Err() == nil {
		c.deps.Indicator.PlaybackStopped(ctx)
	}
	return true
}

// acknowledge closes a turn left on a user entry so roles keep alternating.
func (c *Controller) acknowledge(turnID string, reply string) {
	if c.state.LastRole() != conversation.RoleUser {
		return
	}
	if err := c.state.AppendAssistantText(reply); err != nil {
		c.logWarn("record acknowledgment failed", "turn_id", turnID, "error", err.Error())
	}
}

func (c *Controller) fail(ctx context.Context, turnID string, err error) {
	c.transition(fsm.EventFail)
	if c.deps.Logger != nil {
		c.deps.Logger.Error("turn failed", "turn_id", turnID, "error", err.Error())
	}
	c.deps.Indicator.Error(ctx, failureMessage(err))
}

func (c *Controller) finishTurn(parent context.Context, turnID string, modelID string, outcome string, started time.Time) {
	if c.Phase() == fsm.StateError {
		c.transition(fsm.EventReset)
	}
	elapsed := c.deps.Now().Sub(started)
	c.turns.Add(1)
	c.deps.Recorder.TurnFinished(outcome, elapsed)
	c.logInfo("turn complete",
		"turn_id", turnID,
		"model", modelID,
		"outcome", outcome,
		"history_turns", c.state.Len(),
		"elapsed_ms", elapsed.Milliseconds(),
	)

	c.deps.Indicator.TurnDone()
	if parent.Err() == nil {
		c.deps.Indicator.Listening(parent)
	}
	if !c.gate.Resume() {
		c.logWarn("turn gate already idle", "turn_id", turnID)
	}
}

func (c *Controller) transition(event fsm.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.phase, event)
	if err != nil {
		if c.deps.Logger != nil {
			c.deps.Logger.Debug("phase transition rejected", "error", err.Error())
		}
		return
	}
	c.phase = next
}

// failureMessage is the console line for a failed turn.
func failureMessage(err error) string {
	var invocation *toolloop.ModelInvocationError
	if !errors.As(err, &invocation) {
		return "Unable to record the conversation turn."
	}
	switch bedrock.Classify(invocation.Err) {
	case "throttled":
		return "The model is busy. Please try again in a moment."
	case "access_denied":
		return "Model access was denied. Check AWS credentials and model access."
	case "validation":
		return "The model rejected the request."
	case "unavailable":
		return "The model is unavailable right now."
	default:
		return "The model request failed."
	}
}

func (c *Controller) logInfo(msg string, args ...any) {
	if c.deps.Logger == nil {
		return
	}
	c.deps.Logger.Info(msg, args...)
}

func (c *Controller) logWarn(msg string, args ...any) {
	if c.deps.Logger == nil {
		return
	}
	c.deps.Logger.Warn(msg, args...)
}

// noopIndicator keeps the turn path free of nil checks when no console is wired.
type noopIndicator struct{}

func (noopIndicator) Listening(context.Context)       {}
func (noopIndicator) Partial(string)                  {}
func (noopIndicator) Heard(context.Context, string)   {}
func (noopIndicator) BeginAnswer() io.Writer          { return io.Discard }
func (noopIndicator) EndAnswer()                      {}
func (noopIndicator) Speaking(context.Context)        {}
func (noopIndicator) PlaybackStopped(context.Context) {}
func (noopIndicator) TurnDone()                       {}
func (noopIndicator) Error(context.Context, string)   {}
func (noopIndicator) Notice(string)                   {}
func (noopIndicator) Farewell()                       {}

type noopRecorder struct{}

func (noopRecorder) ModelInvoked(string, time.Duration, error) {}
func (noopRecorder) ToolExecuted(string, time.Duration, bool)  {}
func (noopRecorder) TurnFinished(string, time.Duration)        {}
func (noopRecorder) PlaybackFinished(string)                   {}
func (noopRecorder) SynthesisFailed()                          {}
func (noopRecorder) SessionRestarted()                         {}
