// Package indicator renders the live conversation console and audio cues.
package indicator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/parley/internal/config"
)

// Controller is the session-facing indicator contract.
type Controller interface {
	Listening(context.Context)
	Partial(string)
	Heard(context.Context, string)
	BeginAnswer() io.Writer
	EndAnswer()
	Speaking(context.Context)
	PlaybackStopped(context.Context)
	TurnDone()
	Error(context.Context, string)
	Notice(string)
	Farewell()
}

// Console writes the conversation transcript to a terminal-like writer.
type Console struct {
	out      io.Writer
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages
	cue      func(context.Context, cueKind) error

	mu      sync.Mutex
	soundMu sync.Mutex
}

// NewConsole creates a console indicator whose banners follow languageCode.
func NewConsole(out io.Writer, cfg config.IndicatorConfig, languageCode string, logger *slog.Logger) *Console {
	return &Console{
		out:      out,
		cfg:      cfg,
		logger:   logger,
		messages: consoleMessages(resolveLocale(languageCode)),
		cue:      emitCue,
	}
}

// Listening prints the ready banner and emits the listening cue.
func (c *Console) Listening(ctx context.Context) {
	c.printf("%s\n\n", c.messages.listening)
	c.playCue(ctx, cueListening)
}

// Partial overwrites the current line with an in-progress utterance.
func (c *Console) Partial(text string) {
	if !c.cfg.ShowPartials {
		return
	}
	c.printf("\rUser: %s", text)
}

// Heard finalizes the user line for a committed utterance.
func (c *Console) Heard(ctx context.Context, text string) {
	c.printf("\rUser: %s\n", text)
	c.playCue(ctx, cueHeard)
}

// BeginAnswer prints the assistant prefix and returns the writer for streamed text.
func (c *Console) BeginAnswer() io.Writer {
	c.printf("\nAssistant: ")
	return writerFunc(func(p []byte) (int, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.out.Write(p)
	})
}

// EndAnswer terminates the streamed answer block.
func (c *Console) EndAnswer() {
	c.printf("\n\n")
}

// Speaking prints the stop-playback hint.
func (c *Console) Speaking(context.Context) {
	c.printf("%s\n", c.messages.stopHint)
}

// PlaybackStopped reports a user-requested interruption.
func (c *Console) PlaybackStopped(ctx context.Context) {
	c.printf("\n%s\n", c.messages.stopped)
	c.playCue(ctx, cueStopped)
}

// TurnDone prints the separator between turns.
func (c *Console) TurnDone() {
	c.printf("%s\n\n", strings.Repeat("-", 50))
}

// Error prints a user-facing error line and emits the error cue.
func (c *Console) Error(ctx context.Context, text string) {
	c.printf("\n%s: %s\n", c.messages.errorText, text)
	c.playCue(ctx, cueError)
}

// Notice prints an informational line.
func (c *Console) Notice(text string) {
	c.printf("%s\n", text)
}

// Farewell prints the shutdown line.
func (c *Console) Farewell() {
	c.printf("\n%s\n", c.messages.farewell)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, format, args...); err != nil {
		c.log("indicator write failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (c *Console) playCue(ctx context.Context, kind cueKind) {
	if !c.cfg.SoundEnable || c.cue == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		c.soundMu.Lock()
		defer c.soundMu.Unlock()
		if err := c.cue(ctx, kind); err != nil {
			c.log("indicator audio cue failed", err, "cue", kind.String())
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (c *Console) log(message string, err error, attrs ...any) {
	if c.logger == nil || err == nil {
		return
	}
	c.logger.Debug(message, append([]any{"error", err.Error()}, attrs...)...)
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}
