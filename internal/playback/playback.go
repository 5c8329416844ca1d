// Package playback streams synthesized speech to an audio sink with
// cooperative mid-playback cancellation.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// State is the lifecycle phase of one playback.
type State string

const (
	StateIdle     State = "idle"
	StatePlaying  State = "playing"
	StateFinished State = "finished"
	StateStopped  State = "stopped"
)

// DefaultChunkBytes is 1024 mono s16le frames.
const DefaultChunkBytes = 2048

// Sink is an opened audio output. Write blocks until the device accepts
// the buffer. Drain waits for queued audio to play out; Close releases the
// device and discards anything still queued.
type Sink interface {
	Write(pcm []byte) error
	Drain() error
	Close() error
}

// SinkOpener opens a sink for one playback.
type SinkOpener func(ctx context.Context) (Sink, error)

// PlaybackError reports a sink or source failure. Callers treat it as a
// finished playback.
type PlaybackError struct {
	Op  string
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s: %v", e.Op, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Result summarizes a completed playback.
type Result struct {
	State State
	Bytes int64
	Err   error
}

// Player starts playbacks on sinks from open.
type Player struct {
	open       SinkOpener
	chunkBytes int
	logger     *slog.Logger
}

func NewPlayer(open SinkOpener, chunkBytes int, logger *slog.Logger) *Player {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	if chunkBytes%2 != 0 {
		chunkBytes++
	}
	return &Player{open: open, chunkBytes: chunkBytes, logger: logger}
}

// Start begins playing audio and returns immediately. audio is closed when
// playback ends if it implements io.Closer.
func (p *Player) Start(ctx context.Context, audio io.Reader) *Handle {
	h := &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	h.state.Store(string(StatePlaying))
	go p.run(ctx, h, audio)
	return h
}

func (p *Player) run(ctx context.Context, h *Handle, audio io.Reader) {
	defer close(h.done)
	defer func() {
		if closer, ok := audio.(io.Closer); ok {
			_ = closer.Close()
		}
	}()

	sink, err := p.open(ctx)
	if err != nil {
		h.finish(StateFinished, &PlaybackError{Op: "open sink", Err: err})
		return
	}

	// Closing the sink is what unblocks a Write or Drain stuck on the device,
	// so a stop closes it from outside the write loop.
	release := sync.OnceFunc(func() { p.closeSink(sink) })
	ended := make(chan struct{})
	defer close(ended)
	go func() {
		select {
		case <-h.stop:
		case <-ctx.Done():
		case <-ended:
			return
		}
		release()
	}()

	buf := make([]byte, p.chunkBytes)
	for {
		if h.stopRequested(ctx) {
			release()
			h.finish(StateStopped, nil)
			return
		}

		n, readErr := io.ReadFull(audio, buf)
		n -= n % 2
		if n > 0 {
			if err := sink.Write(buf[:n]); err != nil {
				release()
				if h.stopRequested(ctx) {
					h.finish(StateStopped, nil)
					return
				}
				h.finish(StateFinished, &PlaybackError{Op: "write", Err: err})
				return
			}
			h.bytes.Add(int64(n))
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			h.finish(p.drain(ctx, h, sink, release), nil)
			return
		default:
			release()
			h.finish(StateFinished, &PlaybackError{Op: "read", Err: readErr})
			return
		}
	}
}

// drain waits for queued audio unless a stop arrives first.
func (p *Player) drain(ctx context.Context, h *Handle, sink Sink, release func()) State {
	drained := make(chan error, 1)
	go func() { drained <- sink.Drain() }()

	select {
	case err := <-drained:
		release()
		if h.stopRequested(ctx) {
			return StateStopped
		}
		if err != nil && p.logger != nil {
			p.logger.Warn("playback drain failed", "error", err.Error())
		}
		return StateFinished
	case <-h.stop:
	case <-ctx.Done():
	}
	release()
	return StateStopped
}

func (p *Player) closeSink(sink Sink) {
	if err := sink.Close(); err != nil && p.logger != nil {
		p.logger.Warn("playback sink close failed", "error", err.Error())
	}
}

// Handle controls one playback.
type Handle struct {
	state    atomic.Value
	bytes    atomic.Int64
	stopOnce sync.Once
	stopped  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	result   Result
}

// Stop requests the playback to cease. Only the first call on a playing
// handle is honored; it reports whether this call was the honored one.
func (h *Handle) Stop() bool {
	if h.State() != StatePlaying {
		return false
	}
	honored := false
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		close(h.stop)
		honored = true
	})
	return honored
}

// Done is closed once playback has ended and resources are released.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until playback ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// State reports the current lifecycle phase.
func (h *Handle) State() State {
	return State(h.state.Load().(string))
}

func (h *Handle) stopRequested(ctx context.Context) bool {
	if h.stopped.Load() {
		return true
	}
	return ctx.Err() != nil
}

func (h *Handle) finish(state State, err error) {
	h.result = Result{State: state, Bytes: h.bytes.Load(), Err: err}
	h.state.Store(string(state))
}
