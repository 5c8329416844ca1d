package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc/pool"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/pipeline"
	"github.com/rbright/parley/internal/transcript"
)

// Listener runs one capture -> recognition stream, forwarding results until
// ctx is done or the stream fails.
type Listener interface {
	Listen(ctx context.Context, results chan<- transcript.Result) error
}

// Session keeps a recognition stream feeding a Controller, rebuilding the
// stream after transport failures. The conversation survives restarts.
type Session struct {
	ctrl     *Controller
	listener Listener
	cfg      config.SessionConfig
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

func NewSession(ctrl *Controller, listener Listener, cfg config.SessionConfig, logger *slog.Logger) *Session {
	return &Session{
		ctrl:     ctrl,
		listener: listener,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Run listens until ctx is done (nil) or the stream fails in a way a restart
// cannot fix. On the way out it stops capture, then aborts the in-flight
// turn, then stops playback, and waits for the turn to resume the gate.
func (s *Session) Run(ctx context.Context) error {
	captureCtx, stopCapture := context.WithCancel(context.WithoutCancel(ctx))
	turnCtx, abortTurn := context.WithCancel(context.WithoutCancel(ctx))

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			stopCapture()
			abortTurn()
			s.ctrl.StopPlayback()
		})
	}
	stopWatching := context.AfterFunc(ctx, shutdown)
	defer stopWatching()

	s.ctrl.deps.Indicator.Listening(ctx)
	err := s.supervise(captureCtx, turnCtx)
	shutdown()
	s.ctrl.Wait()
	return err
}

func (s *Session) supervise(captureCtx context.Context, turnCtx context.Context) error {
	backoff := s.backoff()
	for {
		started := time.Now()
		streamID := uuid.NewString()
		if s.logger != nil {
			s.logger.Debug("recognition stream starting", "stream_id", streamID)
		}
		err := s.listenOnce(captureCtx, turnCtx)
		if captureCtx.Err() != nil {
			return nil
		}

		var streamErr *pipeline.RecognitionStreamError
		if !errors.As(err, &streamErr) {
			return err
		}
		if time.Since(started) > s.maxDelay() {
			backoff = s.backoff()
		}

		delay, _ := backoff.Next()
		s.ctrl.deps.Recorder.SessionRestarted()
		if s.logger != nil {
			s.logger.Warn("recognition stream failed; restarting",
				"stream_id", streamID,
				"error", err.Error(),
				"delay_ms", delay.Milliseconds(),
			)
		}
		if err := s.sleep(captureCtx, delay); err != nil {
			return nil
		}
	}
}

// listenOnce runs one stream. Events are consumed on their own goroutine so
// the listener never blocks on turn work.
func (s *Session) listenOnce(captureCtx context.Context, turnCtx context.Context) error {
	results := make(chan transcript.Result, 16)

	p := pool.New().WithErrors().WithFirstError()
	p.Go(func() error {
		defer close(results)
		return s.listener.Listen(captureCtx, results)
	})
	p.Go(func() error {
		for ev := range results {
			s.ctrl.Submit(turnCtx, ev)
		}
		return nil
	})
	return p.Wait()
}

// backoff is exponential from the minimum delay with jitter, capped at the
// maximum, and never shorter than the minimum.
func (s *Session) backoff() retry.Backoff {
	minDelay := s.minDelay()
	b := retry.NewExponential(minDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(s.maxDelay(), b)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := b.Next()
		if d < minDelay {
			d = minDelay
		}
		return d, stop
	})
}

func (s *Session) minDelay() time.Duration {
	if s.cfg.RestartMinMS < 1000 {
		return time.Second
	}
	return time.Duration(s.cfg.RestartMinMS) * time.Millisecond
}

func (s *Session) maxDelay() time.Duration {
	maxDelay := time.Duration(s.cfg.RestartMaxMS) * time.Millisecond
	if minDelay := s.minDelay(); maxDelay < minDelay {
		return minDelay
	}
	return maxDelay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
