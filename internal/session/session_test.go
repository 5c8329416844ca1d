package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/modelstream"
	"github.com/rbright/parley/internal/pipeline"
	"github.com/rbright/parley/internal/playback"
	"github.com/rbright/parley/internal/transcript"
)

type listenFunc func(ctx context.Context, results chan<- transcript.Result) error

type scriptedListener struct {
	mu     sync.Mutex
	runs   int
	script []listenFunc
}

func (l *scriptedListener) Listen(ctx context.Context, results chan<- transcript.Result) error {
	l.mu.Lock()
	idx := l.runs
	l.runs++
	l.mu.Unlock()

	if idx < len(l.script) {
		return l.script[idx](ctx, results)
	}
	<-ctx.Done()
	return nil
}

func (l *scriptedListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runs
}

func sendThenFail(texts ...string) listenFunc {
	return func(_ context.Context, results chan<- transcript.Result) error {
		for _, text := range texts {
			results <- final(text)
		}
		return &pipeline.RecognitionStreamError{Op: "receive", Err: errors.New("connection reset")}
	}
}

func (c *Controller) playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playback != nil
}

func TestSessionRestartsAfterStreamFailureAndKeepsHistory(t *testing.T) {
	h := newHarness(
		reply{events: modelstream.Text("first answer")},
	)
	listener := &scriptedListener{script: []listenFunc{sendThenFail("hello")}}
	s := NewSession(h.ctrl, listener, config.SessionConfig{RestartMinMS: 1000, RestartMaxMS: 30000}, nil)

	var mu sync.Mutex
	var delays []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return listener.count() == 2 && h.ctrl.Turns() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}

	require.Equal(t, 2, h.ctrl.state.Len())
	require.Equal(t, 1, h.recorder.snapshot().restarts)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delays, 1)
	require.GreaterOrEqual(t, delays[0], time.Second)
}

func TestSessionReturnsNonStreamErrors(t *testing.T) {
	h := newHarness()
	listener := &scriptedListener{script: []listenFunc{
		func(context.Context, chan<- transcript.Result) error { return errors.New("no input device") },
	}}
	s := NewSession(h.ctrl, listener, config.SessionConfig{RestartMinMS: 1000, RestartMaxMS: 2000}, nil)

	err := s.Run(context.Background())
	require.EqualError(t, err, "no input device")
	require.Equal(t, 1, listener.count())
	require.Zero(t, h.recorder.snapshot().restarts)
}

func TestSessionCancellationStopsPlayback(t *testing.T) {
	h := newHarness(reply{events: modelstream.Text("a very long story")})
	h.synth.pcm = make([]byte, 2048*500)
	h.sink.delay = 5 * time.Millisecond

	listener := &scriptedListener{script: []listenFunc{
		func(ctx context.Context, results chan<- transcript.Result) error {
			results <- final("tell me a story")
			<-ctx.Done()
			return nil
		},
	}}
	s := NewSession(h.ctrl, listener, config.SessionConfig{RestartMinMS: 1000, RestartMaxMS: 2000}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, h.ctrl.playing, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}

	require.True(t, h.sink.closed.Load())
	require.Equal(t, []string{string(playback.StateStopped)}, h.recorder.snapshot().playbacks)
	require.False(t, h.ctrl.gate.Busy())
	require.Equal(t, 1, listener.count())
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	s := NewSession(nil, nil, config.SessionConfig{RestartMinMS: 1000, RestartMaxMS: 4000}, nil)
	b := s.backoff()
	for i := 0; i < 12; i++ {
		d, stop := b.Next()
		require.False(t, stop)
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestBackoffMinimumIsOneSecond(t *testing.T) {
	s := NewSession(nil, nil, config.SessionConfig{RestartMinMS: 10, RestartMaxMS: 0}, nil)
	require.Equal(t, time.Second, s.minDelay())
	require.Equal(t, time.Second, s.maxDelay())

	d, _ := s.backoff().Next()
	require.Equal(t, time.Second, d)
}
