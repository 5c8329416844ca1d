package playback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu         sync.Mutex
	written    bytes.Buffer
	writes     int
	writeDelay time.Duration
	writeErr   error
	drained    atomic.Bool
	closed     atomic.Int32
	afterStop  atomic.Int32
	stopSeen   atomic.Bool
}

func (s *fakeSink) Write(pcm []byte) error {
	if s.stopSeen.Load() {
		s.afterStop.Add(1)
	}
	if s.writeDelay > 0 {
		time.Sleep(s.writeDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	s.written.Write(pcm)
	return nil
}

func (s *fakeSink) Drain() error {
	s.drained.Store(true)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed.Add(1)
	return nil
}

func (s *fakeSink) opener() SinkOpener {
	return func(context.Context) (Sink, error) { return s, nil }
}

type trackingReader struct {
	io.Reader
	closed atomic.Bool
}

func (r *trackingReader) Close() error {
	r.closed.Store(true)
	return nil
}

func waitResult(t *testing.T, h *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := h.Wait(ctx)
	require.NoError(t, err)
	return result
}

func TestPlaybackRunsToFinished(t *testing.T) {
	sink := &fakeSink{}
	audio := &trackingReader{Reader: bytes.NewReader(bytes.Repeat([]byte{1, 2}, 3000))}

	h := NewPlayer(sink.opener(), 1024, nil).Start(context.Background(), audio)
	result := waitResult(t, h)

	require.Equal(t, StateFinished, result.State)
	require.NoError(t, result.Err)
	require.EqualValues(t, 6000, result.Bytes)
	require.Equal(t, 6000, sink.written.Len())
	require.True(t, sink.drained.Load())
	require.EqualValues(t, 1, sink.closed.Load())
	require.True(t, audio.closed.Load())
	require.Equal(t, StateFinished, h.State())
	require.False(t, h.Stop())
}

func TestPlaybackDropsTrailingOddByte(t *testing.T) {
	sink := &fakeSink{}
	h := NewPlayer(sink.opener(), 4, nil).Start(context.Background(), bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7}))

	result := waitResult(t, h)
	require.EqualValues(t, 6, result.Bytes)
}

func TestPlaybackStopMidStream(t *testing.T) {
	sink := &fakeSink{writeDelay: 5 * time.Millisecond}
	audio := &trackingReader{Reader: bytes.NewReader(make([]byte, 1<<20))}

	h := NewPlayer(sink.opener(), 2048, nil).Start(context.Background(), audio)
	time.Sleep(50 * time.Millisecond)

	sink.stopSeen.Store(true)
	require.True(t, h.Stop())
	require.False(t, h.Stop())

	result := waitResult(t, h)
	require.Equal(t, StateStopped, result.State)
	require.NoError(t, result.Err)
	require.Less(t, result.Bytes, int64(1<<20))
	require.LessOrEqual(t, sink.afterStop.Load(), int32(1))
	require.False(t, sink.drained.Load())
	require.EqualValues(t, 1, sink.closed.Load())
	require.True(t, audio.closed.Load())
}

func TestPlaybackContextCancelStops(t *testing.T) {
	sink := &fakeSink{writeDelay: 2 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	h := NewPlayer(sink.opener(), 2048, nil).Start(ctx, bytes.NewReader(make([]byte, 1<<20)))
	time.Sleep(10 * time.Millisecond)
	cancel()

	result := waitResult(t, h)
	require.Equal(t, StateStopped, result.State)
}

func TestPlaybackSinkOpenFailureIsFinishedWithError(t *testing.T) {
	audio := &trackingReader{Reader: bytes.NewReader([]byte{0, 0})}
	open := func(context.Context) (Sink, error) { return nil, errors.New("no device") }

	result := waitResult(t, NewPlayer(open, 0, nil).Start(context.Background(), audio))

	var playbackErr *PlaybackError
	require.ErrorAs(t, result.Err, &playbackErr)
	require.Equal(t, "open sink", playbackErr.Op)
	require.Equal(t, StateFinished, result.State)
	require.True(t, audio.closed.Load())
}

func TestPlaybackWriteFailureReleasesSink(t *testing.T) {
	sink := &fakeSink{writeErr: errors.New("device unplugged")}

	result := waitResult(t, NewPlayer(sink.opener(), 0, nil).Start(context.Background(), bytes.NewReader(make([]byte, 64))))

	require.Equal(t, StateFinished, result.State)
	require.ErrorContains(t, result.Err, "device unplugged")
	require.EqualValues(t, 1, sink.closed.Load())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("stream reset") }

func TestPlaybackReadFailureIsFinishedWithError(t *testing.T) {
	sink := &fakeSink{}

	result := waitResult(t, NewPlayer(sink.opener(), 0, nil).Start(context.Background(), failingReader{}))

	var playbackErr *PlaybackError
	require.ErrorAs(t, result.Err, &playbackErr)
	require.Equal(t, "read", playbackErr.Op)
	require.EqualValues(t, 1, sink.closed.Load())
}

func TestPlaybackWaitHonorsContext(t *testing.T) {
	sink := &fakeSink{writeDelay: 20 * time.Millisecond}
	h := NewPlayer(sink.opener(), 2, nil).Start(context.Background(), bytes.NewReader(make([]byte, 1<<16)))
	defer h.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := h.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// stalledSink models a device that stops consuming: Write and Drain block
// until Close.
type stalledSink struct {
	closeOnce  sync.Once
	closedCh   chan struct{}
	closed     atomic.Int32
	writes     atomic.Int32
	stallWrite bool
	draining   chan struct{}
}

func newStalledSink(stallWrite bool) *stalledSink {
	return &stalledSink{
		closedCh:   make(chan struct{}),
		stallWrite: stallWrite,
		draining:   make(chan struct{}),
	}
}

func (s *stalledSink) Write([]byte) error {
	s.writes.Add(1)
	if !s.stallWrite {
		return nil
	}
	<-s.closedCh
	return errors.New("sink closed")
}

func (s *stalledSink) Drain() error {
	close(s.draining)
	<-s.closedCh
	return nil
}

func (s *stalledSink) Close() error {
	s.closed.Add(1)
	s.closeOnce.Do(func() { close(s.closedCh) })
	return nil
}

func (s *stalledSink) opener() SinkOpener {
	return func(context.Context) (Sink, error) { return s, nil }
}

func TestPlaybackStopBreaksBlockedWrite(t *testing.T) {
	sink := newStalledSink(true)
	h := NewPlayer(sink.opener(), 2048, nil).Start(context.Background(), bytes.NewReader(make([]byte, 1<<16)))

	require.Eventually(t, func() bool { return sink.writes.Load() == 1 }, time.Second, time.Millisecond)
	require.True(t, h.Stop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, StateStopped, result.State)
	require.NoError(t, result.Err)
	require.EqualValues(t, 1, sink.closed.Load())
}

func TestPlaybackCancelBreaksBlockedWrite(t *testing.T) {
	sink := newStalledSink(true)
	ctx, cancel := context.WithCancel(context.Background())
	h := NewPlayer(sink.opener(), 2048, nil).Start(ctx, bytes.NewReader(make([]byte, 1<<16)))

	require.Eventually(t, func() bool { return sink.writes.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	result := waitResult(t, h)
	require.Equal(t, StateStopped, result.State)
	require.EqualValues(t, 1, sink.closed.Load())
}

func TestPlaybackStopDuringDrain(t *testing.T) {
	sink := newStalledSink(false)
	h := NewPlayer(sink.opener(), 2048, nil).Start(context.Background(), bytes.NewReader(make([]byte, 4096)))

	select {
	case <-sink.draining:
	case <-time.After(time.Second):
		t.Fatal("playback never started draining")
	}
	require.True(t, h.Stop())

	result := waitResult(t, h)
	require.Equal(t, StateStopped, result.State)
	require.NoError(t, result.Err)
	require.EqualValues(t, 4096, result.Bytes)
	require.EqualValues(t, 1, sink.closed.Load())
}
