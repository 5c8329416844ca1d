package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	// DefaultChunkBytes is 1024 frames (64ms) of 16kHz mono s16.
	DefaultChunkBytes = 2048
	// maxRawBytes bounds the debug copy to ten minutes of audio.
	maxRawBytes = SampleRate * 2 * 600
)

// CaptureOptions tunes a capture stream.
type CaptureOptions struct {
	ChunkBytes int
	// KeepRaw retains captured PCM for debug dumps.
	KeepRaw bool
}

// Capture streams fixed-size PCM chunks from one selected Pulse source.
type Capture struct {
	device     Device
	chunkBytes int
	keepRaw    bool

	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	rawPCM  []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// StartCapture creates and starts a 16kHz mono s16 record stream. The
// stream stops when ctx is done.
func StartCapture(ctx context.Context, selected Device, opts CaptureOptions) (*Capture, error) {
	client, err := newClient("audio-input-microphone")
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	capture := newCapture(selected, opts)
	capture.client = client

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(uint32(capture.chunkBytes)),
		pulse.RecordMediaName("parley conversation"),
	)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = capture.Stop()
		case <-capture.stopCh:
		}
	}()

	return capture, nil
}

func newCapture(device Device, opts CaptureOptions) *Capture {
	chunkBytes := opts.ChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	chunkBytes -= chunkBytes % 2
	return &Capture{
		device:     device,
		chunkBytes: chunkBytes,
		keepRaw:    opts.KeepRaw,
		chunks:     make(chan []byte, 128),
		stopCh:     make(chan struct{}),
	}
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Chunks returns the PCM stream as fixed-size byte slices. It is closed by Stop.
func (c *Capture) Chunks() <-chan []byte {
	return c.chunks
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// RawPCM returns a snapshot of retained PCM. It is empty unless KeepRaw was set.
func (c *Capture) RawPCM() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.rawPCM))
	copy(out, c.rawPCM)
	return out
}

// Stop halts the stream, flushes residual PCM, and closes Chunks exactly once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(pending) > 0 {
		select {
		case c.chunks <- pending:
		default:
		}
	}

	close(c.chunks)
	return nil
}

// Close is a convenience alias for Stop.
func (c *Capture) Close() {
	_ = c.Stop()
}

// onPCM receives raw Pulse frames and emits chunkBytes slices to c.chunks.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)

	if c.keepRaw && len(c.rawPCM)+len(buffer) <= maxRawBytes {
		c.rawPCM = append(c.rawPCM, buffer...)
	}
	c.pending = append(c.pending, buffer...)

	chunks := make([][]byte, 0, len(c.pending)/c.chunkBytes)
	for len(c.pending) >= c.chunkBytes {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.pending[:c.chunkBytes])
		c.pending = c.pending[c.chunkBytes:]
		chunks = append(chunks, chunk)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))

	for _, chunk := range chunks {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.chunks <- chunk:
		}
	}

	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
