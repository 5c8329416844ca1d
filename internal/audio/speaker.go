package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

// ErrSpeakerClosed is returned by writes after Close.
var ErrSpeakerClosed = errors.New("speaker closed")

const (
	// speakerQueueSamples bounds buffered audio to 250ms so writers are
	// paced by the device.
	speakerQueueSamples = SampleRate / 4
	speakerStartSamples = SampleRate / 10
)

// Speaker is a push-style Pulse playback stream for mono s16le PCM.
type Speaker struct {
	client *pulse.Client
	stream *pulse.PlaybackStream

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []int16
	eof       bool
	closed    bool
	started   bool
	closeOnce sync.Once
}

// OpenSpeaker opens a playback stream on sinkID; "" or "default" selects
// the server default. sampleRate <= 0 selects SampleRate.
func OpenSpeaker(_ context.Context, sinkID string, mediaName string, sampleRate int) (*Speaker, error) {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	client, err := newClient("audio-speakers")
	if err != nil {
		return nil, err
	}

	opts := []pulse.PlaybackOption{
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackMediaName(mediaName),
	}
	if sinkID != "" && sinkID != "default" {
		sink, err := client.SinkByID(sinkID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("resolve sink %q: %w", sinkID, err)
		}
		opts = append(opts, pulse.PlaybackSink(sink))
	}

	s := newSpeaker()
	s.client = client

	stream, err := client.NewPlayback(pulse.Int16Reader(s.read), opts...)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse playback stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

func newSpeaker() *Speaker {
	s := &Speaker{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write queues little-endian s16 PCM, blocking while the queue is full.
func (s *Speaker) Write(pcm []byte) error {
	samples := BytesToSamples(pcm)

	s.mu.Lock()
	for len(s.queue) >= speakerQueueSamples && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return ErrSpeakerClosed
	}
	s.queue = append(s.queue, samples...)
	start := !s.started && len(s.queue) >= speakerStartSamples
	if start {
		s.started = true
	}
	s.mu.Unlock()

	if start && s.stream != nil {
		s.stream.Start()
	}
	return nil
}

// Drain marks the end of input and blocks until queued audio has played.
func (s *Speaker) Drain() error {
	s.mu.Lock()
	s.eof = true
	start := !s.started
	s.started = true
	s.mu.Unlock()

	if s.stream == nil {
		return nil
	}
	if start {
		s.stream.Start()
	}
	s.stream.Drain()
	return s.stream.Error()
}

// Close stops output immediately, discarding queued audio.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.cond.Broadcast()
		s.mu.Unlock()

		if s.stream != nil {
			s.stream.Stop()
			s.stream.Close()
		}
		if s.client != nil {
			s.client.Close()
		}
	})
	return nil
}

// read feeds Pulse. Underruns are filled with silence until Drain.
func (s *Speaker) read(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, pulse.EndOfData
	}
	if len(s.queue) == 0 {
		if s.eof {
			return 0, pulse.EndOfData
		}
		clear(buf)
		return len(buf), nil
	}

	n := copy(buf, s.queue)
	s.queue = s.queue[n:]
	s.cond.Broadcast()
	if len(s.queue) == 0 && s.eof {
		return n, pulse.EndOfData
	}
	return n, nil
}

// BytesToSamples decodes little-endian s16 PCM. A trailing odd byte is dropped.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian s16 PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}
