// Package transcribe adapts Amazon Transcribe streaming to transcript.Recognizer.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	tstypes "github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"

	"github.com/rbright/parley/internal/transcript"
)

// Config controls stream initialization and recognition behavior.
type Config struct {
	LanguageCode         string
	VocabularyName       string
	PartialStabilization bool
	SampleRate           int
}

type eventStream interface {
	Send(context.Context, tstypes.AudioStream) error
	Events() <-chan tstypes.TranscriptResultStream
	Err() error
	Close() error
}

// Recognizer opens Transcribe streaming sessions.
type Recognizer struct {
	cfg    Config
	logger *slog.Logger
	start  func(context.Context, *transcribestreaming.StartStreamTranscriptionInput) (eventStream, error)
}

// New constructs a recognizer backed by client.
func New(client *transcribestreaming.Client, cfg Config, logger *slog.Logger) *Recognizer {
	return &Recognizer{
		cfg:    cfg,
		logger: logger,
		start: func(ctx context.Context, input *transcribestreaming.StartStreamTranscriptionInput) (eventStream, error) {
			out, err := client.StartStreamTranscription(ctx, input)
			if err != nil {
				return nil, err
			}
			return out.GetStream(), nil
		},
	}
}

// Open starts one streaming transcription and its receive loop.
func (r *Recognizer) Open(ctx context.Context) (transcript.Stream, error) {
	input, err := r.input()
	if err != nil {
		return nil, err
	}

	events, err := r.start(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("start stream transcription: %w", err)
	}
	if r.logger != nil {
		r.logger.Debug("transcription stream opened", "language", r.cfg.LanguageCode)
	}
	return newStream(events), nil
}

func (r *Recognizer) input() (*transcribestreaming.StartStreamTranscriptionInput, error) {
	language := strings.TrimSpace(r.cfg.LanguageCode)
	if language == "" {
		return nil, errors.New("transcribe language code is empty")
	}
	sampleRate := r.cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	input := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         tstypes.LanguageCode(language),
		MediaEncoding:        tstypes.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(int32(sampleRate)),
	}
	if r.cfg.PartialStabilization {
		input.EnablePartialResultsStabilization = true
		input.PartialResultsStability = tstypes.PartialResultsStabilityHigh
	}
	if vocabulary := strings.TrimSpace(r.cfg.VocabularyName); vocabulary != "" {
		input.VocabularyName = aws.String(vocabulary)
	}
	return input, nil
}

// Stream wraps one active StartStreamTranscription event stream.
type Stream struct {
	events  eventStream
	results chan transcript.Result
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newStream(events eventStream) *Stream {
	s := &Stream{
		events:  events,
		results: make(chan transcript.Result, 16),
		done:    make(chan struct{}),
	}
	go s.recvLoop()
	return s
}

// SendAudio forwards one PCM chunk as an audio event.
func (s *Stream) SendAudio(ctx context.Context, chunk []byte) error {
	return s.events.Send(ctx, &tstypes.AudioStreamMemberAudioEvent{
		Value: tstypes.AudioEvent{AudioChunk: chunk},
	})
}

// Results returns the ordered recognition results; it closes when the stream ends.
func (s *Stream) Results() <-chan transcript.Result { return s.results }

// Err reports why the stream ended, if it failed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the receive loop and closes the event stream.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.events.Close()
	})
	return err
}

// recvLoop relays transcript events until the event stream ends or Close is called.
func (s *Stream) recvLoop() {
	defer close(s.results)

	for event := range s.events.Events() {
		te, ok := event.(*tstypes.TranscriptResultStreamMemberTranscriptEvent)
		if !ok {
			continue
		}
		for _, result := range resultsFromEvent(te.Value) {
			select {
			case s.results <- result:
			case <-s.done:
				return
			}
		}
	}

	s.mu.Lock()
	s.err = s.events.Err()
	s.mu.Unlock()
}

// resultsFromEvent extracts the first alternative of every non-empty result.
func resultsFromEvent(event tstypes.TranscriptEvent) []transcript.Result {
	if event.Transcript == nil {
		return nil
	}
	out := make([]transcript.Result, 0, len(event.Transcript.Results))
	for _, result := range event.Transcript.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		text := transcript.Normalize(aws.ToString(result.Alternatives[0].Transcript))
		if text == "" {
			continue
		}
		out = append(out, transcript.Result{Text: text, IsPartial: result.IsPartial})
	}
	return out
}
