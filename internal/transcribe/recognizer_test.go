package transcribe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	tstypes "github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/transcript"
)

func TestResultsFromEvent(t *testing.T) {
	event := tstypes.TranscriptEvent{
		Transcript: &tstypes.Transcript{
			Results: []tstypes.Result{
				{IsPartial: true, Alternatives: []tstypes.Alternative{{Transcript: aws.String("what  is ")}}},
				{Alternatives: nil},
				{Alternatives: []tstypes.Alternative{{Transcript: aws.String("   ")}}},
				{Alternatives: []tstypes.Alternative{{Transcript: aws.String("What is the weather?")}, {Transcript: aws.String("ignored")}}},
			},
		},
	}

	require.Equal(t, []transcript.Result{
		{Text: "what is", IsPartial: true},
		{Text: "What is the weather?"},
	}, resultsFromEvent(event))
	require.Nil(t, resultsFromEvent(tstypes.TranscriptEvent{}))
}

func TestInputAppliesConfig(t *testing.T) {
	r := &Recognizer{cfg: Config{LanguageCode: "es-ES", VocabularyName: " kitchen ", PartialStabilization: true}}
	input, err := r.input()
	require.NoError(t, err)
	require.Equal(t, tstypes.LanguageCode("es-ES"), input.LanguageCode)
	require.Equal(t, tstypes.MediaEncodingPcm, input.MediaEncoding)
	require.Equal(t, int32(16000), aws.ToInt32(input.MediaSampleRateHertz))
	require.True(t, input.EnablePartialResultsStabilization)
	require.Equal(t, tstypes.PartialResultsStabilityHigh, input.PartialResultsStability)
	require.Equal(t, "kitchen", aws.ToString(input.VocabularyName))

	_, err = (&Recognizer{}).input()
	require.Error(t, err)
}

func TestOpenWrapsStartFailure(t *testing.T) {
	r := &Recognizer{
		cfg: Config{LanguageCode: "en-US"},
		start: func(context.Context, *transcribestreaming.StartStreamTranscriptionInput) (eventStream, error) {
			return nil, errors.New("access denied")
		},
	}
	_, err := r.Open(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "start stream transcription")
}

func TestStreamRelaysEventsAndReportsError(t *testing.T) {
	fake := newFakeEventStream()
	r := &Recognizer{
		cfg: Config{LanguageCode: "en-US"},
		start: func(context.Context, *transcribestreaming.StartStreamTranscriptionInput) (eventStream, error) {
			return fake, nil
		},
	}
	stream, err := r.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, stream.SendAudio(context.Background(), []byte{1, 2}))
	require.Equal(t, [][]byte{{1, 2}}, fake.sentChunks())

	fake.events <- &tstypes.TranscriptResultStreamMemberTranscriptEvent{Value: tstypes.TranscriptEvent{
		Transcript: &tstypes.Transcript{Results: []tstypes.Result{
			{IsPartial: false, Alternatives: []tstypes.Alternative{{Transcript: aws.String("hello")}}},
		}},
	}}
	require.Equal(t, transcript.Result{Text: "hello"}, <-stream.Results())

	fake.finish(errors.New("stream reset"))
	select {
	case _, ok := <-stream.Results():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("results channel not closed")
	}
	require.EqualError(t, stream.Err(), "stream reset")

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	require.Equal(t, 1, fake.closeCount())
}

type fakeEventStream struct {
	events chan tstypes.TranscriptResultStream

	mu     sync.Mutex
	sent   [][]byte
	err    error
	closes int
}

func newFakeEventStream() *fakeEventStream {
	return &fakeEventStream{events: make(chan tstypes.TranscriptResultStream, 4)}
}

func (f *fakeEventStream) Send(_ context.Context, event tstypes.AudioStream) error {
	audio, ok := event.(*tstypes.AudioStreamMemberAudioEvent)
	if !ok {
		return errors.New("unexpected event")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, audio.Value.AudioChunk)
	return nil
}

func (f *fakeEventStream) Events() <-chan tstypes.TranscriptResultStream { return f.events }

func (f *fakeEventStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeEventStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeEventStream) finish(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.events)
}

func (f *fakeEventStream) sentChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func (f *fakeEventStream) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
