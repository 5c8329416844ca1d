// Package polly synthesizes spoken answers as raw PCM with Amazon Polly.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	ptypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
)

// Voice names one Polly voice and engine.
type Voice struct {
	ID     string
	Engine string
}

// SynthesisError reports a failed speech synthesis call.
type SynthesisError struct {
	Voice string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize speech with voice %s: %v", e.Voice, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

type synthesizeAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Synthesizer turns answer text into 16-bit mono PCM.
type Synthesizer struct {
	api        synthesizeAPI
	voice      Voice
	sampleRate int
}

// New constructs a synthesizer that always speaks with voice.
func New(api synthesizeAPI, voice Voice, sampleRate int) *Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Synthesizer{api: api, voice: voice, sampleRate: sampleRate}
}

// Synthesize returns a PCM stream for text. The caller closes it.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &SynthesisError{Voice: s.voice.ID, Err: errors.New("nothing to say")}
	}

	input := &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		OutputFormat: ptypes.OutputFormatPcm,
		VoiceId:      ptypes.VoiceId(s.voice.ID),
		SampleRate:   aws.String(strconv.Itoa(s.sampleRate)),
	}
	if s.voice.Engine != "" {
		input.Engine = ptypes.Engine(s.voice.Engine)
	}

	out, err := s.api.SynthesizeSpeech(ctx, input)
	if err != nil {
		return nil, &SynthesisError{Voice: s.voice.ID, Err: err}
	}
	if out.AudioStream == nil {
		return nil, &SynthesisError{Voice: s.voice.ID, Err: errors.New("empty audio stream")}
	}
	return out.AudioStream, nil
}
