// Package transcript defines recognition results and the recognizer contract
// shared by speech-to-text backends.
package transcript

import (
	"context"
	"strings"
)

// Result is one recognition event from the speech-to-text stream.
//
// Partial results are transient hypotheses for live display only; a final
// result closes an utterance and may open a conversational turn.
type Result struct {
	Text      string
	IsPartial bool
}

// Final reports whether r closes an utterance.
func (r Result) Final() bool { return !r.IsPartial }

// Normalize collapses internal whitespace and trims the transcript.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Recognizer opens streaming recognition sessions.
type Recognizer interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream accepts sequential PCM chunks and emits ordered results.
//
// Results is closed when the stream ends; Err reports why it ended.
type Stream interface {
	SendAudio(ctx context.Context, chunk []byte) error
	Results() <-chan Result
	Err() error
	Close() error
}
