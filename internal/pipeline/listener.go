// Package pipeline connects microphone capture to a streaming recognizer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/transcript"
)

var (
	errCaptureEnded = errors.New("audio capture ended")
	errStreamEnded  = errors.New("recognition stream ended")
)

// RecognitionStreamError reports a failed capture -> recognizer stream. The
// session may be restarted after it.
type RecognitionStreamError struct {
	Op  string
	Err error
}

func (e *RecognitionStreamError) Error() string {
	return fmt.Sprintf("recognition stream %s: %v", e.Op, e.Err)
}

func (e *RecognitionStreamError) Unwrap() error { return e.Err }

type captureClient interface {
	Chunks() <-chan []byte
	Stop() error
	BytesCaptured() int64
	RawPCM() []byte
}

// Listener owns one capture -> recognition pipeline run.
type Listener struct {
	cfg        config.Config
	recognizer transcript.Recognizer
	logger     *slog.Logger

	selectDevice func(context.Context, string, string) (audio.Selection, error)
	startCapture func(context.Context, audio.Device, audio.CaptureOptions) (captureClient, error)
}

// NewListener constructs a listener from runtime config.
func NewListener(cfg config.Config, recognizer transcript.Recognizer, logger *slog.Logger) *Listener {
	return &Listener{
		cfg:          cfg,
		recognizer:   recognizer,
		logger:       logger,
		selectDevice: audio.SelectDevice,
		startCapture: func(ctx context.Context, device audio.Device, opts audio.CaptureOptions) (captureClient, error) {
			return audio.StartCapture(ctx, device, opts)
		},
	}
}

// Listen captures audio, streams it to the recognizer, and forwards every
// result to results until ctx is done (nil) or the stream fails
// (*RecognitionStreamError). Device selection and capture start failures are
// returned as-is.
func (l *Listener) Listen(ctx context.Context, results chan<- transcript.Result) error {
	selection, err := l.selectDevice(ctx, l.cfg.Audio.Input, l.cfg.Audio.Fallback)
	if err != nil {
		return err
	}
	if selection.Warning != "" {
		l.logWarn(selection.Warning)
	}

	stream, err := l.recognizer.Open(ctx)
	if err != nil {
		return &RecognitionStreamError{Op: "open", Err: err}
	}
	defer func() { _ = stream.Close() }()

	capture, err := l.startCapture(ctx, selection.Device, audio.CaptureOptions{
		ChunkBytes: chunkBytes(l.cfg.Audio.ChunkMS),
		KeepRaw:    l.cfg.Debug.EnableAudioDump,
	})
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	defer func() {
		_ = capture.Stop()
		l.writeDebugAudio(capture.RawPCM())
	}()

	var dump *resultDump
	if l.cfg.Debug.EnableStreamDump {
		dump, err = openResultDump()
		if err != nil {
			l.logWarn(fmt.Sprintf("unable to create recognition stream dump: %v", err))
		}
		defer func() { _ = dump.Close() }()
	}

	if l.logger != nil {
		l.logger.Info("listening",
			"device", describeDevice(selection.Device),
			"language", l.cfg.STT.LanguageCode,
		)
	}

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error { return sendLoop(ctx, capture, stream) })
	p.Go(func(ctx context.Context) error { return l.forward(ctx, stream, dump, results) })
	err = p.Wait()

	if l.logger != nil {
		l.logger.Debug("listener stopped", "bytes_captured", capture.BytesCaptured(), "error", errString(err))
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// sendLoop forwards capture chunks to the recognizer until ctx is done.
func sendLoop(ctx context.Context, capture captureClient, stream transcript.Stream) error {
	chunks := capture.Chunks()
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return &RecognitionStreamError{Op: "capture", Err: errCaptureEnded}
			}
			if len(chunk) == 0 {
				continue
			}
			if err := stream.SendAudio(ctx, chunk); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				_ = capture.Stop()
				return &RecognitionStreamError{Op: "send", Err: err}
			}
		}
	}
}

// forward relays recognizer results in order until ctx is done or the stream ends.
func (l *Listener) forward(ctx context.Context, stream transcript.Stream, dump *resultDump, results chan<- transcript.Result) error {
	incoming := stream.Results()
	for {
		select {
		case <-ctx.Done():
			return nil
		case result, ok := <-incoming:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				err := stream.Err()
				if err == nil {
					err = errStreamEnded
				}
				return &RecognitionStreamError{Op: "receive", Err: err}
			}
			if err := dump.record(result); err != nil {
				l.logWarn(fmt.Sprintf("unable to write recognition stream dump: %v", err))
			}
			select {
			case results <- result:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// chunkBytes converts a chunk duration to 16kHz mono s16 bytes.
func chunkBytes(chunkMS int) int {
	if chunkMS <= 0 {
		return audio.DefaultChunkBytes
	}
	return audio.SampleRate * 2 * chunkMS / 1000
}

// describeDevice formats device metadata for logs.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}

// writeDebugAudio writes raw PCM to WAV when debug.audio_dump is enabled.
func (l *Listener) writeDebugAudio(rawPCM []byte) {
	if !l.cfg.Debug.EnableAudioDump || len(rawPCM) == 0 {
		return
	}

	file, err := createDebugFile("audio", "wav")
	if err != nil {
		l.logWarn(fmt.Sprintf("unable to create debug audio dump: %v", err))
		return
	}
	defer file.Close()

	if err := writePCM16WAV(file, rawPCM, audio.SampleRate, 1); err != nil {
		l.logWarn(fmt.Sprintf("unable to write debug audio dump: %v", err))
	}
}

// logWarn emits warning-level logs when logger is configured.
func (l *Listener) logWarn(message string) {
	if l.logger == nil {
		return
	}
	l.logger.Warn(message)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
