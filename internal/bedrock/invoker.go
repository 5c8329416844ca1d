// Package bedrock adapts the Bedrock Converse streaming API to toolloop.Invoker.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/modelstream"
)

// Inference holds the sampling parameters sent with every request.
type Inference struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

type eventStream interface {
	Events() <-chan brtypes.ConverseStreamOutput
	Err() error
	Close() error
}

// Invoker starts ConverseStream calls.
type Invoker struct {
	inference Inference
	logger    *slog.Logger
	start     func(context.Context, *bedrockruntime.ConverseStreamInput) (eventStream, error)
}

// New constructs an invoker backed by client.
func New(client *bedrockruntime.Client, inference Inference, logger *slog.Logger) *Invoker {
	return &Invoker{
		inference: inference,
		logger:    logger,
		start: func(ctx context.Context, input *bedrockruntime.ConverseStreamInput) (eventStream, error) {
			out, err := client.ConverseStream(ctx, input)
			if err != nil {
				return nil, err
			}
			return out.GetStream(), nil
		},
	}
}

// Invoke sends inv and returns the response stream.
func (i *Invoker) Invoke(ctx context.Context, inv conversation.Invocation) (modelstream.Stream, error) {
	input, err := i.input(inv)
	if err != nil {
		return nil, err
	}

	events, err := i.start(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("converse stream: %w", err)
	}
	if i.logger != nil {
		i.logger.Debug("model stream opened", "model", inv.ModelID, "messages", len(input.Messages))
	}
	return &stream{events: events}, nil
}

func (i *Invoker) input(inv conversation.Invocation) (*bedrockruntime.ConverseStreamInput, error) {
	if inv.ModelID == "" {
		return nil, errors.New("model id is empty")
	}
	messages, err := toMessages(inv.History)
	if err != nil {
		return nil, fmt.Errorf("convert history: %w", err)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:    aws.String(inv.ModelID),
		Messages:   messages,
		System:     toSystem(inv.SystemPrompt),
		ToolConfig: toToolConfig(inv.Tools),
	}
	if i.inference != (Inference{}) {
		config := &brtypes.InferenceConfiguration{}
		if i.inference.MaxTokens > 0 {
			config.MaxTokens = aws.Int32(int32(i.inference.MaxTokens))
		}
		config.Temperature = aws.Float32(float32(i.inference.Temperature))
		config.TopP = aws.Float32(float32(i.inference.TopP))
		input.InferenceConfig = config
	}
	return input, nil
}

type stream struct {
	events eventStream
}

func (s *stream) Recv(ctx context.Context) (modelstream.Event, error) {
	events := s.events.Events()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case raw, ok := <-events:
			if !ok {
				if err := s.events.Err(); err != nil {
					return nil, err
				}
				return nil, io.EOF
			}
			if event, ok := toEvent(raw); ok {
				return event, nil
			}
		}
	}
}

func (s *stream) Close() error {
	return s.events.Close()
}

// Classify buckets a Bedrock failure for metrics and console messages.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return "other"
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "ServiceQuotaExceededException", "TooManyRequestsException":
		return "throttled"
	case "AccessDeniedException", "UnrecognizedClientException":
		return "access_denied"
	case "ValidationException":
		return "validation"
	case "ModelNotReadyException", "ModelTimeoutException", "ServiceUnavailableException", "InternalServerException", "ModelStreamErrorException":
		return "unavailable"
	default:
		return "other"
	}
}
