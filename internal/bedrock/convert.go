package bedrock

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/modelstream"
)

// toMessages converts history to Converse messages. Empty text blocks are
// dropped because the API rejects them.
func toMessages(history []conversation.Turn) ([]brtypes.Message, error) {
	messages := make([]brtypes.Message, 0, len(history))
	for i, turn := range history {
		role, err := toRole(turn.Role)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}

		content := make([]brtypes.ContentBlock, 0, len(turn.Content))
		for _, block := range turn.Content {
			converted, ok, err := toContentBlock(block)
			if err != nil {
				return nil, fmt.Errorf("turn %d: %w", i, err)
			}
			if ok {
				content = append(content, converted)
			}
		}
		if len(content) == 0 {
			return nil, fmt.Errorf("turn %d has no content", i)
		}
		messages = append(messages, brtypes.Message{Role: role, Content: content})
	}
	return messages, nil
}

func toRole(role conversation.Role) (brtypes.ConversationRole, error) {
	switch role {
	case conversation.RoleUser:
		return brtypes.ConversationRoleUser, nil
	case conversation.RoleAssistant:
		return brtypes.ConversationRoleAssistant, nil
	default:
		return "", fmt.Errorf("unsupported role %q", role)
	}
}

func toContentBlock(block conversation.Block) (brtypes.ContentBlock, bool, error) {
	switch b := block.(type) {
	case conversation.Text:
		if b.Value == "" {
			return nil, false, nil
		}
		return &brtypes.ContentBlockMemberText{Value: b.Value}, true, nil
	case conversation.ToolCall:
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		return &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
			ToolUseId: aws.String(b.ID),
			Name:      aws.String(b.Name),
			Input:     document.NewLazyDocument(input),
		}}, true, nil
	case conversation.ToolResult:
		content := make([]brtypes.ToolResultContentBlock, 0, len(b.Content))
		for _, text := range b.Content {
			content = append(content, &brtypes.ToolResultContentBlockMemberText{Value: text.Value})
		}
		result := brtypes.ToolResultBlock{
			ToolUseId: aws.String(b.ID),
			Content:   content,
		}
		if b.IsError {
			result.Status = brtypes.ToolResultStatusError
		}
		return &brtypes.ContentBlockMemberToolResult{Value: result}, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported content block %T", block)
	}
}

func toToolConfig(schemas []conversation.ToolSchema) *brtypes.ToolConfiguration {
	if len(schemas) == 0 {
		return nil
	}
	tools := make([]brtypes.Tool, 0, len(schemas))
	for _, schema := range schemas {
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(schema.Name),
			Description: aws.String(schema.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema.InputSchema)},
		}})
	}
	return &brtypes.ToolConfiguration{Tools: tools}
}

func toSystem(prompt string) []brtypes.SystemContentBlock {
	if prompt == "" {
		return nil
	}
	return []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: prompt}}
}

// toEvent maps a Converse stream event to a modelstream event. Events with
// no modelstream counterpart (message start, metadata, reasoning) report false.
func toEvent(event brtypes.ConverseStreamOutput) (modelstream.Event, bool) {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		start := modelstream.BlockStart{Index: int(aws.ToInt32(ev.Value.ContentBlockIndex))}
		if tool, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			start.Tool = &modelstream.ToolDescriptor{
				ID:   aws.ToString(tool.Value.ToolUseId),
				Name: aws.ToString(tool.Value.Name),
			}
		}
		return start, true
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		index := int(aws.ToInt32(ev.Value.ContentBlockIndex))
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			return modelstream.BlockDelta{Index: index, Delta: modelstream.TextDelta{Text: delta.Value}}, true
		case *brtypes.ContentBlockDeltaMemberToolUse:
			return modelstream.BlockDelta{Index: index, Delta: modelstream.ToolInputDelta{PartialJSON: aws.ToString(delta.Value.Input)}}, true
		default:
			return nil, false
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		return modelstream.BlockStop{Index: int(aws.ToInt32(ev.Value.ContentBlockIndex))}, true
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return modelstream.MessageStop{Reason: modelstream.StopReason(ev.Value.StopReason)}, true
	default:
		return nil, false
	}
}
