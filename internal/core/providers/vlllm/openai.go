package vlllm

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"sunforge-server/internal/domain/inspection"
)

// schemaDocument lets the schema map be handed to go-openai, which wants a
// json.Marshaler.
type schemaDocument map[string]any

func (s schemaDocument) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(map[string]any(s))
}

func (p *Provider) chatRequest(req *inspection.Request) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: p.config.ModelName,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: req.Instruction,
				},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    req.Payload.DataURL(),
						Detail: openai.ImageURLDetailHigh,
					},
				},
			},
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   inspection.SchemaName,
				Schema: schemaDocument(req.Schema),
				Strict: true,
			},
		},
		Temperature: float32(p.config.Temperature),
		TopP:        float32(p.config.TopP),
		MaxTokens:   p.config.MaxTokens,
	}
}

func (p *Provider) inferOpenAI(ctx context.Context, req *inspection.Request) (string, error) {
	resp, err := p.openaiClient.CreateChatCompletion(ctx, p.chatRequest(req))
	if err != nil {
		return "", wrapOpenAIError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		p.logger.InfoTag("VLLLM", "%s refused: %s", p.name, choice.Message.Refusal)
		return "", nil
	}
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", nil
	}
	return choice.Message.Content, nil
}

func wrapOpenAIError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: provider, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Cause: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: provider, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Cause: err}
	}
	return err
}
