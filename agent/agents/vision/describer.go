package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
)

// Describer turns a product photo into a short text description.
type Describer interface {
	Describe(ctx context.Context, imageURL string) (string, error)
}

// OpenAIDescriber asks an OpenAI-compatible vision model, such as one served
// through OpenRouter, to describe the image.
type OpenAIDescriber struct {
	client      *openaisdk.Client
	model       string
	prompt      string
	maxTokens   int64
	temperature float64
}

func NewOpenAIDescriber(client *openaisdk.Client, model, prompt string, maxTokens int, temperature float32) *OpenAIDescriber {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &OpenAIDescriber{
		client:      client,
		model:       strings.TrimSpace(model),
		prompt:      strings.TrimSpace(prompt),
		maxTokens:   int64(maxTokens),
		temperature: float64(temperature),
	}
}

func (d *OpenAIDescriber) Describe(ctx context.Context, imageURL string) (string, error) {
	if d.client == nil {
		return "", errors.New("vision client is nil")
	}

	resp, err := d.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(d.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage([]openaisdk.ChatCompletionContentPartUnionParam{
				openaisdk.TextContentPart(d.prompt),
				openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{
					URL: imageURL,
				}),
			}),
		},
		MaxCompletionTokens: openaisdk.Int(d.maxTokens),
		Temperature:         openaisdk.Float(d.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("describe image: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
