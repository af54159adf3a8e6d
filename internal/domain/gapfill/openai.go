package gapfill

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIOracle asks an OpenAI-compatible chat completion endpoint.
type OpenAIOracle struct {
	client     *openai.Client
	model      string
	transforms []string
}

// NewOpenAIOracle creates an oracle for endpoint (e.g.
// "https://api.openai.com/v1"). apiKey may be empty for local endpoints.
func NewOpenAIOracle(endpoint, apiKey, model string, transforms []string) (*OpenAIOracle, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if model == "" {
		return nil, errors.New("model is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(endpoint, "/")
	return &OpenAIOracle{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		transforms: transforms,
	}, nil
}

func (o *OpenAIOracle) Model() string { return o.model }

func (o *OpenAIOracle) Suggest(ctx context.Context, req Request) (*Suggestion, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req, o.transforms)},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}
	return ParseSuggestion(resp.Choices[0].Message.Content)
}
