package gapfill

import (
	"context"
	"errors"

	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicOracle asks the Anthropic Messages API.
type AnthropicOracle struct {
	client     *anthropic.Client
	model      string
	transforms []string
}

// NewAnthropicOracle creates an oracle. baseURL overrides the API endpoint
// when non-empty.
func NewAnthropicOracle(apiKey, baseURL, model string, transforms []string) (*AnthropicOracle, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	if model == "" {
		return nil, errors.New("model is required")
	}
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicOracle{
		client:     anthropic.NewClient(apiKey, opts...),
		model:      model,
		transforms: transforms,
	}, nil
}

func (o *AnthropicOracle) Model() string { return o.model }

func (o *AnthropicOracle) Suggest(ctx context.Context, req Request) (*Suggestion, error) {
	prompt := BuildPrompt(req, o.transforms)
	resp, err := o.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(o.model),
		System:    systemPrompt,
		MaxTokens: 512,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return nil, err
	}
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return ParseSuggestion(*block.Text)
		}
	}
	return nil, errors.New("no text content in response")
}
