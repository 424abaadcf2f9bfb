package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIConfig configures the OpenAI invoker
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // Optional, for OpenAI-compatible gateways
	HTTPClient *http.Client
}

// OpenAI implements the Invoker interface using the OpenAI chat completions API
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a new OpenAI Invoker instance
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, AuthError("creating openai client", errors.New("openai api key is required"))
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries belong to the caller
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Name returns the provider name
func (o *OpenAI) Name() string { return "openai" }

// Invoke sends the prompt to OpenAI. Media references are passed through as
// image URLs, so both data URIs and http(s) URLs work.
func (o *OpenAI) Invoke(ctx context.Context, p Prompt) (json.RawMessage, error) {
	const op = "calling openai"

	completion, err := o.client.Chat.Completions.New(ctx, openAIParams(o.model, p))
	if err != nil {
		return nil, classifyOpenAIError(op, err)
	}

	if len(completion.Choices) == 0 {
		return nil, InvalidResponseError(op, errors.New("no choices in response"))
	}
	msg := completion.Choices[0].Message
	if msg.Refusal != "" {
		return nil, InvalidResponseError(op, fmt.Errorf("model refused: %s", msg.Refusal))
	}
	return responseText(op, msg.Content)
}

// Close is a no-op; the client holds no resources
func (o *OpenAI) Close() error {
	return nil
}

func openAIParams(model string, p Prompt) openai.ChatCompletionNewParams {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(p.Segments))
	for _, s := range p.Segments {
		if s.IsMedia() {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: s.MediaRef,
			}))
			continue
		}
		parts = append(parts, openai.TextContentPart(s.Text))
	}

	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        OutputSchemaName,
					Description: openai.String("Fields read from a handwritten contact card"),
					Schema:      p.OutputSchema(true),
					Strict:      openai.Bool(true),
				},
			},
		},
	}
}

func classifyOpenAIError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyCallError(op, err, apiErr.StatusCode)
	}
	return classifyCallError(op, err, 0)
}
