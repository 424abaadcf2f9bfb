package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// claudeToolName is the tool Claude is forced to call; its input is the record
const claudeToolName = "record_" + OutputSchemaName

// ClaudeConfig configures the Claude invoker
type ClaudeConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Claude implements the Invoker interface using the Anthropic messages API
type Claude struct {
	client anthropic.Client
	model  string
}

// NewClaude creates a new Claude Invoker instance
func NewClaude(cfg ClaudeConfig) (*Claude, error) {
	if cfg.APIKey == "" {
		return nil, AuthError("creating claude client", errors.New("anthropic api key is required"))
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Claude{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Name returns the provider name
func (c *Claude) Name() string { return "claude" }

// Invoke sends the prompt to Claude and returns the input of the forced tool call
func (c *Claude) Invoke(ctx context.Context, p Prompt) (json.RawMessage, error) {
	const op = "calling claude"

	params, err := claudeParams(c.model, p)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, classifyCallError(op, err, apiErr.StatusCode)
		}
		return nil, classifyCallError(op, err, 0)
	}

	var text string
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			tu := block.AsToolUse()
			if tu.Name == claudeToolName {
				return tu.Input, nil
			}
		case "text":
			text += block.AsText().Text
		}
	}
	// No tool call; fall back to JSON in the text
	return responseText(op, text)
}

// Close is a no-op; the client holds no resources
func (c *Claude) Close() error {
	return nil
}

func claudeParams(model string, p Prompt) (anthropic.MessageNewParams, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, s := range p.Segments {
		if !s.IsMedia() {
			blocks = append(blocks, anthropic.NewTextBlock(s.Text))
			continue
		}
		m, err := inlineMedia(s.MediaRef)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		blocks = append(blocks, anthropic.NewImageBlockBase64(m.MIMEType, m.Base64()))
	}

	schema := p.OutputSchema(false)
	tool := anthropic.ToolParam{
		Name:        claudeToolName,
		Description: anthropic.String("Record the fields read from the contact card. Use an empty string for any field that cannot be determined."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
		},
	}

	return anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   1024,
		Temperature: anthropic.Float(0),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Tools:       []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: claudeToolName},
		},
	}, nil
}
