package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama implements the Invoker interface using Ollama
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Invoker instance.
// The model must be vision capable, e.g. llava, llama3.2-vision or qwen2.5vl.
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llama3.2-vision"
	}

	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // Vision models on local hardware are slow
		},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   map[string]any  `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// Name returns the provider name
func (o *Ollama) Name() string { return "ollama" }

// Invoke sends the prompt and image to Ollama
func (o *Ollama) Invoke(ctx context.Context, p Prompt) (json.RawMessage, error) {
	const op = "calling ollama"

	// Ollama takes images on the message, separate from the text
	var images []string
	for _, ref := range p.MediaRefs() {
		m, err := inlineMedia(ref)
		if err != nil {
			return nil, err
		}
		images = append(images, m.Base64())
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "user",
				Content: p.Text(),
				Images:  images,
			},
		},
		Format:  p.OutputSchema(false),
		Options: map[string]any{"temperature": 0},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, classifyCallError(op, fmt.Errorf("calling ollama API: %w", err), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyCallError(op, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body)), resp.StatusCode)
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		if ctx.Err() != nil {
			return nil, TransientError(op, ctx.Err())
		}
		return nil, InvalidResponseError(op, fmt.Errorf("decoding response: %w", err))
	}
	if chatResp.Error != "" {
		return nil, InvalidResponseError(op, fmt.Errorf("ollama: %s", chatResp.Error))
	}

	return responseText(op, chatResp.Message.Content)
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
