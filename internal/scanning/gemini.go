package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/zombor/cardscan/internal/contact"
)

// Gemini implements the Invoker interface using Google Gemini
type Gemini struct {
	client    *genai.Client
	modelName string
}

// NewGemini creates a new Gemini Invoker instance
func NewGemini(apiKey string, modelName string, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, AuthError("creating gemini client", errors.New("gemini api key is required"))
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
	}, nil
}

// Name returns the provider name
func (g *Gemini) Name() string { return "gemini" }

// model returns a model bound to the prompt's output schema. GenerativeModel
// carries mutable config, so each call gets its own.
func (g *Gemini) model(p Prompt) *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = geminiSchema(p.Fields)
	return m
}

// Invoke sends the prompt and image to Gemini
func (g *Gemini) Invoke(ctx context.Context, p Prompt) (json.RawMessage, error) {
	const op = "calling gemini"

	parts, err := geminiParts(p)
	if err != nil {
		return nil, err
	}

	resp, err := g.model(p).GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classifyGeminiError(op, err)
	}

	text := geminiText(resp)
	if text == "" {
		return nil, InvalidResponseError(op, errors.New("no response from gemini"))
	}
	return responseText(op, text)
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// geminiParts maps prompt segments to parts, keeping their order.
// genai.Blob takes the full MIME type, unlike genai.ImageData.
func geminiParts(p Prompt) ([]genai.Part, error) {
	parts := make([]genai.Part, 0, len(p.Segments))
	for _, s := range p.Segments {
		if !s.IsMedia() {
			parts = append(parts, genai.Text(s.Text))
			continue
		}
		m, err := inlineMedia(s.MediaRef)
		if err != nil {
			return nil, err
		}
		parts = append(parts, genai.Blob{MIMEType: m.MIMEType, Data: m.Data})
	}
	return parts, nil
}

func geminiSchema(fields []contact.FieldSpec) *genai.Schema {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(fields)),
	}
	for _, f := range fields {
		schema.Properties[string(f.Name)] = &genai.Schema{
			Type:        genai.TypeString,
			Description: f.Description,
		}
		if f.Required {
			schema.Required = append(schema.Required, string(f.Name))
		}
	}
	return schema
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String())
}

func classifyGeminiError(op string, err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return InvalidResponseError(op, err)
	}
	// A bad key comes back as INVALID_ARGUMENT, so check the reason first
	if geminiAuthReasons[geminiErrorReason(err)] {
		return AuthError(op, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyCallError(op, err, apiErr.Code)
	}
	var ae *apierror.APIError
	if errors.As(err, &ae) {
		if code := ae.HTTPCode(); code > 0 {
			return classifyCallError(op, err, code)
		}
		if st := ae.GRPCStatus(); st != nil {
			return newError(kindForGRPCCode(st.Code()), op, err)
		}
	}
	return classifyCallError(op, err, 0)
}

var geminiAuthReasons = map[string]bool{
	"API_KEY_INVALID":         true,
	"API_KEY_SERVICE_BLOCKED": true,
	"ACCESS_TOKEN_EXPIRED":    true,
}

// geminiErrorReason returns the ErrorInfo reason attached to an API error
func geminiErrorReason(err error) string {
	var ae *apierror.APIError
	if errors.As(err, &ae) {
		return ae.Reason()
	}
	if ae, ok := apierror.ParseError(err, false); ok {
		return ae.Reason()
	}
	return ""
}

func kindForGRPCCode(code codes.Code) ErrorKind {
	switch code {
	case codes.Unauthenticated, codes.PermissionDenied:
		return KindAuth
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal, codes.Canceled:
		return KindTransient
	}
	return KindInvalidResponse
}
