package scanning

import (
	"context"
	"encoding/json"
	"errors"
)

// Invoker sends a prompt to a generative model and returns its structured
// response. Implementations make exactly one outbound call per Invoke, never
// retry, and must be safe for concurrent use.
type Invoker interface {
	// Invoke returns the raw JSON produced by the model
	Invoke(ctx context.Context, p Prompt) (json.RawMessage, error)
	// Name identifies the provider in logs
	Name() string
	// Close releases the underlying client
	Close() error
}

var errRemoteMedia = errors.New("provider requires inline image data, not a URL")

// inlineMedia resolves a media segment to bytes for providers that cannot
// fetch URLs
func inlineMedia(ref string) (Media, error) {
	if IsRemoteRef(ref) {
		return Media{}, EncodingError("resolving media", errRemoteMedia)
	}
	return DecodeMediaRef(ref)
}

// responseText turns model output text into raw JSON, tolerating markdown
// code fences and text around the object
func responseText(op, text string) (json.RawMessage, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, InvalidResponseError(op, err)
	}
	return raw, nil
}
