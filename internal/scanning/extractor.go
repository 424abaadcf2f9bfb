package scanning

import (
	"context"
	"fmt"

	"github.com/zombor/cardscan/internal/contact"
)

// Extractor runs one extraction attempt: encode, build the request, render the
// prompt, invoke the model, validate. Stages run strictly in that order and a
// failure at any stage yields no record.
type Extractor struct {
	invoker   Invoker
	fields    []contact.FieldSpec
	validator *Validator
}

// NewExtractor creates an Extractor for the standard contact card fields
func NewExtractor(invoker Invoker) (*Extractor, error) {
	fields := contact.Fields()
	validator, err := NewValidator(fields)
	if err != nil {
		return nil, fmt.Errorf("creating validator: %w", err)
	}
	return &Extractor{
		invoker:   invoker,
		fields:    fields,
		validator: validator,
	}, nil
}

// Prepare encodes an image into a request
func (e *Extractor) Prepare(data []byte, contentType string) (ExtractionRequest, error) {
	media, err := EncodeMedia(data, contentType)
	if err != nil {
		return ExtractionRequest{}, err
	}
	return NewExtractionRequest(media), nil
}

// Run performs the prompt, invoke and validate stages for req
func (e *Extractor) Run(ctx context.Context, req ExtractionRequest) (contact.Record, error) {
	prompt, err := BuildPrompt(req, e.fields)
	if err != nil {
		return contact.Record{}, err
	}

	raw, err := e.invoker.Invoke(ctx, prompt)
	if err != nil {
		return contact.Record{}, err
	}
	// A response that arrives after cancellation is discarded
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contact.Record{}, TransientError("calling "+e.invoker.Name(), ctxErr)
	}

	return e.validator.Validate(raw)
}

// Extract runs every stage for one image
func (e *Extractor) Extract(ctx context.Context, data []byte, contentType string) (contact.Record, error) {
	req, err := e.Prepare(data, contentType)
	if err != nil {
		return contact.Record{}, err
	}
	return e.Run(ctx, req)
}

// Provider returns the invoker's name
func (e *Extractor) Provider() string {
	return e.invoker.Name()
}
