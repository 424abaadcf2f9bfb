package scanning

import (
	"errors"
	"strings"
)

// ExtractionRequest is the input of one extraction
type ExtractionRequest struct {
	mediaRef string
}

// NewExtractionRequest builds a request that carries media inline as a data URI
func NewExtractionRequest(m Media) ExtractionRequest {
	return ExtractionRequest{mediaRef: m.DataURI()}
}

// NewExtractionRequestFromRef builds a request from an existing data URI or
// http(s) URL
func NewExtractionRequestFromRef(ref string) (ExtractionRequest, error) {
	req := ExtractionRequest{mediaRef: strings.TrimSpace(ref)}
	if err := req.Validate(); err != nil {
		return ExtractionRequest{}, err
	}
	return req, nil
}

// MediaRef returns the media reference. It cannot be changed after construction.
func (r ExtractionRequest) MediaRef() string {
	return r.mediaRef
}

// Validate checks that the media reference is present and resolvable
func (r ExtractionRequest) Validate() error {
	const op = "validating request"
	switch {
	case r.mediaRef == "":
		return EncodingError(op, errors.New("mediaRef is required"))
	case strings.HasPrefix(r.mediaRef, "data:"):
		if _, err := DecodeMediaRef(r.mediaRef); err != nil {
			return err
		}
		return nil
	case IsRemoteRef(r.mediaRef):
		return nil
	}
	return EncodingError(op, errors.New("mediaRef must be a data URI or an http(s) URL"))
}
