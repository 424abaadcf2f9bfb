package card

import (
	"github.com/zombor/cardscan/internal/contact"
	"github.com/zombor/cardscan/internal/scanning"
)

// ResultStatus discriminates an ExtractionResult
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// ResultError describes why an extraction failed
type ResultError struct {
	Kind    scanning.ErrorKind `json:"kind,omitempty"`
	Message string             `json:"message"`
}

// ExtractionResult is the outcome of one extraction: a record on success, a
// kind and message on failure. A failure never carries a record.
type ExtractionResult struct {
	Status ResultStatus    `json:"status"`
	Record *contact.Record `json:"record,omitempty"`
	Error  *ResultError    `json:"error,omitempty"`
}

// Success wraps an extracted record
func Success(record contact.Record) ExtractionResult {
	return ExtractionResult{Status: ResultSuccess, Record: &record}
}

// Failure describes err
func Failure(err error) ExtractionResult {
	return ExtractionResult{
		Status: ResultFailure,
		Error:  &ResultError{Kind: scanning.KindOf(err), Message: err.Error()},
	}
}

// NewResult builds the result for the outcome of an extraction
func NewResult(record contact.Record, err error) ExtractionResult {
	if err != nil {
		return Failure(err)
	}
	return Success(record)
}

// OK reports whether the extraction succeeded
func (r ExtractionResult) OK() bool {
	return r.Status == ResultSuccess
}
