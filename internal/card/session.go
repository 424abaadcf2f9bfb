package card

import (
	"time"

	"github.com/zombor/cardscan/internal/contact"
)

// Status describes what a session's record holds
type Status string

const (
	// StatusEmpty means nothing has been extracted yet
	StatusEmpty Status = "empty"
	// StatusExtracted means the record came from the last extraction, possibly edited since
	StatusExtracted Status = "extracted"
	// StatusFailed means the last extraction failed; the record is unchanged
	StatusFailed Status = "failed"
)

// Session holds one contact card being reviewed
type Session struct {
	ID        string         `json:"id"`
	Record    contact.Record `json:"record"`
	Status    Status         `json:"status"`
	LastError *ResultError   `json:"last_error,omitempty"` // Set when the last extraction failed
	Filename  string         `json:"filename,omitempty"`   // Name of the last uploaded image
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// clone returns a copy that shares no pointers with s
func (s *Session) clone() *Session {
	c := *s
	if s.LastError != nil {
		e := *s.LastError
		c.LastError = &e
	}
	return &c
}
