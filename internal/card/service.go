package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/zombor/cardscan/internal/contact"
	"github.com/zombor/cardscan/internal/scanning"
)

// errHalted is wrapped into the AuthError returned once the model has
// rejected our credentials
var errHalted = errors.New("extraction halted after an authentication failure")

// Extractor runs the extraction pipeline for one image
type Extractor interface {
	// Prepare encodes an image into a request
	Prepare(data []byte, contentType string) (scanning.ExtractionRequest, error)
	// Run makes a single attempt at extracting the record for req
	Run(ctx context.Context, req scanning.ExtractionRequest) (contact.Record, error)
	// Provider names the model provider
	Provider() string
}

// IDGenerator generates unique IDs for sessions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// RetryPolicy bounds the model calls made for one extraction. Only transient
// failures are retried.
type RetryPolicy struct {
	Attempts uint          // Total attempts, including the first
	Delay    time.Duration // Initial backoff between attempts
	Timeout  time.Duration // Limit for each attempt's model call
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delay:    500 * time.Millisecond,
		Timeout:  60 * time.Second,
	}
}

// Service handles contact card sessions and extractions
type Service struct {
	store       Store
	extractor   Extractor
	policy      RetryPolicy
	idGenerator IDGenerator
	timeSource  TimeSource

	// mu serializes read-modify-write cycles on the store
	mu sync.Mutex

	haltMu  sync.RWMutex
	authErr error
}

// NewService creates a new Service with default ID generator and time source
func NewService(store Store, extractor Extractor, policy RetryPolicy) *Service {
	return NewServiceWithDeps(store, extractor, policy, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, extractor Extractor, policy RetryPolicy, idGen IDGenerator, timeSrc TimeSource) *Service {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Service{
		store:       store,
		extractor:   extractor,
		policy:      policy,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Extract runs the pipeline for one image without a session
func (s *Service) Extract(ctx context.Context, data []byte, contentType string) ExtractionResult {
	return NewResult(s.extract(ctx, data, contentType))
}

// extract encodes the image once, then calls the model until it succeeds, a
// non-transient error occurs or the attempts run out
func (s *Service) extract(ctx context.Context, data []byte, contentType string) (contact.Record, error) {
	if err := s.halted(); err != nil {
		return contact.Record{}, err
	}

	req, err := s.extractor.Prepare(data, contentType)
	if err != nil {
		slog.Warn("Failed to encode image",
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return contact.Record{}, fmt.Errorf("preparing image: %w", err)
	}

	var (
		record  contact.Record
		attempt uint
	)
	err = retry.Do(
		func() error {
			if err := s.halted(); err != nil {
				return err
			}
			attempt++

			callCtx := ctx
			if s.policy.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, s.policy.Timeout)
				defer cancel()
			}

			var runErr error
			record, runErr = s.extractor.Run(callCtx, req)
			if runErr != nil {
				slog.Warn("Extraction attempt failed",
					"provider", s.extractor.Provider(),
					"attempt", attempt,
					"kind", scanning.KindOf(runErr),
					"content_type", contentType,
					"file_size", len(data),
					"error", runErr,
				)
			}
			return runErr
		},
		retry.Context(ctx),
		retry.Attempts(s.policy.Attempts),
		retry.Delay(s.policy.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(scanning.IsTransient),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if scanning.KindOf(err) == "" && ctx.Err() != nil {
			err = scanning.TransientError("extracting contact card", err)
		}
		if scanning.IsAuth(err) {
			s.halt(err)
		}
		return contact.Record{}, fmt.Errorf("extracting contact card: %w", err)
	}
	return record, nil
}

// halted returns an AuthError once any extraction has failed authentication
func (s *Service) halted() error {
	s.haltMu.RLock()
	defer s.haltMu.RUnlock()
	if s.authErr == nil {
		return nil
	}
	return scanning.AuthError("extracting contact card", fmt.Errorf("%w: %v", errHalted, s.authErr))
}

func (s *Service) halt(err error) {
	s.haltMu.Lock()
	defer s.haltMu.Unlock()
	if s.authErr != nil || errors.Is(err, errHalted) {
		return
	}
	slog.Error("Model rejected credentials, halting extractions",
		"provider", s.extractor.Provider(),
		"error", err,
	)
	s.authErr = err
}

// Halted reports whether extractions have been halted by an authentication failure
func (s *Service) Halted() bool {
	return s.halted() != nil
}

// CreateSession starts a session with an empty record
func (s *Service) CreateSession() (*Session, error) {
	now := s.timeSource.Now()
	session := &Session{
		ID:        s.idGenerator.Generate(),
		Record:    contact.NewRecord(),
		Status:    StatusEmpty,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(session); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by ID
func (s *Service) GetSession(id string) (*Session, error) {
	session, err := s.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions
func (s *Service) ListSessions() ([]*Session, error) {
	sessions, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession ends a session and discards its record
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Delete(id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ExtractIntoSession extracts a record from an image and, on success, replaces
// the session's record with it. On failure the record is left untouched and
// the failure is kept on the session.
func (s *Service) ExtractIntoSession(ctx context.Context, id string, filename string, data []byte, contentType string) (*Session, ExtractionResult, error) {
	if _, err := s.GetSession(id); err != nil {
		return nil, ExtractionResult{}, err
	}

	record, extractErr := s.extract(ctx, data, contentType)
	result := NewResult(record, extractErr)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The session may have been deleted while the model was working
	session, err := s.store.Get(id)
	if err != nil {
		return nil, result, fmt.Errorf("getting session: %w", err)
	}

	if result.OK() {
		session.Record = record
		session.Status = StatusExtracted
		session.LastError = nil
	} else {
		session.Status = StatusFailed
		session.LastError = result.Error
	}
	session.Filename = filename
	session.UpdatedAt = s.timeSource.Now()

	if err := s.store.Save(session); err != nil {
		return nil, result, fmt.Errorf("saving session: %w", err)
	}
	return session, result, nil
}

// UpdateFields applies user edits to a session's record. Either every edit is
// applied or none is.
func (s *Service) UpdateFields(id string, values map[string]string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	record := session.Record
	for name, value := range values {
		if err := record.Set(contact.FieldName(name), value); err != nil {
			return nil, fmt.Errorf("updating record: %w", err)
		}
	}

	session.Record = record
	session.UpdatedAt = s.timeSource.Now()
	if err := s.store.Save(session); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return session, nil
}

// ExportCSV renders a session's record as CSV with a header row
func (s *Service) ExportCSV(id string) ([]byte, error) {
	session, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	out, err := contact.FormatCSV(session.Record)
	if err != nil {
		return nil, fmt.Errorf("formatting csv: %w", err)
	}
	return []byte(out), nil
}

// Provider names the model provider in use
func (s *Service) Provider() string {
	return s.extractor.Provider()
}
