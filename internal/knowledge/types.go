// Package knowledge records what was ingested for each tenant: one source
// per ingestion batch and one document per chunk. Sources move through a
// PENDING, PROCESSING, COMPLETED or FAILED lifecycle.
package knowledge

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a source, document or claim is missing.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned for status changes the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrNamespaceClaimed is returned when a canonical name already belongs
	// to a different tenant.
	ErrNamespaceClaimed = errors.New("namespace claimed by another tenant")
)

// Status is the processing state of a source or document.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a source may move from s to next.
// Terminal sources are never reopened.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// ParseStatus accepts any letter case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, s)
	}
	return st, nil
}

// SourceTypeDocument is the only source type produced by ingestion.
const SourceTypeDocument = "DOCUMENT"

// Source is one ingestion batch.
type Source struct {
	ID                 string         `json:"id"`
	OrganizationID     string         `json:"organization_id"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	Type               string         `json:"type"`
	Status             Status         `json:"status"`
	Configuration      map[string]any `json:"configuration"`
	DocumentsProcessed int            `json:"documents_processed"`
	DocumentsFailed    int            `json:"documents_failed"`
	RetryCount         int            `json:"retry_count"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	ProcessStartedAt   *time.Time     `json:"process_started_at,omitempty"`
	LastProcessedAt    *time.Time     `json:"last_processed_at,omitempty"`
}

// Validate checks the fields the store requires.
func (s *Source) Validate() error {
	switch {
	case strings.TrimSpace(s.OrganizationID) == "":
		return fmt.Errorf("%w: source organization required", ErrInvalidRecord)
	case strings.TrimSpace(s.Name) == "":
		return fmt.Errorf("%w: source name required", ErrInvalidRecord)
	case !s.Status.Valid():
		return fmt.Errorf("%w: source status %q", ErrInvalidRecord, s.Status)
	}
	return nil
}

// Document is one stored chunk.
type Document struct {
	ID             string         `json:"id"`
	SourceID       string         `json:"source_id"`
	OrganizationID string         `json:"organization_id"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	URL            *string        `json:"url,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	Status         Status         `json:"status"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Validate checks the fields the store requires.
func (d *Document) Validate() error {
	switch {
	case strings.TrimSpace(d.OrganizationID) == "":
		return fmt.Errorf("%w: document organization required", ErrInvalidRecord)
	case strings.TrimSpace(d.SourceID) == "":
		return fmt.Errorf("%w: document source required", ErrInvalidRecord)
	case strings.TrimSpace(d.Content) == "":
		return fmt.Errorf("%w: document content required", ErrInvalidRecord)
	case !d.Status.Valid():
		return fmt.Errorf("%w: document status %q", ErrInvalidRecord, d.Status)
	}
	return nil
}

// Stats aggregates an organization's sources and documents by status.
type Stats struct {
	TotalSources       int `json:"totalSources"`
	CompletedSources   int `json:"completedSources"`
	FailedSources      int `json:"failedSources"`
	ProcessingSources  int `json:"processingSources"`
	TotalDocuments     int `json:"totalDocuments"`
	CompletedDocuments int `json:"completedDocuments"`
	FailedDocuments    int `json:"failedDocuments"`
}
