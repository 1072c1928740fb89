package knowledge

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("orgrag.knowledge")

var timeNow = func() time.Time { return time.Now().UTC() }

// Service applies the source lifecycle on top of a Store.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a knowledge service.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Store returns the underlying record store.
func (s *Service) Store() Store { return s.store }

// BatchRequest describes one ingestion batch.
type BatchRequest struct {
	OrganizationID string
	Name           string
	Description    string
	Configuration  map[string]any
	Documents      []*Document
}

// BatchResult identifies what ProcessBatch stored.
type BatchResult struct {
	SourceID    string
	DocumentIDs []string
}

// ProcessBatch creates a source, stores its documents and records the
// outcome on the source. When the document insert fails the source is
// marked FAILED and the error is returned along with the source id.
func (s *Service) ProcessBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "knowledge.ProcessBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization_id", req.OrganizationID),
		attribute.Int("document_count", len(req.Documents)),
	)

	src := &Source{
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		Type:           SourceTypeDocument,
		Status:         StatusPending,
		Configuration:  req.Configuration,
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("creating source: %w", err)
	}
	result := &BatchResult{SourceID: src.ID}
	span.SetAttributes(attribute.String("source_id", src.ID))

	if err := s.transition(ctx, src, StatusProcessing, 0, 0, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	for _, d := range req.Documents {
		d.SourceID = src.ID
		if d.OrganizationID == "" {
			d.OrganizationID = req.OrganizationID
		}
	}

	ids, err := s.store.InsertDocuments(ctx, req.Documents)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ferr := s.transition(ctx, src, StatusFailed, 0, len(req.Documents), err.Error()); ferr != nil {
			s.logger.Error("failed to mark source failed",
				zap.String("source_id", src.ID),
				zap.Error(ferr),
			)
		}
		return result, fmt.Errorf("inserting documents: %w", err)
	}
	result.DocumentIDs = ids

	if err := s.transition(ctx, src, StatusCompleted, len(ids), 0, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	s.logger.Info("knowledge source processed",
		zap.String("source_id", src.ID),
		zap.String("organization_id", req.OrganizationID),
		zap.Int("documents", len(ids)),
	)
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// transition moves src to next, stamping lifecycle timestamps.
func (s *Service) transition(ctx context.Context, src *Source, next Status, processed, failed int, errMsg string) error {
	if !src.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, src.Status, next)
	}

	now := timeNow()
	src.Status = next
	src.DocumentsProcessed = processed
	src.DocumentsFailed = failed
	switch next {
	case StatusProcessing:
		src.ProcessStartedAt = &now
	case StatusCompleted:
		src.LastProcessedAt = &now
		src.ErrorMessage = ""
	case StatusFailed:
		src.ErrorMessage = errMsg
	}
	if err := s.store.UpdateSource(ctx, src); err != nil {
		return fmt.Errorf("updating source status to %s: %w", next, err)
	}
	return nil
}

// UpdateSourceStatus applies a lifecycle transition to a stored source.
func (s *Service) UpdateSourceStatus(ctx context.Context, id string, next Status, processed, failed int, errMsg string) (*Source, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, src, next, processed, failed, errMsg); err != nil {
		return nil, err
	}
	return src, nil
}

// UpdateDocumentStatus sets a document's status. COMPLETED stamps the
// processing time; any other status records errMsg.
func (s *Service) UpdateDocumentStatus(ctx context.Context, org, id string, status Status, errMsg string) error {
	if _, err := s.ownedDocument(ctx, org, id); err != nil {
		return err
	}
	return s.store.UpdateDocumentStatus(ctx, id, status, errMsg)
}

func (s *Service) ownedDocument(ctx context.Context, org, id string) (*Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OrganizationID != org {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return doc, nil
}

func (s *Service) ownedSource(ctx context.Context, org, id string) (*Source, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if src.OrganizationID != org {
		return nil, fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	return src, nil
}

// ListSources returns an organization's sources, newest first.
func (s *Service) ListSources(ctx context.Context, org string) ([]*Source, error) {
	return s.store.ListSources(ctx, org)
}

// SourceDocuments returns a source's documents, oldest first.
func (s *Service) SourceDocuments(ctx context.Context, org, sourceID string) ([]*Document, error) {
	if _, err := s.ownedSource(ctx, org, sourceID); err != nil {
		return nil, err
	}
	return s.store.ListDocumentsBySource(ctx, sourceID)
}

// DeleteSource removes a source and all of its documents, documents first.
// It returns the number of documents removed.
func (s *Service) DeleteSource(ctx context.Context, org, id string) (int, error) {
	ctx, span := tracer.Start(ctx, "knowledge.DeleteSource")
	defer span.End()
	span.SetAttributes(attribute.String("source_id", id))

	if _, err := s.ownedSource(ctx, org, id); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteDocumentsBySource(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if err := s.store.DeleteSource(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return n, err
	}

	s.logger.Info("knowledge source deleted",
		zap.String("source_id", id),
		zap.Int("documents", n),
	)
	return n, nil
}

// OrganizationStats aggregates sources and documents by status.
func (s *Service) OrganizationStats(ctx context.Context, org string) (*Stats, error) {
	sources, err := s.store.CountSourcesByStatus(ctx, org)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.CountDocumentsByStatus(ctx, org)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		CompletedSources:   sources[StatusCompleted],
		FailedSources:      sources[StatusFailed],
		ProcessingSources:  sources[StatusProcessing],
		CompletedDocuments: docs[StatusCompleted],
		FailedDocuments:    docs[StatusFailed],
	}
	for _, n := range sources {
		stats.TotalSources += n
	}
	for _, n := range docs {
		stats.TotalDocuments += n
	}
	return stats, nil
}
