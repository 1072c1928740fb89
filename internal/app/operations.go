package app

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/orgrag/internal/blobstore"
	"github.com/fyrsmithlabs/orgrag/internal/ingest"
	"github.com/fyrsmithlabs/orgrag/internal/knowledge"
	"github.com/fyrsmithlabs/orgrag/internal/logging"
	"github.com/fyrsmithlabs/orgrag/internal/retrieval"
	"github.com/fyrsmithlabs/orgrag/internal/sanitize"
	"github.com/fyrsmithlabs/orgrag/internal/tenant"
	"go.uber.org/zap"
)

// Tenant lifecycle

func (a *App) CreateTenant(ctx context.Context, tenantID string) (*tenant.CreateResult, error) {
	return a.tenants.Create(logging.WithTenant(ctx, tenantID), tenantID)
}

// DeleteTenant removes the tenant's index and container. Knowledge records
// are kept; use DeleteSource to remove them.
func (a *App) DeleteTenant(ctx context.Context, tenantID string) (*tenant.DeleteResult, error) {
	return a.tenants.Delete(logging.WithTenant(ctx, tenantID), tenantID)
}

func (a *App) ListTenants(ctx context.Context) ([]string, error) {
	return a.tenants.List(ctx)
}

func (a *App) TenantInfo(ctx context.Context, tenantID string) (*tenant.Info, error) {
	return a.tenants.Info(logging.WithTenant(ctx, tenantID), tenantID)
}

// Ingestion

// IngestFiles ingests the supported files directly inside dir.
func (a *App) IngestFiles(ctx context.Context, tenantID, dir string, size, overlap int) (*ingest.Result, error) {
	ctx = logging.WithTenant(ctx, tenantID)
	res, err := a.pipeline.IngestDirectory(ctx, tenantID, dir, size, overlap)
	a.logIngest(tenantID, "directory", res, err)
	return res, err
}

// IngestURL scrapes startURL and ingests every page with content.
func (a *App) IngestURL(ctx context.Context, tenantID, startURL string, size, overlap int) (*ingest.Result, error) {
	ctx = logging.WithTenant(ctx, tenantID)
	res, err := a.pipeline.IngestURL(ctx, tenantID, startURL, size, overlap)
	a.logIngest(tenantID, "url", res, err)
	return res, err
}

func (a *App) logIngest(tenantID, kind string, res *ingest.Result, err error) {
	if err != nil && res == nil {
		return
	}
	fields := []zap.Field{
		zap.String("tenant", tenantID),
		zap.String("kind", kind),
		zap.Int("items", len(res.Items)),
		zap.Int("chunks", res.Chunks()),
		zap.String("source_id", res.SourceID),
	}
	if err != nil {
		a.logger.Warn("ingestion finished with errors", append(fields, zap.Error(err))...)
		return
	}
	a.logger.Info("ingestion finished", fields...)
}

// Retrieval

// Ask answers question from the tenant's top-k chunks.
func (a *App) Ask(ctx context.Context, tenantID, question string, k int) (*retrieval.Answer, error) {
	ctx = logging.WithTenant(ctx, tenantID)
	if _, err := a.tenants.Resolve(ctx, tenantID); err != nil {
		return nil, err
	}
	return a.retrieval.Ask(ctx, tenantID, question, k)
}

// Knowledge records

func (a *App) Sources(ctx context.Context, tenantID string) ([]*knowledge.Source, error) {
	if _, err := sanitize.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	return a.knowledge.ListSources(ctx, tenantID)
}

func (a *App) SourceDocuments(ctx context.Context, tenantID, sourceID string) ([]*knowledge.Document, error) {
	if _, err := sanitize.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	return a.knowledge.SourceDocuments(ctx, tenantID, sourceID)
}

// DeleteSource removes a source and its documents from the record store.
// Chunks already in the vector index are not touched.
func (a *App) DeleteSource(ctx context.Context, tenantID, sourceID string) (int, error) {
	if _, err := sanitize.ValidateTenantID(tenantID); err != nil {
		return 0, err
	}
	return a.knowledge.DeleteSource(logging.WithSourceID(ctx, sourceID), tenantID, sourceID)
}

func (a *App) Stats(ctx context.Context, tenantID string) (*knowledge.Stats, error) {
	if _, err := sanitize.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	return a.knowledge.OrganizationStats(ctx, tenantID)
}

// UpdateDocumentStatus sets a document's status. status is parsed case
// insensitively.
func (a *App) UpdateDocumentStatus(ctx context.Context, tenantID, documentID, status, errMsg string) error {
	if _, err := sanitize.ValidateTenantID(tenantID); err != nil {
		return err
	}
	st, err := knowledge.ParseStatus(status)
	if err != nil {
		return err
	}
	return a.knowledge.UpdateDocumentStatus(ctx, tenantID, documentID, st, errMsg)
}

// Blobs

func (a *App) UploadBlob(ctx context.Context, tenantID, name string, data []byte) error {
	container, err := a.container(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := a.deps.Blobs.Upload(ctx, container, name, data); err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	return nil
}

func (a *App) DownloadBlob(ctx context.Context, tenantID, name string) ([]byte, error) {
	container, err := a.container(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return a.deps.Blobs.Download(ctx, container, name)
}

func (a *App) ListBlobs(ctx context.Context, tenantID string) ([]blobstore.BlobInfo, error) {
	container, err := a.container(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return a.deps.Blobs.List(ctx, container)
}

func (a *App) DeleteBlob(ctx context.Context, tenantID, name string) error {
	container, err := a.container(ctx, tenantID)
	if err != nil {
		return err
	}
	return a.deps.Blobs.Delete(ctx, container, name)
}

// container returns the blob container owned by tenantID.
func (a *App) container(ctx context.Context, tenantID string) (string, error) {
	return a.tenants.Resolve(ctx, tenantID)
}
