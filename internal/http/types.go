package http

import (
	"context"

	"github.com/fyrsmithlabs/orgrag/internal/blobstore"
	"github.com/fyrsmithlabs/orgrag/internal/ingest"
	"github.com/fyrsmithlabs/orgrag/internal/knowledge"
	"github.com/fyrsmithlabs/orgrag/internal/retrieval"
	"github.com/fyrsmithlabs/orgrag/internal/tenant"
)

// Backend is the set of operations the API serves. *app.App implements it.
type Backend interface {
	CreateTenant(ctx context.Context, tenantID string) (*tenant.CreateResult, error)
	DeleteTenant(ctx context.Context, tenantID string) (*tenant.DeleteResult, error)
	ListTenants(ctx context.Context) ([]string, error)
	TenantInfo(ctx context.Context, tenantID string) (*tenant.Info, error)

	IngestFiles(ctx context.Context, tenantID, dir string, size, overlap int) (*ingest.Result, error)
	IngestURL(ctx context.Context, tenantID, startURL string, size, overlap int) (*ingest.Result, error)
	ChunkDefaults() (size, overlap int)

	Ask(ctx context.Context, tenantID, question string, k int) (*retrieval.Answer, error)

	Sources(ctx context.Context, tenantID string) ([]*knowledge.Source, error)
	SourceDocuments(ctx context.Context, tenantID, sourceID string) ([]*knowledge.Document, error)
	DeleteSource(ctx context.Context, tenantID, sourceID string) (int, error)
	Stats(ctx context.Context, tenantID string) (*knowledge.Stats, error)
	UpdateDocumentStatus(ctx context.Context, tenantID, documentID, status, errMsg string) error

	UploadBlob(ctx context.Context, tenantID, name string, data []byte) error
	DownloadBlob(ctx context.Context, tenantID, name string) ([]byte, error)
	ListBlobs(ctx context.Context, tenantID string) ([]blobstore.BlobInfo, error)
	DeleteBlob(ctx context.Context, tenantID, name string) error
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateTenantRequest is the request body for POST /api/v1/tenants.
type CreateTenantRequest struct {
	TenantID string `json:"tenant_id"`
}

// TenantListResponse is the response body for GET /api/v1/tenants.
type TenantListResponse struct {
	Tenants []string `json:"tenants"`
}

// IngestFilesRequest is the request body for POST .../ingest/files.
// Omitted chunk settings fall back to the configured defaults.
type IngestFilesRequest struct {
	Directory string `json:"directory"`
	ChunkSize *int   `json:"chunk_size,omitempty"`
	Overlap   *int   `json:"overlap,omitempty"`
}

// IngestURLRequest is the request body for POST .../ingest/url.
type IngestURLRequest struct {
	URL       string `json:"url"`
	ChunkSize *int   `json:"chunk_size,omitempty"`
	Overlap   *int   `json:"overlap,omitempty"`
}

// IngestResponse carries the ingestion result. MetadataError is set on a
// 207 response, when the chunks reached the index but the record store
// write failed.
type IngestResponse struct {
	*ingest.Result
	MetadataError string `json:"metadata_error,omitempty"`
}

// AskRequest is the request body for POST .../ask.
type AskRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// SourceListResponse is the response body for GET .../sources.
type SourceListResponse struct {
	Sources []*knowledge.Source `json:"sources"`
}

// DocumentListResponse is the response body for GET .../sources/:id/documents.
type DocumentListResponse struct {
	Documents []*knowledge.Document `json:"documents"`
}

// DeleteSourceResponse is the response body for DELETE .../sources/:id.
type DeleteSourceResponse struct {
	SourceID         string `json:"source_id"`
	DocumentsDeleted int    `json:"documents_deleted"`
}

// UpdateStatusRequest is the request body for PUT .../documents/:id/status.
type UpdateStatusRequest struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// BlobListResponse is the response body for GET .../blobs.
type BlobListResponse struct {
	Blobs []blobstore.BlobInfo `json:"blobs"`
}
