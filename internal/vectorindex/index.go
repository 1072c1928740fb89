// Package vectorindex stores tenant documents with dense embeddings and
// answers filtered nearest-neighbor queries. Each tenant owns one index,
// named by its canonical resource name.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Payload field names shared by every backend.
const (
	FieldID             = "id"
	FieldContent        = "content"
	FieldProvenance     = "filepath_or_url"
	FieldOrganizationID = "organization_id"
	FieldBlobName       = "blob_name"
)

var (
	// ErrIndexNotFound is returned when the named index does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexExists is returned when creating an index that already exists.
	ErrIndexExists = errors.New("index already exists")

	// ErrInvalidIndexName is returned for names outside [a-z0-9-]{1,128}.
	ErrInvalidIndexName = errors.New("invalid index name")

	// ErrDimensionMismatch is returned when an embedding has the wrong width.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyDocuments is returned for empty writes.
	ErrEmptyDocuments = errors.New("documents cannot be empty")

	// ErrConnectionFailed is returned when the backend cannot be reached.
	ErrConnectionFailed = errors.New("vector index connection failed")
)

var indexNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,127}$`)

// ValidateName checks name against the canonical tenant name alphabet.
func ValidateName(name string) error {
	if !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIndexName, name)
	}
	return nil
}

// Document is one chunk stored in a tenant index.
type Document struct {
	ID             string
	Content        string
	Provenance     string
	OrganizationID string
	BlobName       string
	Embedding      []float32
}

// Result is one search hit. Score is the backend similarity, higher is
// closer.
type Result struct {
	ID             string  `json:"id"`
	Content        string  `json:"content"`
	Provenance     string  `json:"filepath_or_url"`
	OrganizationID string  `json:"organization_id"`
	BlobName       string  `json:"blob_name"`
	Score          float32 `json:"score"`
}

// SearchRequest selects the K nearest neighbors of Vector among documents
// whose payload equals every Filter entry.
type SearchRequest struct {
	Vector []float32
	K      int
	Filter map[string]string
}

// Schema is the fixed per-tenant index definition.
type Schema struct {
	Dimension        int
	HNSWM            int
	HNSWEfConstruct  int
	HNSWEfSearch     int
	Metric           string
	FilterableFields []string
	ContentField     string
}

// DefaultSchema returns the tenant index schema for the given dimension:
// HNSW m=4, ef_construct=400, ef_search=500, cosine distance.
func DefaultSchema(dimension int) Schema {
	return Schema{
		Dimension:        dimension,
		HNSWM:            4,
		HNSWEfConstruct:  400,
		HNSWEfSearch:     500,
		Metric:           "cosine",
		FilterableFields: []string{FieldProvenance, FieldOrganizationID, FieldBlobName},
		ContentField:     FieldContent,
	}
}

// Index is the vector index collaborator.
//
// Upsert is merge-or-upload: a document whose ID already exists is
// overwritten. Insert always adds, so re-running an ingestion may store
// duplicates; callers use it only when SupportsMerge reports false.
type Index interface {
	SupportsMerge() bool

	CreateIndex(ctx context.Context, name string, schema Schema) error
	IndexExists(ctx context.Context, name string) (bool, error)
	DeleteIndex(ctx context.Context, name string) error
	ListIndexes(ctx context.Context) ([]string, error)

	Upsert(ctx context.Context, name string, docs []Document) ([]string, error)
	Insert(ctx context.Context, name string, docs []Document) ([]string, error)
	Search(ctx context.Context, name string, req SearchRequest) ([]Result, error)
	Count(ctx context.Context, name string) (int, error)

	Close() error
}

// checkDocuments validates a write batch against the index dimension.
func checkDocuments(docs []Document, dimension int) error {
	if len(docs) == 0 {
		return ErrEmptyDocuments
	}
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document %d: empty id", i)
		}
		if dimension > 0 && len(d.Embedding) != dimension {
			return fmt.Errorf("%w: document %q has %d, index expects %d",
				ErrDimensionMismatch, d.ID, len(d.Embedding), dimension)
		}
	}
	return nil
}

func checkSearch(req SearchRequest, dimension int) error {
	if req.K <= 0 {
		return fmt.Errorf("k must be positive, got %d", req.K)
	}
	if dimension > 0 && len(req.Vector) != dimension {
		return fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(req.Vector), dimension)
	}
	return nil
}

// maxK bounds a single search.
const maxK = 1000
