// Package tenant provisions and removes the resources a tenant owns: one
// vector index and one blob container, both named by the tenant's
// canonical name.
//
// Distinct tenant ids that sanitize to the same canonical name would share
// those resources, so Create records a namespace claim and refuses a
// second tenant for an already claimed name.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/orgrag/internal/blobstore"
	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/fyrsmithlabs/orgrag/internal/knowledge"
	"github.com/fyrsmithlabs/orgrag/internal/sanitize"
	"github.com/fyrsmithlabs/orgrag/internal/vectorindex"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Tenant statuses reported by Info.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// ErrNamespaceCollision is returned when a tenant id sanitizes to a name
// already claimed by a different tenant id.
var ErrNamespaceCollision = errors.New("tenant namespace collision")

var tracer = otel.Tracer("orgrag.tenant")

// Claims records which tenant id owns a canonical name.
// knowledge.Store satisfies it.
type Claims interface {
	ClaimNamespace(ctx context.Context, name, tenant string) error
	NamespaceOwner(ctx context.Context, name string) (string, error)
	ReleaseNamespace(ctx context.Context, name string) error
}

// CreateResult reports what Create provisioned.
type CreateResult struct {
	Tenant           string `json:"tenant_id"`
	Name             string `json:"name"`
	IndexCreated     bool   `json:"index_created"`
	ContainerCreated bool   `json:"container_created"`
}

// DeleteResult reports what Delete removed. A false field means the
// resource was already absent.
type DeleteResult struct {
	Tenant           string `json:"tenant_id"`
	Name             string `json:"name"`
	IndexDeleted     bool   `json:"index_deleted"`
	ContainerDeleted bool   `json:"container_deleted"`
}

// Info describes a tenant's resources.
type Info struct {
	Tenant      string `json:"tenant_id"`
	Name        string `json:"name"`
	BlobCount   int    `json:"blob_count"`
	IndexExists bool   `json:"search_index_exists"`
	ChunkCount  int    `json:"chunk_count"`
	Status      string `json:"status"`
}

// Manager creates, deletes and inspects tenants.
type Manager struct {
	index     vectorindex.Index
	blobs     blobstore.Store
	claims    Claims
	dimension int
	logger    *zap.Logger
}

// NewManager creates a manager. dimension is the vector width of every
// index it creates.
func NewManager(index vectorindex.Index, blobs blobstore.Store, claims Claims, dimension int, logger *zap.Logger) (*Manager, error) {
	if index == nil || blobs == nil || claims == nil {
		return nil, fmt.Errorf("%w: tenant manager needs an index, a blob store and a claim store", config.ErrConfiguration)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: index dimension must be positive, got %d", config.ErrConfiguration, dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{index: index, blobs: blobs, claims: claims, dimension: dimension, logger: logger}, nil
}

// Create provisions tenant. It is idempotent: an existing index or
// container is reused and reported as not created.
func (m *Manager) Create(ctx context.Context, tenant string) (res *CreateResult, err error) {
	ctx, span := tracer.Start(ctx, "tenant.Create")
	defer span.End()
	defer recordSpan(span, &err)

	name, err := sanitize.ValidateTenantID(tenant)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tenant", tenant), attribute.String("name", name))

	if err := m.claims.ClaimNamespace(ctx, name, tenant); err != nil {
		if errors.Is(err, knowledge.ErrNamespaceClaimed) {
			return nil, fmt.Errorf("%w: %w", ErrNamespaceCollision, err)
		}
		return nil, fmt.Errorf("claiming namespace %s: %w", name, err)
	}

	res = &CreateResult{Tenant: tenant, Name: name}

	exists, err := m.index.IndexExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking index %s: %w", name, err)
	}
	if !exists {
		err := m.index.CreateIndex(ctx, name, vectorindex.DefaultSchema(m.dimension))
		switch {
		case err == nil:
			res.IndexCreated = true
		case errors.Is(err, vectorindex.ErrIndexExists):
			// Created concurrently.
		default:
			return nil, fmt.Errorf("creating index %s: %w", name, err)
		}
	}

	res.ContainerCreated, err = m.blobs.EnsureContainer(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("ensuring container %s: %w", name, err)
	}

	m.logger.Info("tenant ready",
		zap.String("tenant", tenant),
		zap.String("name", name),
		zap.Bool("index_created", res.IndexCreated),
		zap.Bool("container_created", res.ContainerCreated),
	)
	return res, nil
}

// Resolve returns tenant's canonical name. It fails with
// ErrNamespaceCollision when the name is claimed by a different tenant id.
// An unclaimed name resolves, so resources provisioned before claims
// existed stay reachable.
func (m *Manager) Resolve(ctx context.Context, tenant string) (string, error) {
	name, err := sanitize.ValidateTenantID(tenant)
	if err != nil {
		return "", err
	}
	owner, err := m.claims.NamespaceOwner(ctx, name)
	switch {
	case knowledge.IsNotFound(err):
		return name, nil
	case err != nil:
		return "", fmt.Errorf("reading namespace claim %s: %w", name, err)
	case owner != tenant:
		return "", fmt.Errorf("%w: %w: %q is held by %q", ErrNamespaceCollision, knowledge.ErrNamespaceClaimed, name, owner)
	}
	return name, nil
}

// Delete removes tenant's index and container. Each is attempted even if
// the other fails, and an absent resource is not an error. The namespace
// claim is released only when both removals succeed. A tenant id that
// collides with the claim holder is rejected before anything is removed.
func (m *Manager) Delete(ctx context.Context, tenant string) (res *DeleteResult, err error) {
	ctx, span := tracer.Start(ctx, "tenant.Delete")
	defer span.End()
	defer recordSpan(span, &err)

	name, err := m.Resolve(ctx, tenant)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tenant", tenant), attribute.String("name", name))
	res = &DeleteResult{Tenant: tenant, Name: name}

	var indexErr, containerErr error
	switch err := m.index.DeleteIndex(ctx, name); {
	case err == nil:
		res.IndexDeleted = true
	case errors.Is(err, vectorindex.ErrIndexNotFound):
		m.logger.Debug("index already absent", zap.String("name", name))
	default:
		indexErr = fmt.Errorf("deleting index %s: %w", name, err)
	}

	switch err := m.blobs.DeleteContainer(ctx, name); {
	case err == nil:
		res.ContainerDeleted = true
	case errors.Is(err, blobstore.ErrContainerNotFound):
		m.logger.Debug("container already absent", zap.String("name", name))
	default:
		containerErr = fmt.Errorf("deleting container %s: %w", name, err)
	}

	if err := errors.Join(indexErr, containerErr); err != nil {
		m.logger.Error("tenant deletion incomplete",
			zap.String("tenant", tenant),
			zap.Error(err),
		)
		return res, err
	}

	if err := m.claims.ReleaseNamespace(ctx, name); err != nil && !knowledge.IsNotFound(err) {
		return res, fmt.Errorf("releasing namespace %s: %w", name, err)
	}

	m.logger.Info("tenant deleted",
		zap.String("tenant", tenant),
		zap.Bool("index_deleted", res.IndexDeleted),
		zap.Bool("container_deleted", res.ContainerDeleted),
	)
	return res, nil
}

// List returns the sorted union of index and container names.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	indexes, err := m.index.ListIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing indexes: %w", err)
	}
	containers, err := m.blobs.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	seen := make(map[string]struct{}, len(indexes)+len(containers))
	for _, n := range indexes {
		seen[n] = struct{}{}
	}
	for _, n := range containers {
		seen[n] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Info reports tenant's blob count and index state. The tenant is active
// when it has blobs or an index.
func (m *Manager) Info(ctx context.Context, tenant string) (*Info, error) {
	name, err := m.Resolve(ctx, tenant)
	if err != nil {
		return nil, err
	}
	info := &Info{Tenant: tenant, Name: name, Status: StatusInactive}

	info.BlobCount, err = m.blobs.Count(ctx, name)
	if err != nil && !errors.Is(err, blobstore.ErrContainerNotFound) {
		return nil, fmt.Errorf("counting blobs in %s: %w", name, err)
	}

	info.IndexExists, err = m.index.IndexExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking index %s: %w", name, err)
	}
	if info.IndexExists {
		if info.ChunkCount, err = m.index.Count(ctx, name); err != nil {
			return nil, fmt.Errorf("counting chunks in %s: %w", name, err)
		}
	}

	if info.BlobCount > 0 || info.IndexExists {
		info.Status = StatusActive
	}
	return info, nil
}

func recordSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
		return
	}
	span.SetStatus(codes.Ok, "success")
}
