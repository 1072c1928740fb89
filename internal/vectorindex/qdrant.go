package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("orgrag.vectorindex")

// pointNamespace seeds the UUIDv5 point ids derived from document ids.
var pointNamespace = uuid.MustParse("6f1c2a9e-3b7d-5e40-9a21-0c8d4b6e7f13")

// PointID maps a document id to its deterministic Qdrant point id.
func PointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the gRPC port (6334), not the REST port.
	Port int

	UseTLS bool
	APIKey string

	// Dimension is the embedding width enforced on writes and queries.
	Dimension int

	// SupportsMerge reports upsert capability to the ingestion pipeline.
	SupportsMerge bool

	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled on each retry.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before opening.
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// QdrantIndex implements Index over Qdrant's native gRPC API. Each tenant
// is one collection. Document ids are mapped to UUIDv5 point ids and the
// original id is kept in the payload.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// efSearch holds the per-collection hnsw_ef applied at query time.
	efSearch sync.Map

	circuitBreaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantIndex connects to Qdrant and performs a health check.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{client: client, config: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant index initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Int("dimension", cfg.Dimension),
		zap.Bool("supports_merge", cfg.SupportsMerge),
	)
	return idx, nil
}

// SupportsMerge reports the configured merge capability.
func (q *QdrantIndex) SupportsMerge() bool { return q.config.SupportsMerge }

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// retryOperation retries operation with exponential backoff while the
// error is transient and the circuit is closed.
func (q *QdrantIndex) retryOperation(ctx context.Context, name string, operation func() error) error {
	if q.isCircuitOpen() {
		return fmt.Errorf("%s: circuit breaker open", name)
	}

	backoff := q.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			q.resetCircuitBreaker()
			return nil
		}
		if !IsTransientError(err) {
			return err
		}

		q.recordFailure()
		if attempt == q.config.MaxRetries || q.isCircuitOpen() {
			return fmt.Errorf("%s failed after %d attempts: %w", name, attempt+1, err)
		}

		q.logger.Debug("retrying qdrant operation",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (q *QdrantIndex) recordFailure() {
	q.circuitBreaker.mu.Lock()
	defer q.circuitBreaker.mu.Unlock()
	q.circuitBreaker.failures++
	q.circuitBreaker.lastFail = time.Now()
}

func (q *QdrantIndex) resetCircuitBreaker() {
	q.circuitBreaker.mu.Lock()
	defer q.circuitBreaker.mu.Unlock()
	q.circuitBreaker.failures = 0
}

func (q *QdrantIndex) isCircuitOpen() bool {
	q.circuitBreaker.mu.Lock()
	defer q.circuitBreaker.mu.Unlock()
	if q.circuitBreaker.failures < q.config.CircuitBreakerThreshold {
		return false
	}
	// Half-open after 30s.
	if time.Since(q.circuitBreaker.lastFail) > 30*time.Second {
		q.circuitBreaker.failures = 0
		return false
	}
	return true
}

// CreateIndex creates the collection with HNSW settings and a keyword
// payload index on every filterable field.
func (q *QdrantIndex) CreateIndex(ctx context.Context, name string, schema Schema) (err error) {
	defer observe("qdrant", "create_index", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "QdrantIndex.CreateIndex")
	defer span.End()
	span.SetAttributes(attribute.String("index", name), attribute.Int("dimension", schema.Dimension))

	if err := ValidateName(name); err != nil {
		return err
	}
	if schema.Dimension != q.config.Dimension && q.config.Dimension > 0 {
		return fmt.Errorf("%w: schema %d, configured %d", ErrDimensionMismatch, schema.Dimension, q.config.Dimension)
	}

	err = q.retryOperation(ctx, "create_collection", func() error {
		return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(schema.Dimension),
				Distance: distance(schema.Metric),
			}),
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           qdrant.PtrOf(uint64(schema.HNSWM)),
				EfConstruct: qdrant.PtrOf(uint64(schema.HNSWEfConstruct)),
			},
		})
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.AlreadyExists {
			err = fmt.Errorf("%w: %s", ErrIndexExists, name)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	for _, field := range schema.FilterableFields {
		field := field
		err = q.retryOperation(ctx, "create_field_index", func() error {
			_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: name,
				FieldName:      field,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
				Wait:           qdrant.PtrOf(true),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("indexing payload field %s on %s: %w", field, name, err)
		}
	}

	if schema.HNSWEfSearch > 0 {
		q.efSearch.Store(name, uint64(schema.HNSWEfSearch))
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

func distance(metric string) qdrant.Distance {
	switch metric {
	case "dot":
		return qdrant.Distance_Dot
	case "euclid":
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

// IndexExists reports whether the collection exists.
func (q *QdrantIndex) IndexExists(ctx context.Context, name string) (exists bool, err error) {
	defer observe("qdrant", "index_exists", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "QdrantIndex.IndexExists")
	defer span.End()
	span.SetAttributes(attribute.String("index", name))

	if err := ValidateName(name); err != nil {
		return false, err
	}
	err = q.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = q.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("checking collection %s: %w", name, err)
	}
	return exists, nil
}

// DeleteIndex drops the collection. A missing collection is ErrIndexNotFound.
func (q *QdrantIndex) DeleteIndex(ctx context.Context, name string) (err error) {
	defer observe("qdrant", "delete_index", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "QdrantIndex.DeleteIndex")
	defer span.End()
	span.SetAttributes(attribute.String("index", name))

	exists, err := q.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	err = q.retryOperation(ctx, "delete_collection", func() error {
		return q.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	q.efSearch.Delete(name)

	span.SetStatus(codes.Ok, "success")
	return nil
}

// ListIndexes returns the sorted collection names.
func (q *QdrantIndex) ListIndexes(ctx context.Context) (names []string, err error) {
	defer observe("qdrant", "list_indexes", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "QdrantIndex.ListIndexes")
	defer span.End()

	err = q.retryOperation(ctx, "list_collections", func() error {
		var err error
		names, err = q.client.ListCollections(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	sort.Strings(names)
	span.SetAttributes(attribute.Int("index_count", len(names)))
	return names, nil
}

// Upsert writes docs under deterministic point ids, overwriting earlier
// versions of the same document.
func (q *QdrantIndex) Upsert(ctx context.Context, name string, docs []Document) ([]string, error) {
	return q.write(ctx, name, docs, "upsert", PointID)
}

// Insert writes docs under fresh random point ids.
func (q *QdrantIndex) Insert(ctx context.Context, name string, docs []Document) ([]string, error) {
	return q.write(ctx, name, docs, "insert", func(string) string { return uuid.NewString() })
}

func (q *QdrantIndex) write(ctx context.Context, name string, docs []Document, mode string, pointID func(string) string) (ids []string, err error) {
	defer observe("qdrant", mode, time.Now(), &err)
	ctx, span := tracer.Start(ctx, "QdrantIndex.Write")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", name),
		attribute.String("mode", mode),
		attribute.Int("document_count", len(docs)),
	)

	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := checkDocuments(docs, q.config.Dimension); err != nil {
		return nil, err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	ids = make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(d.ID)),
			Vectors: qdrant.NewVectors(d.Embedding...),
			Payload: map[string]*qdrant.Value{
				FieldID:             stringValue(d.ID),
				FieldContent:        stringValue(d.Content),
				FieldProvenance:     stringValue(d.Provenance),
				FieldOrganizationID: stringValue(d.OrganizationID),
				FieldBlobName:       stringValue(d.BlobName),
			},
		}
	}

	err = q.retryOperation(ctx, mode, func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			err = fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("writing points to %s: %w", name, err)
	}

	documentsWritten.WithLabelValues("qdrant", mode).Add(float64(len(docs)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// Search queries the collection with keyword equality filters.
func (q *QdrantIndex) Search(ctx context.Context, name string, req SearchRequest) (results []Result, err error) {
	defer observe("qdrant", "search", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()
	span.SetAttributes(attribute.String("index", name), attribute.Int("k", req.K))

	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := checkSearch(req, q.config.Dimension); err != nil {
		return nil, err
	}
	k := min(req.K, maxK)

	var filter *qdrant.Filter
	if len(req.Filter) > 0 {
		keys := make([]string, 0, len(req.Filter))
		for key := range req.Filter {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		must := make([]*qdrant.Condition, 0, len(keys))
		for _, key := range keys {
			must = append(must, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   key,
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: req.Filter[key]}},
					},
				},
			})
		}
		filter = &qdrant.Filter{Must: must}
	}

	ef := uint64(DefaultSchema(0).HNSWEfSearch)
	if v, ok := q.efSearch.Load(name); ok {
		ef = v.(uint64)
	}

	var points []*qdrant.ScoredPoint
	err = q.retryOperation(ctx, "search", func() error {
		var err error
		points, err = q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(req.Vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			Filter:         filter,
			WithPayload:    qdrant.NewWithPayload(true),
			Params:         &qdrant.SearchParams{HnswEf: qdrant.PtrOf(ef)},
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			err = fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching %s: %w", name, err)
	}

	results = make([]Result, len(points))
	for i, p := range points {
		results[i] = Result{
			ID:             payloadString(p.Payload, FieldID),
			Content:        payloadString(p.Payload, FieldContent),
			Provenance:     payloadString(p.Payload, FieldProvenance),
			OrganizationID: payloadString(p.Payload, FieldOrganizationID),
			BlobName:       payloadString(p.Payload, FieldBlobName),
			Score:          p.Score,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		return v.GetStringValue()
	}
	return ""
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context, name string) (n int, err error) {
	defer observe("qdrant", "count", time.Now(), &err)
	if err := ValidateName(name); err != nil {
		return 0, err
	}

	var count uint64
	err = q.retryOperation(ctx, "count", func() error {
		var err error
		count, err = q.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		return 0, fmt.Errorf("counting %s: %w", name, err)
	}
	return int(count), nil
}

var _ Index = (*QdrantIndex)(nil)
