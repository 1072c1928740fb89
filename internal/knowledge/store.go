package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store persists sources, documents and namespace claims.
type Store interface {
	CreateSource(ctx context.Context, src *Source) error
	GetSource(ctx context.Context, id string) (*Source, error)
	// ListSources returns an organization's sources, newest first.
	ListSources(ctx context.Context, org string) ([]*Source, error)
	UpdateSource(ctx context.Context, src *Source) error
	DeleteSource(ctx context.Context, id string) error

	// InsertDocuments stores docs atomically and returns their ids.
	InsertDocuments(ctx context.Context, docs []*Document) ([]string, error)
	// ListDocumentsBySource returns a source's documents, oldest first.
	ListDocumentsBySource(ctx context.Context, sourceID string) ([]*Document, error)
	// ListDocumentsByOrganization returns up to limit documents, newest
	// first. A limit <= 0 returns all.
	ListDocumentsByOrganization(ctx context.Context, org string, limit int) ([]*Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status Status, errMsg string) error
	DeleteDocument(ctx context.Context, id string) error
	DeleteDocumentsBySource(ctx context.Context, sourceID string) (int, error)

	CountSourcesByStatus(ctx context.Context, org string) (map[Status]int, error)
	CountDocumentsByStatus(ctx context.Context, org string) (map[Status]int, error)

	// ClaimNamespace records that name belongs to tenant. Claiming a name
	// already held by the same tenant succeeds.
	ClaimNamespace(ctx context.Context, name, tenant string) error
	// NamespaceOwner returns the tenant holding name, or ErrNotFound.
	NamespaceOwner(ctx context.Context, name string) (string, error)
	ReleaseNamespace(ctx context.Context, name string) error

	Close() error
}

// dialect captures the differences between the supported databases.
type dialect struct {
	driver       string
	numbered     bool // $1 placeholders instead of ?
	maxOpenConns int
}

var dialects = map[string]dialect{
	"sqlite":   {driver: "sqlite", maxOpenConns: 1},
	"postgres": {driver: "pgx", numbered: true},
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS knowledge_sources (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		configuration TEXT NOT NULL DEFAULT '{}',
		documents_processed INTEGER NOT NULL DEFAULT 0,
		documents_failed INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		process_started_at BIGINT,
		last_processed_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sources_org ON knowledge_sources (organization_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS knowledge_documents (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		url TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		processed_at BIGINT,
		error_message TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		seq BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_source ON knowledge_documents (source_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_org ON knowledge_documents (organization_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS namespace_claims (
		name TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
	now     func() time.Time
}

// Open connects to the record store and creates the schema. SQLite DSNs
// are file paths; a leading ~ is expanded and the parent directory created.
func Open(ctx context.Context, cfg config.RecordsConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("%w: unknown records driver %q", config.ErrConfiguration, cfg.Driver)
	}

	dsn := cfg.DSN.Value()
	if cfg.Driver == "sqlite" && !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
		expanded, err := config.ExpandHome(dsn)
		if err != nil {
			return nil, fmt.Errorf("expanding records path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(expanded), 0o700); err != nil {
			return nil, fmt.Errorf("creating records directory: %w", err)
		}
		dsn = expanded
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s record store: %w", cfg.Driver, err)
	}
	if d.maxOpenConns > 0 {
		db.SetMaxOpenConns(d.maxOpenConns)
	}

	s := &SQLStore{db: db, dialect: d, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("record store opened", zap.String("driver", cfg.Driver))
	return s, nil
}

func (s *SQLStore) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting to record store: %w", err)
	}
	for _, ddl := range schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func encodeJSON(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding json column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(s string) (map[string]any, error) {
	out := map[string]any{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decoding json column: %w", err)
	}
	return out, nil
}

func toNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func affected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return nil
}

// Sources

const sourceColumns = `id, organization_id, name, description, type, status, configuration,
	documents_processed, documents_failed, retry_count, error_message,
	created_at, updated_at, process_started_at, last_processed_at`

func (s *SQLStore) CreateSource(ctx context.Context, src *Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.Type == "" {
		src.Type = SourceTypeDocument
	}
	if src.Status == "" {
		src.Status = StatusPending
	}
	if err := src.Validate(); err != nil {
		return err
	}
	now := s.now()
	src.CreatedAt, src.UpdatedAt = now, now

	cfgJSON, err := encodeJSON(src.Configuration)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO knowledge_sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.OrganizationID, src.Name, src.Description, src.Type, string(src.Status), cfgJSON,
		src.DocumentsProcessed, src.DocumentsFailed, src.RetryCount, src.ErrorMessage,
		now.UnixNano(), now.UnixNano(), toNanos(src.ProcessStartedAt), toNanos(src.LastProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting source: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*Source, error) {
	var (
		src                Source
		status, cfgJSON    string
		created, updated   int64
		started, processed sql.NullInt64
	)
	err := row.Scan(&src.ID, &src.OrganizationID, &src.Name, &src.Description, &src.Type, &status, &cfgJSON,
		&src.DocumentsProcessed, &src.DocumentsFailed, &src.RetryCount, &src.ErrorMessage,
		&created, &updated, &started, &processed)
	if err != nil {
		return nil, err
	}
	src.Status = Status(status)
	src.CreatedAt = time.Unix(0, created).UTC()
	src.UpdatedAt = time.Unix(0, updated).UTC()
	src.ProcessStartedAt = fromNanos(started)
	src.LastProcessedAt = fromNanos(processed)
	if src.Configuration, err = decodeJSON(cfgJSON); err != nil {
		return nil, err
	}
	return &src, nil
}

func (s *SQLStore) GetSource(ctx context.Context, id string) (*Source, error) {
	rows, err := s.query(ctx, `SELECT `+sourceColumns+` FROM knowledge_sources WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("querying source: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	return scanSource(rows)
}

func (s *SQLStore) ListSources(ctx context.Context, org string) ([]*Source, error) {
	rows, err := s.query(ctx, `SELECT `+sourceColumns+` FROM knowledge_sources
		WHERE organization_id = ? ORDER BY created_at DESC, id DESC`, org)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	sources := []*Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *SQLStore) UpdateSource(ctx context.Context, src *Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	cfgJSON, err := encodeJSON(src.Configuration)
	if err != nil {
		return err
	}
	src.UpdatedAt = s.now()

	res, err := s.exec(ctx, `UPDATE knowledge_sources SET
		name = ?, description = ?, status = ?, configuration = ?,
		documents_processed = ?, documents_failed = ?, retry_count = ?, error_message = ?,
		updated_at = ?, process_started_at = ?, last_processed_at = ?
		WHERE id = ?`,
		src.Name, src.Description, string(src.Status), cfgJSON,
		src.DocumentsProcessed, src.DocumentsFailed, src.RetryCount, src.ErrorMessage,
		src.UpdatedAt.UnixNano(), toNanos(src.ProcessStartedAt), toNanos(src.LastProcessedAt),
		src.ID,
	)
	if err != nil {
		return fmt.Errorf("updating source: %w", err)
	}
	return affected(res, "source", src.ID)
}

func (s *SQLStore) DeleteSource(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM knowledge_sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting source: %w", err)
	}
	return affected(res, "source", id)
}

// Documents

const documentColumns = `id, source_id, organization_id, title, content, url, metadata,
	status, processed_at, error_message, created_at, updated_at`

func (s *SQLStore) InsertDocuments(ctx context.Context, docs []*Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}

	now := s.now()
	for _, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.Status == "" {
			d.Status = StatusCompleted
		}
		if d.Status == StatusCompleted && d.ProcessedAt == nil {
			t := now
			d.ProcessedAt = &t
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("document %s: %w", d.ID, err)
		}
		d.CreatedAt, d.UpdatedAt = now, now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`INSERT INTO knowledge_documents (`+documentColumns+`, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, len(docs))
	for i, d := range docs {
		meta, err := encodeJSON(d.Metadata)
		if err != nil {
			return nil, err
		}
		var url sql.NullString
		if d.URL != nil {
			url = sql.NullString{String: *d.URL, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			d.ID, d.SourceID, d.OrganizationID, d.Title, d.Content, url, meta,
			string(d.Status), toNanos(d.ProcessedAt), d.ErrorMessage,
			now.UnixNano(), now.UnixNano(), i,
		); err != nil {
			return nil, fmt.Errorf("inserting document %s: %w", d.ID, err)
		}
		ids[i] = d.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing documents: %w", err)
	}
	return ids, nil
}

func scanDocument(row scanner) (*Document, error) {
	var (
		d                Document
		status, meta     string
		url              sql.NullString
		processed        sql.NullInt64
		created, updated int64
	)
	err := row.Scan(&d.ID, &d.SourceID, &d.OrganizationID, &d.Title, &d.Content, &url, &meta,
		&status, &processed, &d.ErrorMessage, &created, &updated)
	if err != nil {
		return nil, err
	}
	if url.Valid {
		d.URL = &url.String
	}
	d.Status = Status(status)
	d.ProcessedAt = fromNanos(processed)
	d.CreatedAt = time.Unix(0, created).UTC()
	d.UpdatedAt = time.Unix(0, updated).UTC()
	if d.Metadata, err = decodeJSON(meta); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLStore) listDocuments(ctx context.Context, query string, args ...any) ([]*Document, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := []*Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLStore) ListDocumentsBySource(ctx context.Context, sourceID string) ([]*Document, error) {
	return s.listDocuments(ctx, `SELECT `+documentColumns+` FROM knowledge_documents
		WHERE source_id = ? ORDER BY created_at ASC, seq ASC`, sourceID)
}

func (s *SQLStore) ListDocumentsByOrganization(ctx context.Context, org string, limit int) ([]*Document, error) {
	q := `SELECT ` + documentColumns + ` FROM knowledge_documents
		WHERE organization_id = ? ORDER BY created_at DESC, seq DESC`
	if limit > 0 {
		return s.listDocuments(ctx, q+` LIMIT ?`, org, limit)
	}
	return s.listDocuments(ctx, q, org)
}

func (s *SQLStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	docs, err := s.listDocuments(ctx, `SELECT `+documentColumns+` FROM knowledge_documents WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return docs[0], nil
}

func (s *SQLStore) UpdateDocumentStatus(ctx context.Context, id string, status Status, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: document status %q", ErrInvalidRecord, status)
	}
	now := s.now()

	var (
		res sql.Result
		err error
	)
	if status == StatusCompleted {
		res, err = s.exec(ctx, `UPDATE knowledge_documents
			SET status = ?, processed_at = ?, error_message = '', updated_at = ? WHERE id = ?`,
			string(status), now.UnixNano(), now.UnixNano(), id)
	} else {
		res, err = s.exec(ctx, `UPDATE knowledge_documents
			SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			string(status), errMsg, now.UnixNano(), id)
	}
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	return affected(res, "document", id)
}

func (s *SQLStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM knowledge_documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return affected(res, "document", id)
}

func (s *SQLStore) DeleteDocumentsBySource(ctx context.Context, sourceID string) (int, error) {
	res, err := s.exec(ctx, `DELETE FROM knowledge_documents WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting documents: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Aggregates

func (s *SQLStore) countByStatus(ctx context.Context, table, org string) (map[Status]int, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(*) FROM `+table+`
		WHERE organization_id = ? GROUP BY status`, org)
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", table, err)
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLStore) CountSourcesByStatus(ctx context.Context, org string) (map[Status]int, error) {
	return s.countByStatus(ctx, "knowledge_sources", org)
}

func (s *SQLStore) CountDocumentsByStatus(ctx context.Context, org string) (map[Status]int, error) {
	return s.countByStatus(ctx, "knowledge_documents", org)
}

// Namespace claims

func (s *SQLStore) ClaimNamespace(ctx context.Context, name, tenant string) error {
	if _, err := s.exec(ctx, `INSERT INTO namespace_claims (name, tenant_id, created_at)
		VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`, name, tenant, s.now().UnixNano()); err != nil {
		return fmt.Errorf("claiming namespace: %w", err)
	}

	owner, err := s.NamespaceOwner(ctx, name)
	if err != nil {
		return err
	}
	if owner != tenant {
		return fmt.Errorf("%w: %q is held by %q", ErrNamespaceClaimed, name, owner)
	}
	return nil
}

func (s *SQLStore) NamespaceOwner(ctx context.Context, name string) (string, error) {
	rows, err := s.query(ctx, `SELECT tenant_id FROM namespace_claims WHERE name = ?`, name)
	if err != nil {
		return "", fmt.Errorf("reading namespace claim: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: namespace %s", ErrNotFound, name)
	}
	var owner string
	if err := rows.Scan(&owner); err != nil {
		return "", err
	}
	return owner, nil
}

func (s *SQLStore) ReleaseNamespace(ctx context.Context, name string) error {
	res, err := s.exec(ctx, `DELETE FROM namespace_claims WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("releasing namespace: %w", err)
	}
	return affected(res, "namespace", name)
}

var _ Store = (*SQLStore)(nil)

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
