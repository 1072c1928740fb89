// Package ingest turns files and scraped pages into searchable chunks for
// one tenant.
//
// Every batch runs extract, chunk and embed per item on a bounded worker
// pool, then dual-writes the result: first to the tenant's vector index,
// then to the record store as one knowledge source with one document per
// chunk. The two writes are independent outcomes. A record store failure
// after a successful index write is reported as a *PartialWriteError and
// the index write is kept.
package ingest

import (
	"errors"
	"fmt"
)

// Item sources recorded in chunk metadata.
const (
	SourceLocalFile   = "local_file"
	SourceWebScraping = "web_scraping"
)

var (
	// ErrUpstream wraps failures of the embedding service, the vector
	// index, the object store or the scraper.
	ErrUpstream = errors.New("upstream service error")

	// ErrPartialWrite matches every *PartialWriteError.
	ErrPartialWrite = errors.New("partial write: vector index updated, metadata not stored")

	// ErrNoContent is returned when a scrape yields no usable pages.
	ErrNoContent = errors.New("no content was scraped")
)

// PartialWriteError reports a record store failure that happened after
// the vector index accepted the batch. Result carries the index ids.
type PartialWriteError struct {
	Result *Result
	Err    error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%v: %v", ErrPartialWrite, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPartialWrite) hold.
func (e *PartialWriteError) Is(target error) bool {
	return target == ErrPartialWrite
}

// Item is one piece of content in a batch.
//
// Text is used as is. When Text is empty and Raw is set, Raw is run
// through the extractor registered for Format inside the worker pool.
type Item struct {
	Provenance string
	Text       string
	Raw        []byte
	Format     string
	BlobName   string
	Source     string
	Title      string
	Metadata   map[string]any

	// SkipReason, when set, records the item as skipped without touching it.
	SkipReason string
}

// Batch is one ingestion run for one tenant.
type Batch struct {
	Items             []Item
	ChunkSize         int
	Overlap           int
	SourceName        string
	SourceDescription string
	Configuration     map[string]any

	// ProcessedKey names the configuration entry that counts the items
	// that produced chunks, e.g. "processed_files".
	ProcessedKey string
}

// ItemResult is the per-item outcome of a batch.
type ItemResult struct {
	Provenance string `json:"provenance"`
	Chunks     int    `json:"chunks"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
}

// Result summarizes a batch.
type Result struct {
	SourceID        string       `json:"source_id,omitempty"`
	DocumentIDs     []string     `json:"document_ids"`
	IndexIDs        []string     `json:"index_ids"`
	Items           []ItemResult `json:"items"`
	Degraded        bool         `json:"degraded"`
	IndexWritten    bool         `json:"index_written"`
	MetadataWritten bool         `json:"metadata_written"`
}

// Chunks returns the number of chunks produced across all items.
func (r *Result) Chunks() int {
	n := 0
	for _, it := range r.Items {
		n += it.Chunks
	}
	return n
}

func newResult(items int) *Result {
	return &Result{
		DocumentIDs: []string{},
		IndexIDs:    []string{},
		Items:       make([]ItemResult, 0, items),
	}
}
