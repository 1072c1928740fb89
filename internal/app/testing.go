package app

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/orgrag/internal/blobstore"
	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/fyrsmithlabs/orgrag/internal/embeddings"
	"github.com/fyrsmithlabs/orgrag/internal/knowledge"
	"github.com/fyrsmithlabs/orgrag/internal/llm"
	"github.com/fyrsmithlabs/orgrag/internal/scraper"
	"github.com/fyrsmithlabs/orgrag/internal/vectorindex"
	"go.uber.org/zap"
)

// TestDimension is the embedding width used by NewTestApp.
const TestDimension = 256

// StaticGenerator answers every prompt with Reply and records the last
// prompts it saw.
type StaticGenerator struct {
	Reply      string
	Err        error
	Calls      int
	LastSystem string
	LastUser   string
}

// Complete implements llm.Generator.
func (g *StaticGenerator) Complete(_ context.Context, system, user string, _ ...llm.Option) (string, error) {
	g.Calls++
	g.LastSystem, g.LastUser = system, user
	return g.Reply, g.Err
}

// StaticScraper returns Pages for every start URL.
type StaticScraper struct {
	Pages []scraper.Page
	Err   error
}

// Scrape implements scraper.Scraper.
func (s *StaticScraper) Scrape(context.Context, string) ([]scraper.Page, error) {
	return s.Pages, s.Err
}

// NewTestApp builds an App over in-memory chromem, a temp-dir blob store,
// in-memory SQLite and the deterministic test embedder. A nil gen or scr
// gets a static default.
func NewTestApp(tb testing.TB, gen llm.Generator, scr scraper.Scraper) *App {
	tb.Helper()

	cfg := config.Default()
	cfg.VectorIndex.Dimension = TestDimension
	cfg.Embeddings.Dimension = TestDimension
	cfg.Ingest.Workers = 2

	index, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{Dimension: TestDimension, SupportsMerge: true}, zap.NewNop())
	if err != nil {
		tb.Fatalf("creating index: %v", err)
	}
	blobs, err := blobstore.NewFSStore(tb.TempDir(), zap.NewNop())
	if err != nil {
		tb.Fatalf("creating blob store: %v", err)
	}
	records, err := knowledge.Open(context.Background(), config.RecordsConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	if err != nil {
		tb.Fatalf("opening records: %v", err)
	}

	if gen == nil {
		gen = &StaticGenerator{Reply: "test answer"}
	}
	if scr == nil {
		scr = &StaticScraper{}
	}

	a, err := NewWithDependencies(cfg, Dependencies{
		Index:     index,
		Blobs:     blobs,
		Records:   records,
		Embedder:  embeddings.NewTestEmbedder(TestDimension),
		Generator: gen,
		Scraper:   scr,
	}, zap.NewNop())
	if err != nil {
		tb.Fatalf("wiring app: %v", err)
	}
	tb.Cleanup(func() { _ = a.Close() })
	return a
}
