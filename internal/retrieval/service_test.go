package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/fyrsmithlabs/orgrag/internal/embeddings"
	"github.com/fyrsmithlabs/orgrag/internal/llm"
	"github.com/fyrsmithlabs/orgrag/internal/sanitize"
	"github.com/fyrsmithlabs/orgrag/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testDim    = 256
	testTenant = "Acme Corp"
)

type recordingGenerator struct {
	system, user string
	opts         llm.Options
	calls        int
	reply        string
	err          error
}

func (g *recordingGenerator) Complete(_ context.Context, system, user string, opts ...llm.Option) (string, error) {
	g.calls++
	g.system, g.user = system, user
	g.opts = llm.Options{}
	for _, o := range opts {
		o(&g.opts)
	}
	return g.reply, g.err
}

type fixture struct {
	svc       *Service
	index     *vectorindex.ChromemIndex
	embedder  *embeddings.TestEmbedder
	generator *recordingGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{Dimension: testDim, SupportsMerge: true}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, idx.CreateIndex(context.Background(), sanitize.Name(testTenant), vectorindex.DefaultSchema(testDim)))

	emb := embeddings.NewTestEmbedder(testDim)
	gen := &recordingGenerator{reply: "The sky is blue, according to sky.txt."}
	svc, err := NewService(Config{}, idx, emb, gen, zap.NewNop())
	require.NoError(t, err)
	return &fixture{svc: svc, index: idx, embedder: emb, generator: gen}
}

func (f *fixture) add(t *testing.T, org, provenance, content string) {
	t.Helper()
	_, err := f.index.Upsert(context.Background(), sanitize.Name(testTenant), []vectorindex.Document{{
		ID:             sanitize.DocumentID(org, provenance, 0),
		Content:        content,
		Provenance:     provenance,
		OrganizationID: org,
		BlobName:       provenance,
		Embedding:      f.embedder.Vector(content),
	}})
	require.NoError(t, err)
}

func TestAsk_GroundedAnswer(t *testing.T) {
	f := newFixture(t)
	f.add(t, testTenant, "sky.txt", "The sky is blue.")
	f.add(t, testTenant, "grass.txt", "Grass is green in spring.")

	answer, err := f.svc.Ask(context.Background(), testTenant, "what color is the sky", 1)
	require.NoError(t, err)

	assert.True(t, answer.Grounded)
	assert.Equal(t, "The sky is blue, according to sky.txt.", answer.Text)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "sky.txt", answer.Sources[0].Provenance)

	assert.Equal(t, 1, f.generator.calls)
	assert.Equal(t, SystemPrompt(testTenant), f.generator.system)
	assert.Equal(t,
		"Context from organization 'Acme Corp' documents:\nFrom sky.txt:\nThe sky is blue.\n\nQuestion:\nwhat color is the sky",
		f.generator.user)
	assert.Equal(t, llm.DefaultMaxTokens, f.generator.opts.MaxTokens)
}

func TestAsk_NoResultsSkipsGeneration(t *testing.T) {
	f := newFixture(t)

	answer, err := f.svc.Ask(context.Background(), testTenant, "unrelated query", 3)
	require.NoError(t, err)

	assert.False(t, answer.Grounded)
	assert.Equal(t, "I couldn't find any relevant information in organization 'Acme Corp' documents.", answer.Text)
	assert.Empty(t, answer.Sources)
	assert.Zero(t, f.generator.calls)
}

func TestAsk_FiltersOtherOrganizations(t *testing.T) {
	f := newFixture(t)
	f.add(t, "Globex", "secret.txt", "The sky is blue.")

	answer, err := f.svc.Ask(context.Background(), testTenant, "the sky is blue", 3)
	require.NoError(t, err)
	assert.False(t, answer.Grounded)
	assert.Zero(t, f.generator.calls)
}

func TestAsk_DefaultK(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		f.add(t, testTenant, name, "shared words in "+name)
	}

	answer, err := f.svc.Ask(context.Background(), testTenant, "shared words", 0)
	require.NoError(t, err)
	assert.Len(t, answer.Sources, DefaultK)
	assert.Equal(t, DefaultK, strings.Count(f.generator.user, "From "))
}

func TestAsk_UpstreamErrors(t *testing.T) {
	t.Run("embedding", func(t *testing.T) {
		f := newFixture(t)
		f.embedder.FailWith(errors.New("quota exceeded"))
		_, err := f.svc.Ask(context.Background(), testTenant, "anything", 3)
		assert.True(t, errors.Is(err, ErrUpstream))
		assert.Contains(t, err.Error(), "quota exceeded")
	})

	t.Run("generation", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, testTenant, "sky.txt", "The sky is blue.")
		f.generator.err = llm.ErrGenerationFailed
		_, err := f.svc.Ask(context.Background(), testTenant, "sky", 3)
		assert.True(t, errors.Is(err, ErrUpstream))
		assert.True(t, errors.Is(err, llm.ErrGenerationFailed))
	})

	t.Run("missing index", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Ask(context.Background(), "Initech", "anything", 3)
		assert.True(t, errors.Is(err, ErrUpstream))
		assert.True(t, errors.Is(err, vectorindex.ErrIndexNotFound))
	})
}

func TestAsk_RejectsBadInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ask(context.Background(), testTenant, "   ", 3)
	assert.True(t, errors.Is(err, ErrEmptyQuestion))

	_, err = f.svc.Ask(context.Background(), "", "question", 3)
	assert.True(t, errors.Is(err, sanitize.ErrInvalidTenantID))

	_, queries := f.embedder.Calls()
	assert.Zero(t, queries)
}

func TestSearch_KeepsIndexOrder(t *testing.T) {
	f := newFixture(t)
	f.add(t, testTenant, "exact.txt", "rockets and anvils")
	f.add(t, testTenant, "partial.txt", "rockets only here")

	results, err := f.svc.Search(context.Background(), testTenant, "rockets and anvils", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact.txt", results[0].Provenance)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestBuildContext(t *testing.T) {
	ctx := BuildContext([]vectorindex.Result{
		{Provenance: "sky.txt", Content: "The sky is blue."},
		{Provenance: "https://acme.example/about", Content: "Founded in 1949."},
		{},
	})
	assert.Equal(t, "From sky.txt:\nThe sky is blue.\n\n"+
		"From https://acme.example/about:\nFounded in 1949.\n\n"+
		"From Unknown file:\nNo content available", ctx)
	assert.Empty(t, BuildContext(nil))
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt("Acme Corp")
	assert.Contains(t, p, "organization 'Acme Corp'")
	assert.Contains(t, p, "cannot answer based on the available documents")
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Config{}, nil, nil, nil, nil)
	assert.True(t, errors.Is(err, config.ErrConfiguration))
}
