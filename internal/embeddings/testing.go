package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// TestEmbedder is a deterministic bag-of-words embedder for tests. Each
// word is hashed into one of Dim buckets and the vector is L2-normalized,
// so texts sharing words land close together under cosine similarity.
type TestEmbedder struct {
	Dim int

	mu       sync.Mutex
	err      error
	docCalls int
	queries  int
}

// NewTestEmbedder creates a TestEmbedder producing dim-wide vectors.
func NewTestEmbedder(dim int) *TestEmbedder {
	return &TestEmbedder{Dim: dim}
}

// FailWith makes every later call return err. A nil err clears it.
func (e *TestEmbedder) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls returns how many EmbedDocuments and EmbedQuery calls were made.
func (e *TestEmbedder) Calls() (documents, queries int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docCalls, e.queries
}

func (e *TestEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.docCalls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.Vector(t)
	}
	return out, nil
}

func (e *TestEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.queries++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, ErrEmptyInput
	}
	return e.Vector(text), nil
}

// Vector returns the embedding of text without counting a call.
func (e *TestEmbedder) Vector(text string) []float32 {
	v := make([]float32, e.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(e.Dim)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func (e *TestEmbedder) Dimension() int { return e.Dim }

func (e *TestEmbedder) Close() error { return nil }

var _ Provider = (*TestEmbedder)(nil)
