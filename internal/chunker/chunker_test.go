package chunker

import (
	"strings"
	"testing"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_ShortTextReturnedWhole(t *testing.T) {
	chunks, err := Chunk("  hi there  ", 20, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi there"}, chunks)

	chunks, err = Chunk("\n\tAcme Corp\n", 20, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp"}, chunks)
}

func TestChunk_BlankText(t *testing.T) {
	chunks, err := Chunk(" \n\t ", 20, 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_BreaksOnSpaces(t *testing.T) {
	chunks, err := Chunk("one two three four five six", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"one two", "three", "four", "five six"}, chunks)
}

func TestChunk_OverlapWithoutSpaces(t *testing.T) {
	chunks, err := Chunk("abcdefghij", 4, 1)
	require.NoError(t, err)
	// The final start (9) is still inside the text, so a one-character
	// tail window is emitted before the loop ends.
	assert.Equal(t, []string{"abcd", "defg", "ghij", "j"}, chunks)
}

func TestChunk_MultiByteRunes(t *testing.T) {
	chunks, err := Chunk("héllo wörld ñandú", 6, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"héllo", "wörld", "ñandú"}, chunks)
}

func TestChunk_NeverEmptyAndBounded(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	chunks, err := Chunk(text, 800, 100)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c), "chunk %d", i)
		assert.LessOrEqual(t, len([]rune(c)), 800, "chunk %d", i)
	}
	assert.True(t, strings.HasPrefix(text, chunks[0]))
}

func TestChunk_LongWordsStillAdvance(t *testing.T) {
	// The only space sits right after start, so the pulled-back window is
	// shorter than the overlap.
	text := "a " + strings.Repeat("x", 50)
	chunks, err := Chunk(text, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, "a", chunks[0])
	assert.Greater(t, len(chunks), 1)
}

func TestChunk_InvalidConfig(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Chunk("some text that is long enough", tt.size, tt.overlap)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorIs(t, err, config.ErrConfiguration)
			assert.True(t, IsInvalidConfig(err))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 800, cfg.Size)
	assert.Equal(t, 100, cfg.Overlap)
	assert.NoError(t, cfg.Validate())
}
