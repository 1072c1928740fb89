// Package chunker splits extracted text into overlapping fixed-size windows.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/orgrag/internal/config"
)

const (
	// DefaultSize is the default window length in characters.
	DefaultSize = 800

	// DefaultOverlap is the default number of characters repeated between
	// consecutive windows.
	DefaultOverlap = 100
)

// ErrInvalidConfig rejects window settings that would stall the loop.
// It wraps config.ErrConfiguration.
var ErrInvalidConfig = fmt.Errorf("%w: invalid chunker settings", config.ErrConfiguration)

// Config holds chunk window settings.
type Config struct {
	Size    int
	Overlap int
}

// DefaultConfig returns size 800, overlap 100.
func DefaultConfig() Config {
	return Config{Size: DefaultSize, Overlap: DefaultOverlap}
}

// Validate requires size > 0 and 0 <= overlap < size.
func (c Config) Validate() error {
	switch {
	case c.Size <= 0:
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, c.Size)
	case c.Overlap < 0:
		return fmt.Errorf("%w: overlap must be >= 0, got %d", ErrInvalidConfig, c.Overlap)
	case c.Overlap >= c.Size:
		return fmt.Errorf("%w: overlap %d must be smaller than size %d", ErrInvalidConfig, c.Overlap, c.Size)
	}
	return nil
}

// Chunk splits text into ordered, non-blank windows of at most size
// characters. Lengths are counted in runes.
//
// A window whose right edge falls inside the text is pulled back to the
// last space that lies strictly after its start. Each window is trimmed and
// dropped if nothing remains. The next window starts overlap characters
// before the previous end; the loop stops once that start reaches the end
// of the text.
//
// Text of at most size characters is returned whole as a single chunk,
// trimmed like every other chunk. Blank text yields no chunks.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := (Config{Size: size, Overlap: overlap}).Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)
	if n <= size {
		return []string{strings.TrimSpace(text)}, nil
	}

	chunks := make([]string, 0, n/(size-overlap)+1)
	start := 0
	for start < n {
		end := start + size
		if end < n {
			if sp := lastSpace(runes, start, end); sp > start {
				end = sp
			}
		}

		if piece := strings.TrimSpace(string(runes[start:min(end, n)])); piece != "" {
			chunks = append(chunks, piece)
		}

		next := end - overlap
		if next >= n {
			break
		}
		if next <= start {
			// A pull-back to an early space would leave no progress after
			// the overlap; resume at the window end instead.
			next = end
		}
		start = next
	}

	return chunks, nil
}

// lastSpace returns the index of the last ' ' in runes[start:end], or -1.
func lastSpace(runes []rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

// IsInvalidConfig reports whether err came from window validation.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
