// Package extract turns uploaded file bytes into plain text.
//
// Each supported format has an Extractor. The Registry dispatches by file
// extension and never fails the caller: a broken file becomes an empty
// Outcome carrying an *ExtractionError, and the batch moves on.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ErrUnsupportedFormat is reported for extensions without an extractor.
var ErrUnsupportedFormat = errors.New("unsupported format")

// allowList holds the extensions accepted for directory ingestion.
var allowList = map[string]bool{
	".txt":  true,
	".pdf":  true,
	".docx": true,
	".csv":  true,
	".pptx": true,
	".xlsx": true,
	".xls":  true,
}

// Supported reports whether ext (with or without the leading dot, any case)
// is on the ingestion allow-list.
func Supported(ext string) bool {
	return allowList[normalizeExt(ext)]
}

// SupportedExtensions returns the allow-list in sorted order.
func SupportedExtensions() []string {
	out := make([]string, 0, len(allowList))
	for ext := range allowList {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Ext returns the normalized extension of filename.
func Ext(filename string) string {
	return normalizeExt(filepath.Ext(filename))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Extractor converts one document format to plain text.
type Extractor interface {
	Extract(data []byte) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(data []byte) (string, error)

// Extract calls f(data).
func (f ExtractorFunc) Extract(data []byte) (string, error) { return f(data) }

// ExtractionError is the diagnostic attached to a failed extraction.
type ExtractionError struct {
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Outcome is the result of a dispatch. Text is empty whenever Err is set.
type Outcome struct {
	Text string
	Err  *ExtractionError
}

// OK reports whether extraction produced usable text.
func (o Outcome) OK() bool {
	return o.Err == nil && strings.TrimSpace(o.Text) != ""
}

// Registry maps extensions to extractors.
type Registry struct {
	extractors map[string]Extractor
	logger     *zap.Logger
}

// NewRegistry returns a Registry with every built-in extractor.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{extractors: make(map[string]Extractor), logger: logger}

	text := ExtractorFunc(extractText)
	r.Register(".txt", text)
	r.Register(".md", text)
	r.Register(".pdf", ExtractorFunc(extractPDF))
	r.Register(".docx", ExtractorFunc(extractDOCX))
	r.Register(".pptx", ExtractorFunc(extractPPTX))
	r.Register(".csv", ExtractorFunc(extractCSV))
	r.Register(".xlsx", ExtractorFunc(extractSpreadsheet))
	r.Register(".xls", ExtractorFunc(extractSpreadsheet))
	return r
}

// Register installs or replaces the extractor for ext.
func (r *Registry) Register(ext string, e Extractor) {
	r.extractors[normalizeExt(ext)] = e
}

// Extract dispatches data to the extractor for ext. It never panics and
// never returns an error; failures are reported in Outcome.Err.
func (r *Registry) Extract(ext string, data []byte) (out Outcome) {
	ext = normalizeExt(ext)
	e, ok := r.extractors[ext]
	if !ok {
		return Outcome{Err: &ExtractionError{Format: ext, Err: ErrUnsupportedFormat}}
	}

	defer func() {
		if p := recover(); p != nil {
			out = r.fail(ext, fmt.Errorf("extractor panic: %v", p))
		}
	}()

	text, err := e.Extract(data)
	if err != nil {
		return r.fail(ext, err)
	}
	return Outcome{Text: text}
}

func (r *Registry) fail(ext string, err error) Outcome {
	xerr := &ExtractionError{Format: ext, Err: err}
	r.logger.Warn("extraction failed, skipping content",
		zap.String("format", ext),
		zap.Error(err),
	)
	return Outcome{Err: xerr}
}
