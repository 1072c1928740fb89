package extract

import (
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// extractText decodes UTF-8, dropping a BOM and replacing invalid
// sequences with U+FFFD.
func extractText(data []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
