// Package sanitize maps tenant identifiers and provenance strings into the
// character sets accepted by the vector index and the object store.
//
// Canonical tenant names must satisfy both Qdrant/chromem collection rules and
// object store container rules, so the alphabet is the intersection:
// lowercase ASCII letters, digits and a hyphen separator.
package sanitize

import (
	"strconv"
	"strings"
)

const (
	// MaxNameLength bounds canonical tenant names.
	MaxNameLength = 128

	// Separator replaces every character outside [a-z0-9-].
	Separator = '-'
)

// Name returns the canonical resource name for tenant.
//
// Rules applied, in order:
//   - lowercase
//   - space, underscore and any character outside [a-z0-9-] become '-'
//   - runs of '-' collapse to one
//   - leading and trailing '-' are trimmed
//   - the result is cut to MaxNameLength and any trailing '-' trimmed again
//
// Examples:
//
//	"Acme Corp"      -> "acme-corp"
//	"team_42/Ops!"   -> "team-42-ops"
//	"!!!"            -> ""
//
// Name is idempotent: Name(Name(s)) == Name(s). An empty result means the
// identifier has no usable characters; callers reject it.
func Name(tenant string) string {
	var b strings.Builder
	b.Grow(len(tenant))

	prevSep := true // suppresses a leading separator
	for _, r := range strings.ToLower(tenant) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevSep = false
			continue
		}
		if !prevSep {
			b.WriteRune(Separator)
			prevSep = true
		}
	}

	name := strings.TrimRight(b.String(), string(Separator))
	if len(name) > MaxNameLength {
		name = strings.TrimRight(name[:MaxNameLength], string(Separator))
	}
	return name
}

// Slug maps a filename or URL into the document-id alphabet.
//
// "://", "/" and "." become "_", then anything outside [A-Za-z0-9_=-]
// becomes "_". Distinct inputs can collide ("a.b" and "a_b" both give
// "a_b"); the ingestion pipeline warns when a batch produces a duplicate id.
func Slug(provenance string) string {
	s := strings.NewReplacer("://", "_", "/", "_", ".", "_").Replace(provenance)

	out := []byte(s)
	for i := 0; i < len(out); i++ {
		c := out[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '_' || c == '-' || c == '=' {
			continue
		}
		out[i] = '_'
	}
	return string(out)
}

// DocumentID returns the deterministic index key for chunk i of provenance
// in tenant's index. Re-ingesting the same provenance overwrites its chunks.
func DocumentID(tenant, provenance string, i int) string {
	return Name(tenant) + "_" + Slug(provenance) + "_" + strconv.Itoa(i)
}

// WebDocumentID is DocumentID for scraped pages, keeping them apart from
// uploaded files with a similar name.
func WebDocumentID(tenant, url string, i int) string {
	return Name(tenant) + "_web_" + Slug(url) + "_" + strconv.Itoa(i)
}

// VirtualBlobName names the object that stands in for scraped web content.
// No object is uploaded under this name.
func VirtualBlobName(url string) string {
	return "web_content_" + strings.NewReplacer("://", "_", "/", "_").Replace(url)
}
