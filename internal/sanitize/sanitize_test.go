package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "ACME", "acme"},
		{"space to separator", "Acme Corp", "acme-corp"},
		{"underscore to separator", "acme_corp", "acme-corp"},
		{"collapses runs", "acme  __  corp", "acme-corp"},
		{"trims ends", "  -acme-  ", "acme"},
		{"replaces symbols", "team_42/Ops!", "team-42-ops"},
		{"non-ascii", "Café Ünïon", "caf-n-on"},
		{"keeps hyphen", "a-b", "a-b"},
		{"nothing usable", "!!!", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(tt.in))
		})
	}
}

func TestName_Truncates(t *testing.T) {
	long := strings.Repeat("a", 127) + " b" + strings.Repeat("c", 50)
	got := Name(long)
	assert.LessOrEqual(t, len(got), MaxNameLength)
	assert.False(t, strings.HasSuffix(got, "-"), "no trailing separator after truncation")
	assert.Equal(t, strings.Repeat("a", 127), got)
}

func TestName_Idempotent(t *testing.T) {
	inputs := []string{"Acme Corp", "x__y", strings.Repeat("Ab_", 80), "Ω-omega", "-a-"}
	for _, in := range inputs {
		once := Name(in)
		assert.Equal(t, once, Name(once), in)
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "report_pdf", Slug("report.pdf"))
	assert.Equal(t, "https_example_com_docs_a_html", Slug("https://example.com/docs/a.html"))
	assert.Equal(t, "q_x=1_y_2", Slug("q?x=1&y 2"))
	assert.Equal(t, "a_b", Slug("a.b"))
	assert.Equal(t, Slug("a.b"), Slug("a_b"), "substitution collisions are possible")
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "acme-corp_report_pdf_0", DocumentID("Acme Corp", "report.pdf", 0))
	assert.Equal(t, "acme_web_https_example_com_3", WebDocumentID("acme", "https://example.com", 3))
}

func TestVirtualBlobName(t *testing.T) {
	assert.Equal(t, "web_content_https_example.com_docs", VirtualBlobName("https://example.com/docs"))
}

func TestValidateTenantID(t *testing.T) {
	name, err := ValidateTenantID("Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", name)

	_, err = ValidateTenantID("   ")
	assert.ErrorIs(t, err, ErrInvalidTenantID)

	_, err = ValidateTenantID("???")
	assert.ErrorIs(t, err, ErrInvalidTenantID)
}

func TestValidateBlobName(t *testing.T) {
	assert.NoError(t, ValidateBlobName("report.pdf"))
	assert.NoError(t, ValidateBlobName("web_content_https_example.com"))

	for _, bad := range []string{"", "..", "a/b", `a\b`, strings.Repeat("x", 1025)} {
		assert.ErrorIs(t, ValidateBlobName(bad), ErrInvalidBlobName, bad)
	}
}

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	got, err := ValidatePath(root+"/docs/a.txt", root)
	require.NoError(t, err)
	assert.Equal(t, root+"/docs/a.txt", got)

	_, err = ValidatePath(root+"/../etc/passwd", root)
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = ValidatePath("", root)
	assert.ErrorIs(t, err, ErrEmptyPath)
}
