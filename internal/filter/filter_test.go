package filter_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/filter"
)

func rec(original, mime string, status int) domain.ArchiveRecord {
	return domain.ArchiveRecord{
		URLKey:      original,
		Timestamp:   "20200101000000",
		OriginalURL: original,
		MIMEType:    mime,
		StatusCode:  status,
		Digest:      "D",
	}
}

func originals(records []domain.ArchiveRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.OriginalURL)
	}
	return out
}

func TestApply_StatusGateOnly(t *testing.T) {
	records := []domain.ArchiveRecord{
		rec("https://example.com/a.pdf", "application/pdf", 200),
		rec("https://example.com/moved", "text/html", 301),
		rec("https://example.com/b.html", "text/html", 200),
	}

	res := filter.Apply(records, filter.Criteria{StatusCodes: []int{200}})

	assert.False(t, res.TargetsConfigured)
	assert.Equal(t, []string{"https://example.com/a.pdf", "https://example.com/b.html"}, originals(res.Indexed))
	assert.Equal(t, res.Indexed, res.Targets)
}

func TestApply_ExtensionsMIMEOrRegex(t *testing.T) {
	records := []domain.ArchiveRecord{
		rec("https://example.com/docs/a.PDF", "application/octet-stream", 200),
		rec("https://example.com/img", "image/png", 200),
		rec("https://example.com/private/notes", "text/html", 200),
		rec("https://example.com/index.html", "text/html", 200),
		rec("https://example.com/other.pdf", "application/pdf", 404),
	}
	private := regexp.MustCompile(`private`)

	res := filter.Apply(records, filter.Criteria{
		StatusCodes: []int{200},
		Extensions:  []string{"pdf"},
		MIMETypes:   []string{"IMAGE/PNG"},
		Match:       private.MatchString,
	})

	assert.True(t, res.TargetsConfigured)
	assert.Len(t, res.Indexed, 4)
	assert.Equal(t, []string{
		"https://example.com/docs/a.PDF",
		"https://example.com/img",
		"https://example.com/private/notes",
	}, originals(res.Targets))
}

func TestApply_StatusFailuresNeverReachTargets(t *testing.T) {
	records := []domain.ArchiveRecord{
		rec("https://example.com/a.pdf", "application/pdf", 404),
		rec("https://example.com/b.pdf", "application/pdf", 0),
	}

	res := filter.Apply(records, filter.Criteria{StatusCodes: []int{200}, Extensions: []string{".pdf"}})

	assert.Empty(t, res.Indexed)
	assert.Empty(t, res.Targets)
}

func TestApply_EmptyExtensionNeverMatches(t *testing.T) {
	records := []domain.ArchiveRecord{rec("https://example.com/", "", 200)}

	res := filter.Apply(records, filter.Criteria{StatusCodes: []int{200}, Extensions: []string{""}, MIMETypes: []string{"text/html"}})

	assert.True(t, res.TargetsConfigured)
	assert.Empty(t, res.Targets)
}

func TestApply_RegexSeesPathOnly(t *testing.T) {
	records := []domain.ArchiveRecord{rec("https://example.com/a?q=secret", "text/html", 200)}
	secret := regexp.MustCompile(`secret`)

	res := filter.Apply(records, filter.Criteria{StatusCodes: []int{200}, Match: secret.MatchString})

	assert.Empty(t, res.Targets)
}

func TestNormalizeExtension(t *testing.T) {
	assert.Equal(t, ".pdf", filter.NormalizeExtension(" PDF "))
	assert.Equal(t, ".tar", filter.NormalizeExtension(".tar"))
	assert.Equal(t, "", filter.NormalizeExtension("  "))
}

func TestExtension(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/docs/report.PDF", ".pdf"},
		{"/archive.tar.gz", ".gz"},
		{"/.htaccess", ""},
		{"/..hidden", ""},
		{"/.config.json", ".json"},
		{"/dir.d/file", ""},
		{"/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, filter.Extension(tt.path))
		})
	}
}

func TestApply_DotFilesHaveNoExtension(t *testing.T) {
	records := []domain.ArchiveRecord{
		rec("https://example.com/.htaccess", "text/plain", 200),
		rec("https://example.com/site.htaccess", "text/plain", 200),
	}

	res := filter.Apply(records, filter.Criteria{StatusCodes: []int{200}, Extensions: []string{"htaccess"}})

	assert.Equal(t, []string{"https://example.com/site.htaccess"}, originals(res.Targets))
}
