// Package filter narrows indexed records down to the download targets.
package filter

import (
	"net/url"
	"path"
	"strings"

	"wayback-fetcher/internal/domain"
)

// Criteria configures both filter stages. StatusCodes gates every record;
// the remaining fields only apply when at least one of them is set.
type Criteria struct {
	StatusCodes []int
	Extensions  []string
	MIMETypes   []string
	Match       func(path string) bool
}

// Result holds the records that survive each stage, in index order.
type Result struct {
	Indexed           []domain.ArchiveRecord
	Targets           []domain.ArchiveRecord
	TargetsConfigured bool
}

// TargetsConfigured reports whether any content criterion is set.
func (c Criteria) TargetsConfigured() bool {
	return len(c.Extensions) > 0 || len(c.MIMETypes) > 0 || c.Match != nil
}

// Apply runs the status gate and then the content filter.
func Apply(records []domain.ArchiveRecord, c Criteria) Result {
	codes := make(map[int]struct{}, len(c.StatusCodes))
	for _, code := range c.StatusCodes {
		codes[code] = struct{}{}
	}
	exts := toSet(c.Extensions, NormalizeExtension)
	mimes := toSet(c.MIMETypes, strings.ToLower)

	res := Result{TargetsConfigured: c.TargetsConfigured()}
	for _, rec := range records {
		if _, ok := codes[rec.StatusCode]; !ok {
			continue
		}
		res.Indexed = append(res.Indexed, rec)

		if !res.TargetsConfigured || matches(rec, exts, mimes, c.Match) {
			res.Targets = append(res.Targets, rec)
		}
	}
	return res
}

func matches(rec domain.ArchiveRecord, exts, mimes map[string]struct{}, match func(string) bool) bool {
	p := URLPath(rec.OriginalURL)
	if ext := Extension(p); ext != "" {
		if _, ok := exts[ext]; ok {
			return true
		}
	}
	if mt := strings.ToLower(rec.MIMEType); mt != "" {
		if _, ok := mimes[mt]; ok {
			return true
		}
	}
	return match != nil && match(p)
}

// URLPath returns the path component of a captured URL, or the raw string
// when it does not parse.
func URLPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

// Extension returns the lowercased extension of the last path segment.
// Leading dots belong to the name, so "/.htaccess" has no extension while
// "/.config.json" has ".json".
func Extension(p string) string {
	base := path.Base(p)
	i := strings.LastIndex(base, ".")
	if i <= 0 || strings.Trim(base[:i], ".") == "" {
		return ""
	}
	return strings.ToLower(base[i:])
}

// NormalizeExtension lowercases ext and gives it a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

func toSet(values []string, norm func(string) string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = norm(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
