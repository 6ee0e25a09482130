// Package selector groups target records by URL and decides which captures
// to download.
package selector

import (
	"strings"

	"wayback-fetcher/internal/domain"
)

const (
	DefaultArchiveRoot = "https://web.archive.org/web"
	DefaultModifier    = "im_"
)

// Options picks the variants to download. FirstLast and All are shorthands.
type Options struct {
	First     bool
	Last      bool
	Current   bool
	FirstLast bool
	All       bool
}

func (o Options) resolve() Options {
	if o.FirstLast || o.All {
		o.First, o.Last = true, true
	}
	if o.All {
		o.Current = true
	}
	return o
}

// Any reports whether at least one variant is selected.
func (o Options) Any() bool {
	r := o.resolve()
	return r.First || r.Last || r.Current
}

// Endpoints describes where archived captures are retrieved from.
type Endpoints struct {
	ArchiveRoot string
	Modifier    string
}

// ArchiveURL is the retrieval URL of one capture.
func (e Endpoints) ArchiveURL(rec domain.ArchiveRecord) string {
	root := e.ArchiveRoot
	if root == "" {
		root = DefaultArchiveRoot
	}
	return strings.TrimRight(root, "/") + "/" + rec.Timestamp + e.Modifier + "/" + rec.OriginalURL
}

// Group collects records by URL key in order of first appearance.
func Group(records []domain.ArchiveRecord) []domain.TargetGroup {
	index := make(map[string]int)
	var groups []domain.TargetGroup

	for _, rec := range records {
		i, ok := index[rec.URLKey]
		if !ok {
			i = len(groups)
			index[rec.URLKey] = i
			groups = append(groups, domain.TargetGroup{URLKey: rec.URLKey, First: rec, Last: rec})
		}
		g := &groups[i]
		g.Records = append(g.Records, rec)
		if rec.Timestamp < g.First.Timestamp {
			g.First = rec
		}
		if rec.Timestamp >= g.Last.Timestamp {
			g.Last = rec
		}
	}

	for i := range groups {
		groups[i].HasMultipleVersions = groups[i].DistinctDigests() >= 2
	}
	return groups
}

// Tasks turns groups into download tasks. IDs are assigned sequentially from 1.
func Tasks(groups []domain.TargetGroup, opts Options, ep Endpoints) []domain.DownloadTask {
	opts = opts.resolve()

	var tasks []domain.DownloadTask
	add := func(t domain.DownloadTask) {
		t.ID = int64(len(tasks) + 1)
		tasks = append(tasks, t)
	}

	for _, g := range groups {
		if opts.First {
			first := g.First
			add(archiveTask(g.URLKey, &first, domain.VariantFirst, ep))
		}
		if opts.Last && !(opts.First && g.First.Digest == g.Last.Digest) {
			last := g.Last
			add(archiveTask(g.URLKey, &last, domain.VariantLast, ep))
		}
		if opts.Current {
			add(domain.DownloadTask{
				URLKey:      g.URLKey,
				OriginalURL: g.Last.OriginalURL,
				Variant:     domain.VariantCurrent,
				Endpoint:    domain.EndpointOrigin,
				SourceURL:   g.Last.OriginalURL,
			})
		}
	}
	return tasks
}

func archiveTask(key string, rec *domain.ArchiveRecord, v domain.Variant, ep Endpoints) domain.DownloadTask {
	return domain.DownloadTask{
		URLKey:      key,
		Record:      rec,
		OriginalURL: rec.OriginalURL,
		Variant:     v,
		Endpoint:    domain.EndpointArchive,
		SourceURL:   ep.ArchiveURL(*rec),
	}
}
