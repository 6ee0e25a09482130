// Package dedup removes downloaded files whose content is identical to a
// fresher download from the same run.
package dedup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"wayback-fetcher/internal/domain"
)

// Outcome is the updated result set plus how many files were removed.
type Outcome struct {
	Results []domain.DownloadResult
	Removed int
}

// RemoveFile deletes a file from disk.
func RemoveFile(path string) error {
	return os.Remove(path)
}

// Run groups successful results by content hash and keeps only the one with
// the highest Seq in each group. The input slice is not modified. A file that
// is already gone counts as removed.
func Run(results []domain.DownloadResult, remove func(string) error) (Outcome, error) {
	if remove == nil {
		remove = RemoveFile
	}

	out := Outcome{Results: make([]domain.DownloadResult, len(results))}
	copy(out.Results, results)

	survivor := make(map[string]int)
	for i, r := range out.Results {
		if !r.Succeeded() || r.ContentHash == "" {
			continue
		}
		if j, ok := survivor[r.ContentHash]; !ok || r.Seq > out.Results[j].Seq {
			survivor[r.ContentHash] = i
		}
	}

	var errs []error
	for i := range out.Results {
		r := &out.Results[i]
		if !r.Succeeded() || r.ContentHash == "" {
			continue
		}
		keep := survivor[r.ContentHash]
		if keep == i {
			continue
		}
		if err := remove(r.StoredPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove duplicate %s: %w", r.StoredPath, err))
			continue
		}
		r.Removed = true
		r.DuplicateOf = out.Results[keep].StoredPath
		out.Removed++
	}
	return out, errors.Join(errs...)
}
