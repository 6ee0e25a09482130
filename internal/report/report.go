// Package report writes run metadata as CSV and JSON files.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"wayback-fetcher/internal/domain"
	"wayback-fetcher/internal/filter"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Artifact names, without extension.
const (
	FullIndex             = "full-index"
	Targets               = "targets"
	MultipleVersions      = "multiple-versions"
	UnsuccessfulDownloads = "unsuccessful-downloads"
	Downloads             = "downloads"
)

// ParseFormats accepts "csv", "json" or "both".
func ParseFormats(s string) ([]Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return []Format{FormatCSV}, nil
	case "json":
		return []Format{FormatJSON}, nil
	case "both", "":
		return []Format{FormatCSV, FormatJSON}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", s)
	}
}

// Writer writes artifacts into Dir in every configured format.
type Writer struct {
	Dir     string
	Formats []Format
	Logger  *logrus.Logger
}

// WriteIndex writes the status-gated index and, when content criteria were
// configured and matched something, the target list.
func (w *Writer) WriteIndex(res filter.Result) error {
	if len(res.Indexed) > 0 {
		if err := write(w, FullIndex, recordHeader, rows(res.Indexed, newRecordRow)); err != nil {
			return err
		}
	}
	if res.TargetsConfigured && len(res.Targets) > 0 {
		if err := write(w, Targets, recordHeader, rows(res.Targets, newRecordRow)); err != nil {
			return err
		}
	}
	return nil
}

// WriteMultipleVersions writes one row per group whose captures differ.
func (w *Writer) WriteMultipleVersions(groups []domain.TargetGroup) error {
	var out []versionRow
	for _, g := range groups {
		if g.HasMultipleVersions {
			out = append(out, newVersionRow(g))
		}
	}
	if len(out) == 0 {
		return nil
	}
	return write(w, MultipleVersions, versionHeader, out)
}

// WriteDownloads writes every result, and the failed ones separately.
func (w *Writer) WriteDownloads(results []domain.DownloadResult) error {
	if len(results) == 0 {
		return nil
	}
	if err := write(w, Downloads, downloadHeader, rows(results, newDownloadRow)); err != nil {
		return err
	}

	var failed []failureRow
	for _, r := range results {
		if !r.Succeeded() {
			failed = append(failed, newFailureRow(r))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return write(w, UnsuccessfulDownloads, failureHeader, failed)
}

type csvRow interface {
	fields() []string
}

func rows[T any, R csvRow](items []T, conv func(T) R) []R {
	out := make([]R, 0, len(items))
	for _, it := range items {
		out = append(out, conv(it))
	}
	return out
}

func write[R csvRow](w *Writer, name string, header []string, data []R) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	base := filepath.Join(w.Dir, name)

	for _, f := range w.Formats {
		var err error
		switch f {
		case FormatCSV:
			err = writeCSV(base+".csv", header, data)
		case FormatJSON:
			err = writeJSON(base+".json", data)
		default:
			err = fmt.Errorf("unknown output format %q", f)
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	if w.Logger != nil {
		w.Logger.WithFields(logrus.Fields{
			"artifact": name,
			"rows":     len(data),
		}).Debug("report written")
	}
	return nil
}

func writeCSV[R csvRow](path string, header []string, data []R) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	cw.Comma = ';'
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range data {
		if err := cw.Write(r.fields()); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeJSON(path string, data any) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

var recordHeader = []string{"urlkey", "timestamp", "original", "mimetype", "statuscode", "digest", "length"}

type recordRow struct {
	URLKey     string `json:"urlkey"`
	Timestamp  string `json:"timestamp"`
	Original   string `json:"original"`
	MIMEType   string `json:"mimetype"`
	StatusCode int    `json:"statuscode"`
	Digest     string `json:"digest"`
	Length     int64  `json:"length"`
}

func newRecordRow(r domain.ArchiveRecord) recordRow {
	return recordRow{
		URLKey:     r.URLKey,
		Timestamp:  r.Timestamp,
		Original:   r.OriginalURL,
		MIMEType:   r.MIMEType,
		StatusCode: r.StatusCode,
		Digest:     r.Digest,
		Length:     r.Length,
	}
}

func (r recordRow) fields() []string {
	return []string{r.URLKey, r.Timestamp, r.Original, r.MIMEType, strconv.Itoa(r.StatusCode), r.Digest, strconv.FormatInt(r.Length, 10)}
}

var versionHeader = []string{"urlkey", "original", "first_timestamp", "last_timestamp", "captures", "distinct_digests"}

type versionRow struct {
	URLKey          string `json:"urlkey"`
	Original        string `json:"original"`
	FirstTimestamp  string `json:"first_timestamp"`
	LastTimestamp   string `json:"last_timestamp"`
	Captures        int    `json:"captures"`
	DistinctDigests int    `json:"distinct_digests"`
}

func newVersionRow(g domain.TargetGroup) versionRow {
	return versionRow{
		URLKey:          g.URLKey,
		Original:        g.Last.OriginalURL,
		FirstTimestamp:  g.First.Timestamp,
		LastTimestamp:   g.Last.Timestamp,
		Captures:        g.Captures(),
		DistinctDigests: g.DistinctDigests(),
	}
}

func (r versionRow) fields() []string {
	return []string{r.URLKey, r.Original, r.FirstTimestamp, r.LastTimestamp, strconv.Itoa(r.Captures), strconv.Itoa(r.DistinctDigests)}
}

var failureHeader = []string{"task_id", "url", "variant", "error_kind", "attempts", "error"}

type failureRow struct {
	TaskID    int64  `json:"task_id"`
	URL       string `json:"url"`
	Variant   string `json:"variant"`
	ErrorKind string `json:"error_kind"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error"`
}

func newFailureRow(r domain.DownloadResult) failureRow {
	return failureRow{
		TaskID:    r.Task.ID,
		URL:       r.Task.SourceURL,
		Variant:   string(r.Task.Variant),
		ErrorKind: string(r.ErrorKind),
		Attempts:  r.AttemptCount,
		Error:     r.Error,
	}
}

func (r failureRow) fields() []string {
	return []string{strconv.FormatInt(r.TaskID, 10), r.URL, r.Variant, r.ErrorKind, strconv.Itoa(r.Attempts), r.Error}
}

var downloadHeader = []string{"seq", "task_id", "urlkey", "variant", "endpoint", "url", "status", "path", "bytes", "sha256", "attempts", "error_kind", "removed", "duplicate_of"}

type downloadRow struct {
	Seq         int64  `json:"seq"`
	TaskID      int64  `json:"task_id"`
	URLKey      string `json:"urlkey"`
	Variant     string `json:"variant"`
	Endpoint    string `json:"endpoint"`
	URL         string `json:"url"`
	Status      string `json:"status"`
	Path        string `json:"path,omitempty"`
	Bytes       int64  `json:"bytes"`
	SHA256      string `json:"sha256,omitempty"`
	Attempts    int    `json:"attempts"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Removed     bool   `json:"removed"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

func newDownloadRow(r domain.DownloadResult) downloadRow {
	return downloadRow{
		Seq:         r.Seq,
		TaskID:      r.Task.ID,
		URLKey:      r.Task.URLKey,
		Variant:     string(r.Task.Variant),
		Endpoint:    string(r.Task.Endpoint),
		URL:         r.Task.SourceURL,
		Status:      string(r.Status),
		Path:        r.StoredPath,
		Bytes:       r.ByteSize,
		SHA256:      r.ContentHash,
		Attempts:    r.AttemptCount,
		ErrorKind:   string(r.ErrorKind),
		Removed:     r.Removed,
		DuplicateOf: r.DuplicateOf,
	}
}

func (r downloadRow) fields() []string {
	return []string{
		strconv.FormatInt(r.Seq, 10),
		strconv.FormatInt(r.TaskID, 10),
		r.URLKey, r.Variant, r.Endpoint, r.URL, r.Status, r.Path,
		strconv.FormatInt(r.Bytes, 10),
		r.SHA256,
		strconv.Itoa(r.Attempts),
		r.ErrorKind,
		strconv.FormatBool(r.Removed),
		r.DuplicateOf,
	}
}
