package index

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"wayback-fetcher/internal/domain"
)

// ErrMalformedRow is returned for index rows that cannot become an ArchiveRecord.
var ErrMalformedRow = errors.New("malformed index row")

// Fields lists the index columns requested from the API, in row order.
var Fields = []string{"urlkey", "timestamp", "original", "mimetype", "statuscode", "digest", "length"}

// Row is one raw index row, uninterpreted.
type Row []string

const timestampLen = 14

// Normalize maps a raw index row onto the canonical record shape.
func Normalize(row Row) (domain.ArchiveRecord, error) {
	if len(row) < len(Fields)-1 {
		return domain.ArchiveRecord{}, fmt.Errorf("%w: %d columns", ErrMalformedRow, len(row))
	}

	rec := domain.ArchiveRecord{
		URLKey:      strings.TrimSpace(row[0]),
		Timestamp:   strings.TrimSpace(row[1]),
		OriginalURL: strings.TrimSpace(row[2]),
		MIMEType:    strings.TrimSpace(row[3]),
		StatusCode:  parseInt(row[4]),
		Digest:      strings.TrimSpace(row[5]),
	}
	if len(row) >= len(Fields) {
		rec.Length = int64(parseInt(row[6]))
	}

	if rec.URLKey == "" {
		return domain.ArchiveRecord{}, fmt.Errorf("%w: empty url key", ErrMalformedRow)
	}
	if !validTimestamp(rec.Timestamp) {
		return domain.ArchiveRecord{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRow, rec.Timestamp)
	}
	if rec.OriginalURL == "" {
		return domain.ArchiveRecord{}, fmt.Errorf("%w: empty original url", ErrMalformedRow)
	}
	return rec, nil
}

// parseInt reads numeric index columns; "-" and other placeholders become 0.
func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func validTimestamp(ts string) bool {
	if len(ts) != timestampLen {
		return false
	}
	for i := 0; i < len(ts); i++ {
		if ts[i] < '0' || ts[i] > '9' {
			return false
		}
	}
	return true
}
