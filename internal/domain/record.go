package domain

// ArchiveRecord is one snapshot listed by the archive index.
type ArchiveRecord struct {
	URLKey      string
	Timestamp   string
	OriginalURL string
	MIMEType    string
	StatusCode  int
	Digest      string
	Length      int64
}

// Key returns the identity of the capture.
func (r ArchiveRecord) Key() string {
	return r.URLKey + " " + r.Timestamp + " " + r.Digest
}

// TargetGroup collects every filtered capture of one URL key.
type TargetGroup struct {
	URLKey              string
	Records             []ArchiveRecord
	First               ArchiveRecord
	Last                ArchiveRecord
	HasMultipleVersions bool
}

// Captures returns the number of records in the group.
func (g TargetGroup) Captures() int {
	return len(g.Records)
}

// DistinctDigests counts the distinct content digests in the group.
func (g TargetGroup) DistinctDigests() int {
	seen := make(map[string]struct{}, len(g.Records))
	for _, r := range g.Records {
		seen[r.Digest] = struct{}{}
	}
	return len(seen)
}

// IndexedRecord is a status-gated record as kept in the run ledger.
type IndexedRecord struct {
	ArchiveRecord
	Target bool
}
