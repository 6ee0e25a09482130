package domain

import "time"

type Variant string

const (
	VariantFirst   Variant = "first"
	VariantLast    Variant = "last"
	VariantCurrent Variant = "current"
)

type EndpointClass string

const (
	EndpointArchive EndpointClass = "archive"
	EndpointOrigin  EndpointClass = "origin"
)

// DownloadTask is one unit of work for the download manager.
type DownloadTask struct {
	ID          int64
	URLKey      string
	Record      *ArchiveRecord
	OriginalURL string
	Variant     Variant
	Endpoint    EndpointClass
	SourceURL   string
}

// Label is the name suffix that distinguishes the variant on disk.
func (t DownloadTask) Label() string {
	if t.Record == nil {
		return string(VariantCurrent)
	}
	return t.Record.Timestamp
}

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
)

type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindConnection        ErrorKind = "connection"
	ErrorKindHTTPStatus        ErrorKind = "http_status"
	ErrorKindInvalidURL        ErrorKind = "invalid_url"
	ErrorKindUnsupportedScheme ErrorKind = "unsupported_scheme"
	ErrorKindFilesystem        ErrorKind = "filesystem"
	ErrorKindCanceled          ErrorKind = "canceled"
)

// DownloadResult is the outcome of one DownloadTask.
type DownloadResult struct {
	Task         DownloadTask
	Status       ResultStatus
	StoredPath   string
	ByteSize     int64
	ContentHash  string
	ErrorKind    ErrorKind
	Error        string
	AttemptCount int
	Seq          int64
	CompletedAt  time.Time
	Removed      bool
	DuplicateOf  string
}

func (r DownloadResult) Succeeded() bool {
	return r.Status == ResultSuccess
}
