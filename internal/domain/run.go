package domain

import "time"

type RunStatus string

const (
	RunStatusIndexing    RunStatus = "indexing"
	RunStatusDownloading RunStatus = "downloading"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
)

// Run is one invocation of the fetch pipeline against a domain.
type Run struct {
	ID                string
	Domain            string
	Status            RunStatus
	OutputDir         string
	TotalRecords      int
	TargetRecords     int
	MultiVersionURLs  int
	Tasks             int
	Succeeded         int
	Failed            int
	DuplicatesRemoved int
	S3Location        string
	ErrorMessage      string
	StartedAt         time.Time
	UpdatedAt         time.Time
	FinishedAt        *time.Time
}

// RunSummary carries the counters recorded when a run finishes.
type RunSummary struct {
	TotalRecords      int
	TargetRecords     int
	MultiVersionURLs  int
	Tasks             int
	Succeeded         int
	Failed            int
	DuplicatesRemoved int
	S3Location        string
}
