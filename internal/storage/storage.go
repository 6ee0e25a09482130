// Package storage mirrors a run's downloaded files to object storage.
package storage

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// UploadOptions conveys upload destination metadata.
type UploadOptions struct {
	Bucket    string
	KeyPrefix string
	// Concurrency bounds parallel uploads; zero means DefaultConcurrency.
	Concurrency      int
	ProgressCallback func(done, total int64)
}

const DefaultConcurrency = 4

// Service uploads a directory tree to remote object storage.
type Service interface {
	UploadDirectory(ctx context.Context, localPath string, opts UploadOptions) (string, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	DeletePrefix(ctx context.Context, bucket, prefix string) error
}
