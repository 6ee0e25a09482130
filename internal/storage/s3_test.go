package storage_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayback-fetcher/internal/storage"
)

type fakeUploader struct {
	mu       sync.Mutex
	objects  map[string]string
	types    map[string]string
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     string
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: map[string]string{}, types: map[string]string{}}
}

func (u *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	n := u.inFlight.Add(1)
	defer u.inFlight.Add(-1)
	for {
		p := u.peak.Load()
		if n <= p || u.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	key := aws.ToString(in.Key)
	if key == u.fail {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[key] = string(body)
	u.types[key] = aws.ToString(in.ContentType)
	return &manager.UploadOutput{Key: in.Key}, nil
}

type fakeObjects struct {
	pages   [][]string
	calls   int
	deleted []string
}

func (f *fakeObjects) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := f.calls
	f.calls++
	out := &s3.ListObjectsV2Output{}
	if page >= len(f.pages) {
		return out, nil
	}
	for _, k := range f.pages[page] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(k)))})
	}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeObjects) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, obj := range in.Delete.Objects {
		f.deleted = append(f.deleted, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func TestUploadDirectory(t *testing.T) {
	files := map[string]string{}
	for _, name := range []string{"a.html", "b.pdf", "c.txt", "docs/d.css", "docs/e.js", "img/f.png", "g", "h.json"} {
		files[name] = "body of " + name
	}
	root := writeTree(t, files)

	up := newFakeUploader()
	svc := storage.NewS3ServiceWith(&fakeObjects{}, up)

	var lastDone, lastTotal int64
	loc, err := svc.UploadDirectory(context.Background(), root, storage.UploadOptions{
		Bucket:      "archive",
		KeyPrefix:   "/mirror/example.com/run-1/",
		Concurrency: 2,
		ProgressCallback: func(done, total int64) {
			lastDone, lastTotal = done, total
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "s3://archive/mirror/example.com/run-1", loc)
	require.Len(t, up.objects, len(files))
	for rel, body := range files {
		assert.Equal(t, body, up.objects["mirror/example.com/run-1/"+rel])
	}
	assert.Equal(t, "application/pdf", up.types["mirror/example.com/run-1/b.pdf"])
	assert.LessOrEqual(t, up.peak.Load(), int32(2))
	assert.Equal(t, lastTotal, lastDone)
}

func TestUploadDirectory_Errors(t *testing.T) {
	svc := storage.NewS3ServiceWith(&fakeObjects{}, newFakeUploader())

	_, err := svc.UploadDirectory(context.Background(), t.TempDir(), storage.UploadOptions{})
	assert.ErrorIs(t, err, storage.ErrBucketRequired)

	_, err = svc.UploadDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"), storage.UploadOptions{Bucket: "b"})
	assert.Error(t, err)

	root := writeTree(t, map[string]string{"ok.txt": "1", "bad.txt": "2"})
	up := newFakeUploader()
	up.fail = "p/bad.txt"
	_, err = storage.NewS3ServiceWith(&fakeObjects{}, up).UploadDirectory(context.Background(), root, storage.UploadOptions{Bucket: "b", KeyPrefix: "p"})
	assert.ErrorContains(t, err, "access denied")
}

func TestListObjects_FollowsContinuation(t *testing.T) {
	objs := &fakeObjects{pages: [][]string{{"p/a", "p/b"}, {"p/c"}}}
	svc := storage.NewS3ServiceWith(objs, newFakeUploader())

	got, err := svc.ListObjects(context.Background(), "b", "p/")
	require.NoError(t, err)

	var keys []string
	for _, o := range got {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"p/a", "p/b", "p/c"}, keys)
}

func TestDeletePrefix(t *testing.T) {
	objs := &fakeObjects{pages: [][]string{{"p/a", "p/b"}, {"p/c"}}}
	svc := storage.NewS3ServiceWith(objs, newFakeUploader())

	require.NoError(t, svc.DeletePrefix(context.Background(), "b", "p/"))
	sort.Strings(objs.deleted)
	assert.Equal(t, []string{"p/a", "p/b", "p/c"}, objs.deleted)

	assert.Error(t, svc.DeletePrefix(context.Background(), "b", "  "))
	assert.ErrorIs(t, svc.DeletePrefix(context.Background(), "", "p"), storage.ErrBucketRequired)
}
