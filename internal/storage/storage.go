package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// ObjectStorage captures the S3-compatible operations the upload flow needs:
// handing out presigned URLs and checking what actually landed in the bucket.
type ObjectStorage interface {
	PresignPut(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
	StatObject(ctx context.Context, key string) (ObjectInfo, error)
	RemoveObject(ctx context.Context, key string) error
}

// KeyLayout maps a file id to its object key.
type KeyLayout struct {
	Prefix string
	Suffix string
}

// Key returns the object key for id, e.g. uploads/<id>.bin.
func (l KeyLayout) Key(id string) string {
	return l.Prefix + id + l.Suffix
}
