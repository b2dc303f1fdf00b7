// internal/repository/upload_repository.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/andresuchdata/uploadprobe/internal/domain"
)

// ErrNotFound is returned when no upload record has the given id.
var ErrNotFound = errors.New("upload record not found")

type UploadRepository interface {
	Create(ctx context.Context, record *domain.FileRecord) error
	Get(ctx context.Context, id string) (*domain.FileRecord, error)
	List(ctx context.Context) ([]domain.FileRecord, error)
	MarkUploaded(ctx context.Context, id string, size int64, etag string) (*domain.FileRecord, error)
	Rename(ctx context.Context, id, filename string) error
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes records that were never completed and whose
	// presign expired at or before now, returning what was removed.
	DeleteExpired(ctx context.Context, now time.Time) ([]domain.FileRecord, error)
}
