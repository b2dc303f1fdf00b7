package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/andresuchdata/uploadprobe/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uploadColumns = `id, s3_key, filename, size, etag, is_uploaded, created_at, updated_at, expires_at`

type UploadRepository struct {
	db *DB
}

func NewUploadRepository(db *DB) *UploadRepository {
	return &UploadRepository{db: db}
}

func (r *UploadRepository) Create(ctx context.Context, record *domain.FileRecord) error {
	query := `
		INSERT INTO file_uploads (id, s3_key, filename, expires_at, is_uploaded, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		record.ID,
		record.S3Key,
		record.Filename,
		record.ExpiresAt,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert upload record: %w", err)
	}
	return nil
}

func (r *UploadRepository) Get(ctx context.Context, id string) (*domain.FileRecord, error) {
	var record domain.FileRecord
	err := r.db.GetContext(ctx, &record, `SELECT `+uploadColumns+` FROM file_uploads WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query upload record: %w", err)
	}
	return &record, nil
}

func (r *UploadRepository) List(ctx context.Context) ([]domain.FileRecord, error) {
	records := []domain.FileRecord{}
	err := r.db.SelectContext(ctx, &records, `SELECT `+uploadColumns+` FROM file_uploads ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload records: %w", err)
	}
	return records, nil
}

func (r *UploadRepository) MarkUploaded(ctx context.Context, id string, size int64, etag string) (*domain.FileRecord, error) {
	query := `
		UPDATE file_uploads
		SET is_uploaded = true, size = $2, etag = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + uploadColumns

	var record domain.FileRecord
	err := r.db.GetContext(ctx, &record, query, id, size, etag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update upload record: %w", err)
	}
	return &record, nil
}

func (r *UploadRepository) Rename(ctx context.Context, id, filename string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE file_uploads SET filename = $2, updated_at = NOW() WHERE id = $1`, id, filename)
	if err != nil {
		return fmt.Errorf("failed to rename upload record: %w", err)
	}
	return expectOneRow(result)
}

func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM file_uploads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload record: %w", err)
	}
	return expectOneRow(result)
}

func (r *UploadRepository) DeleteExpired(ctx context.Context, now time.Time) ([]domain.FileRecord, error) {
	var removed []domain.FileRecord

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			SELECT ` + uploadColumns + `
			FROM file_uploads
			WHERE is_uploaded = false AND expires_at <= $1
			FOR UPDATE
		`
		if err := tx.SelectContext(ctx, &removed, query, now); err != nil {
			return fmt.Errorf("failed to query expired uploads: %w", err)
		}
		if len(removed) == 0 {
			return nil
		}

		ids := make([]string, 0, len(removed))
		for _, record := range removed {
			ids = append(ids, record.ID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_uploads WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
			return fmt.Errorf("failed to delete expired uploads: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return removed, nil
}

func expectOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.UploadRepository = (*UploadRepository)(nil)
