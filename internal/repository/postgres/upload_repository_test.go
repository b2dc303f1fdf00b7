package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/andresuchdata/uploadprobe/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "s3_key", "filename", "size", "etag", "is_uploaded", "created_at", "updated_at", "expires_at"}

func newMockRepo(t *testing.T) (*UploadRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := Wrap(sqlx.NewDb(sqlDB, "postgres"))
	return NewUploadRepository(db), mock
}

func TestUploadRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := created.Add(15 * time.Minute)

	mock.ExpectQuery(`INSERT INTO file_uploads`).
		WithArgs("f1", "uploads/f1.bin", "", &expires).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, created))

	record := &domain.FileRecord{ID: "f1", S3Key: "uploads/f1.bin", ExpiresAt: &expires}
	require.NoError(t, repo.Create(context.Background(), record))
	assert.Equal(t, created, record.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadRepository_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT (.+) FROM file_uploads WHERE id = \$1`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("f1", "uploads/f1.bin", "a.txt", 10, "etag", true, now, now, nil))

	record, err := repo.Get(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", record.Filename)
	assert.True(t, record.IsUploaded)
	assert.Nil(t, record.ExpiresAt)

	mock.ExpectQuery(`SELECT (.+) FROM file_uploads WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadRepository_List(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT (.+) FROM file_uploads ORDER BY created_at DESC`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("b", "uploads/b.bin", "", 0, "", false, now, now, now).
			AddRow("a", "uploads/a.bin", "", 5, "e", true, now, now, nil))

	records, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].ID)
	assert.NotNil(t, records[0].ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadRepository_MarkUploaded(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE file_uploads\s+SET is_uploaded = true`).
		WithArgs("f1", int64(42), "etag").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("f1", "uploads/f1.bin", "", 42, "etag", true, now, now, nil))

	record, err := repo.MarkUploaded(context.Background(), "f1", 42, "etag")
	require.NoError(t, err)
	assert.Equal(t, int64(42), record.Size)
	assert.True(t, record.IsUploaded)

	mock.ExpectQuery(`UPDATE file_uploads\s+SET is_uploaded = true`).
		WithArgs("missing", int64(0), "").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.MarkUploaded(context.Background(), "missing", 0, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadRepository_RenameAndDelete(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE file_uploads SET filename = \$2`).
		WithArgs("f1", "new.txt").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Rename(ctx, "f1", "new.txt"))

	mock.ExpectExec(`UPDATE file_uploads SET filename = \$2`).
		WithArgs("missing", "new.txt").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Rename(ctx, "missing", "new.txt"), repository.ErrNotFound)

	mock.ExpectExec(`DELETE FROM file_uploads WHERE id = \$1`).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(ctx, "f1"))

	mock.ExpectExec(`DELETE FROM file_uploads WHERE id = \$1`).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(ctx, "f1"), repository.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadRepository_DeleteExpired(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM file_uploads\s+WHERE is_uploaded = false AND expires_at <= \$1\s+FOR UPDATE`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("stale", "uploads/stale.bin", "", 0, "", false, past, past, past))
	mock.ExpectExec(`DELETE FROM file_uploads WHERE id = ANY`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "uploads/stale.bin", removed[0].S3Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadRepository_DeleteExpiredRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(now).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.DeleteExpired(context.Background(), now)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}
