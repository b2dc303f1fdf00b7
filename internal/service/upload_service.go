package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/andresuchdata/uploadprobe/internal/repository"
	"github.com/andresuchdata/uploadprobe/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrFileIDNotFound  = errors.New("File id not found")
	ErrObjectMissing   = errors.New("File not found in the bucket")
	ErrFileNotFound    = errors.New("File not found")
	ErrInvalidFilename = errors.New("filename is required")
)

const (
	defaultPresignExpiry  = 15 * time.Minute
	defaultDownloadExpiry = 15 * time.Minute
)

type Options struct {
	Layout         storage.KeyLayout
	PresignExpiry  time.Duration
	DownloadExpiry time.Duration
}

type UploadService struct {
	repo           repository.UploadRepository
	storage        storage.ObjectStorage
	layout         storage.KeyLayout
	presignExpiry  time.Duration
	downloadExpiry time.Duration
	now            func() time.Time
	newID          func() string
}

func NewUploadService(repo repository.UploadRepository, store storage.ObjectStorage, opts Options) *UploadService {
	if opts.PresignExpiry <= 0 {
		opts.PresignExpiry = defaultPresignExpiry
	}
	if opts.DownloadExpiry <= 0 {
		opts.DownloadExpiry = defaultDownloadExpiry
	}
	return &UploadService{
		repo:           repo,
		storage:        store,
		layout:         opts.Layout,
		presignExpiry:  opts.PresignExpiry,
		downloadExpiry: opts.DownloadExpiry,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Presign registers a pending upload and returns the URL the client PUTs to.
func (s *UploadService) Presign(ctx context.Context) (*domain.PresignResult, error) {
	fileID := s.newID()
	key := s.layout.Key(fileID)
	expiresAt := s.now().Add(s.presignExpiry)

	record := &domain.FileRecord{
		ID:        fileID,
		S3Key:     key,
		ExpiresAt: &expiresAt,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("register upload: %w", err)
	}

	uploadURL, err := s.storage.PresignPut(ctx, key, s.presignExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	log.Debug().Str("file_id", fileID).Str("key", key).Msg("upload: presigned")

	return &domain.PresignResult{
		UploadURL: uploadURL,
		FileID:    fileID,
		Key:       key,
		ExpiresIn: int64(s.presignExpiry / time.Second),
	}, nil
}

// Complete marks the upload as finished once its object is in the bucket.
func (s *UploadService) Complete(ctx context.Context, fileID string) (*domain.FileRecord, error) {
	record, err := s.repo.Get(ctx, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFileIDNotFound
	}
	if err != nil {
		return nil, err
	}

	info, err := s.storage.StatObject(ctx, record.S3Key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ErrObjectMissing
	}
	if err != nil {
		return nil, fmt.Errorf("stat object: %w", err)
	}

	updated, err := s.repo.MarkUploaded(ctx, fileID, info.Size, info.ETag)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFileIDNotFound
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("file_id", fileID).Int64("size", info.Size).Msg("upload: completed")
	return updated, nil
}

// DownloadRef returns a presigned GET URL for an uploaded file.
func (s *UploadService) DownloadRef(ctx context.Context, id string) (string, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !record.IsUploaded {
		return "", ErrFileNotFound
	}

	url, err := s.storage.PresignGet(ctx, record.S3Key, s.downloadExpiry)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url, nil
}

func (s *UploadService) List(ctx context.Context) ([]domain.FileRecord, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = make([]domain.FileRecord, 0)
	}
	return records, nil
}

func (s *UploadService) Get(ctx context.Context, id string) (*domain.FileRecord, error) {
	record, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	return record, err
}

func (s *UploadService) Rename(ctx context.Context, id, filename string) (*domain.FileRecord, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, ErrInvalidFilename
	}

	err := s.repo.Rename(ctx, id, filename)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes the object first, then the record.
func (s *UploadService) Delete(ctx context.Context, id string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.storage.RemoveObject(ctx, record.S3Key); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}

	err = s.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrFileNotFound
	}
	return err
}

// SweepExpired drops uploads whose presign window closed before completion.
func (s *UploadService) SweepExpired(ctx context.Context) (int, error) {
	removed, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired uploads: %w", err)
	}

	for _, record := range removed {
		if err := s.storage.RemoveObject(ctx, record.S3Key); err != nil {
			log.Warn().Err(err).Str("key", record.S3Key).Msg("sweep: remove object failed")
		}
	}

	if len(removed) > 0 {
		log.Info().Int("count", len(removed)).Msg("sweep: expired uploads removed")
	}
	return len(removed), nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *UploadService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				log.Error().Err(err).Msg("sweep: failed")
			}
		}
	}
}
