package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/andresuchdata/uploadprobe/internal/domain"
)

// MemoryUploadRepository keeps upload records in a map.
type MemoryUploadRepository struct {
	mu      sync.RWMutex
	records map[string]domain.FileRecord
	now     func() time.Time
}

func NewMemoryUploadRepository() *MemoryUploadRepository {
	return &MemoryUploadRepository{
		records: make(map[string]domain.FileRecord),
		now:     time.Now,
	}
}

func (r *MemoryUploadRepository) Create(ctx context.Context, record *domain.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	r.records[record.ID] = *record
	return nil
}

func (r *MemoryUploadRepository) Get(ctx context.Context, id string) (*domain.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

// List returns records newest first.
func (r *MemoryUploadRepository) List(ctx context.Context) ([]domain.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]domain.FileRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (r *MemoryUploadRepository) MarkUploaded(ctx context.Context, id string, size int64, etag string) (*domain.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	record.IsUploaded = true
	record.Size = size
	record.ETag = etag
	record.UpdatedAt = r.now()
	r.records[id] = record
	return &record, nil
}

func (r *MemoryUploadRepository) Rename(ctx context.Context, id, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	record.Filename = filename
	record.UpdatedAt = r.now()
	r.records[id] = record
	return nil
}

func (r *MemoryUploadRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *MemoryUploadRepository) DeleteExpired(ctx context.Context, now time.Time) ([]domain.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.FileRecord
	for id, record := range r.records {
		if record.IsUploaded || record.ExpiresAt == nil || record.ExpiresAt.After(now) {
			continue
		}
		removed = append(removed, record)
		delete(r.records, id)
	}
	return removed, nil
}

var _ UploadRepository = (*MemoryUploadRepository)(nil)
