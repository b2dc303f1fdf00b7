package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresuchdata/uploadprobe/internal/config"
	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	runsKey           = "uploadprobe:runs"
	defaultMaxEntries = 100
	defaultTTL        = 7 * 24 * time.Hour
)

// Recorder keeps the most recent run reports.
type Recorder interface {
	Record(ctx context.Context, report *domain.RunReport) error
	Recent(ctx context.Context, limit int) ([]domain.RunReport, error)
	Close() error
}

type redisRecorder struct {
	client     *redis.Client
	maxEntries int64
	ttl        time.Duration
}

type noopRecorder struct{}

// NewRecorder returns a Redis backed recorder, or a noop one when history
// is disabled.
func NewRecorder(cfg config.HistoryConfig) (Recorder, error) {
	if !cfg.Enabled {
		return &noopRecorder{}, nil
	}

	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	return newRedisRecorder(client, cfg), nil
}

func NewNoopRecorder() Recorder {
	return &noopRecorder{}
}

func newRedisRecorder(client *redis.Client, cfg config.HistoryConfig) *redisRecorder {
	maxEntries := int64(cfg.MaxEntries)
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &redisRecorder{
		client:     client,
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Record pushes the report to the head of the list and trims the tail.
func (r *redisRecorder) Record(ctx context.Context, report *domain.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, runsKey, payload)
	pipe.LTrim(ctx, runsKey, 0, r.maxEntries-1)
	pipe.Expire(ctx, runsKey, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record failed: %w", err)
	}

	return nil
}

// Recent returns up to limit reports, newest first.
func (r *redisRecorder) Recent(ctx context.Context, limit int) ([]domain.RunReport, error) {
	if limit <= 0 {
		limit = int(r.maxEntries)
	}

	items, err := r.client.LRange(ctx, runsKey, 0, int64(limit)-1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis range failed: %w", err)
	}

	reports := make([]domain.RunReport, 0, len(items))
	for _, item := range items {
		var report domain.RunReport
		if err := json.Unmarshal([]byte(item), &report); err != nil {
			return nil, fmt.Errorf("decode run report: %w", err)
		}
		reports = append(reports, report)
	}

	return reports, nil
}

func (r *redisRecorder) Close() error {
	return r.client.Close()
}

func (n *noopRecorder) Record(ctx context.Context, report *domain.RunReport) error {
	return nil
}

func (n *noopRecorder) Recent(ctx context.Context, limit int) ([]domain.RunReport, error) {
	return nil, nil
}

func (n *noopRecorder) Close() error {
	return nil
}
