package probe

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type SoakOptions struct {
	Runs        int
	Concurrency int
	// Rate caps run starts per second. Zero means unlimited.
	Rate float64
}

// Soak repeats Run with bounded concurrency. Failed runs are counted, they
// do not stop the others. The transcript of each run is discarded.
func (d *Driver) Soak(ctx context.Context, path string, opts SoakOptions) (*domain.SoakSummary, error) {
	if opts.Runs <= 0 {
		return nil, errors.New("soak: runs must be positive")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}

	quiet := *d
	quiet.out = io.Discard

	var (
		g       errgroup.Group
		mu      sync.Mutex
		reports = make([]*domain.RunReport, 0, opts.Runs)
	)
	g.SetLimit(opts.Concurrency)

	start := d.now()
	var waitErr error
	for i := 0; i < opts.Runs; i++ {
		if err := limiter.Wait(ctx); err != nil {
			waitErr = err
			break
		}

		g.Go(func() error {
			report, err := quiet.Run(ctx, path)
			if err != nil {
				log.Debug().Err(err).Int("run", i).Msg("soak: run failed")
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary := summarize(reports)
	summary.TotalElapsed = d.now().Sub(start)

	log.Info().
		Int("runs", summary.Runs).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("avg", summary.AvgDuration).
		Msg("soak: finished")

	if waitErr != nil {
		return summary, waitErr
	}
	return summary, ctx.Err()
}

func summarize(reports []*domain.RunReport) *domain.SoakSummary {
	summary := &domain.SoakSummary{
		Runs:        len(reports),
		FailedSteps: make(map[domain.Step]int),
	}
	if len(reports) == 0 {
		return summary
	}

	var total time.Duration
	for i, report := range reports {
		if report.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
			summary.FailedSteps[report.FailedStep]++
		}

		total += report.Duration
		if i == 0 || report.Duration < summary.MinDuration {
			summary.MinDuration = report.Duration
		}
		if report.Duration > summary.MaxDuration {
			summary.MaxDuration = report.Duration
		}
	}
	summary.AvgDuration = total / time.Duration(len(reports))
	return summary
}
