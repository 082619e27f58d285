package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zllovesuki/stylo/locker"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchResult summarizes a run over many businesses
type BatchResult struct {
	Processed int `json:"processed"`
	Created   int `json:"created"` // Documents or status changes produced
	Skipped   int `json:"skipped"` // Nothing to do, or the business was locked by another runner
	Failed    int `json:"failed"`
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeProcessed
)

func (o outcome) String() string {
	switch o {
	case outcomeCreated:
		return "created"
	case outcomeSkipped:
		return "skipped"
	case outcomeFailed:
		return "failed"
	default:
		return "processed"
	}
}

func (r *BatchResult) add(o outcome) {
	r.Processed++
	switch o {
	case outcomeCreated:
		r.Created++
	case outcomeSkipped:
		r.Skipped++
	case outcomeFailed:
		r.Failed++
	}
}

// runBatch calls fn for every key with at most BatchConcurrency in flight.
// A failing key is counted and logged, never aborting the others.
func (s *Service) runBatch(ctx context.Context, job string, keys []string, fn func(ctx context.Context, key string) (outcome, error)) BatchResult {
	start := time.Now()
	defer func() {
		s.Metrics.BatchDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	}()

	var (
		mu     sync.Mutex
		result BatchResult
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.BatchConcurrency)

	for _, key := range keys {
		key := key
		eg.Go(func() error {
			o, err := fn(ctx, key)
			if errors.Is(err, locker.ErrNotObtained) {
				o, err = outcomeSkipped, nil
				s.Metrics.LockContention.Inc()
				s.Logger.Info("Business is locked by another runner, skipping",
					zap.String("Job", job),
					zap.String("Key", key),
				)
			}
			if err != nil {
				o = outcomeFailed
				s.Logger.Error("Batch item failed",
					zap.String("Job", job),
					zap.String("Key", key),
					zap.Error(err),
				)
			}
			s.Metrics.BatchRuns.WithLabelValues(job, o.String()).Inc()
			mu.Lock()
			result.add(o)
			mu.Unlock()
			// the group must keep going, failures are reported through result
			return nil
		})
	}
	eg.Wait()

	s.Logger.Info("Batch finished",
		zap.String("Job", job),
		zap.Int("Processed", result.Processed),
		zap.Int("Created", result.Created),
		zap.Int("Skipped", result.Skipped),
		zap.Int("Failed", result.Failed),
		zap.Duration("Took", time.Since(start)),
	)
	return result
}
