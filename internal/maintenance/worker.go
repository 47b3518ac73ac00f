// Package maintenance runs the background aging loops: TTL/staleness cleanup
// and importance decay. The loops never block foreground operations and a
// failed pass is retried naturally on the next tick because the underlying
// queries are idempotent.
package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/evermem/evermem/internal/metastore"
	"github.com/evermem/evermem/internal/metrics"
	"github.com/evermem/evermem/internal/vectorindex"
)

// Config controls the two loop cadences and the eviction thresholds.
type Config struct {
	CleanupInterval time.Duration // expired/stale eviction cadence
	DecayInterval   time.Duration // importance decay cadence
	MinImportance   float64       // staleness: importance below this is evictable
	StaleMaxAccess  int64         // staleness: access_count at or below this
	DecayFactor     float64       // multiplicative importance decay
	DecayMinAge     time.Duration // records younger than this never decay
}

// Worker owns the two maintenance loops. Deletions go through the vector
// index first and the metadata store second, the same order foreground
// deletes use.
type Worker struct {
	meta  metastore.Store
	idx   vectorindex.Index
	cfg   Config
	log   zerolog.Logger
	nowFn func() time.Time
}

// NewWorker constructs a Worker, filling unset config fields with the
// service defaults.
func NewWorker(meta metastore.Store, idx vectorindex.Index, cfg Config, log zerolog.Logger) *Worker {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 15 * time.Minute
	}
	if cfg.DecayInterval <= 0 {
		cfg.DecayInterval = 24 * time.Hour
	}
	if cfg.MinImportance <= 0 {
		cfg.MinImportance = 0.1
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor > 1 {
		cfg.DecayFactor = 0.95
	}
	if cfg.DecayMinAge <= 0 {
		cfg.DecayMinAge = 7 * 24 * time.Hour
	}
	return &Worker{meta: meta, idx: idx, cfg: cfg, log: log, nowFn: time.Now}
}

// Run starts both loops and blocks until ctx is canceled. The loops are
// independent of each other but each one waits for its own previous pass to
// finish before sleeping and re-firing, so a loop never overlaps itself.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Dur("cleanupInterval", w.cfg.CleanupInterval).
		Dur("decayInterval", w.cfg.DecayInterval).
		Msg("maintenance worker starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.loop(ctx, "cleanup", w.cfg.CleanupInterval, w.CleanupOnce) })
	g.Go(func() error { return w.loop(ctx, "decay", w.cfg.DecayInterval, w.DecayOnce) })
	return g.Wait()
}

// loop ticks at interval and runs fn synchronously: the ticker simply drops
// ticks while a pass is still running. A failed pass is logged and counted,
// never fatal.
func (w *Worker) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Str("loop", name).Msg("maintenance loop stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				metrics.MaintenanceErrors.WithLabelValues(name).Inc()
				w.log.Error().Err(err).Str("loop", name).Msg("maintenance pass failed")
			}
		}
	}
}

// CleanupOnce removes expired memories, then stale ones. Each batch is its
// own unit: a failure in one never prevents the other from running.
func (w *Worker) CleanupOnce(ctx context.Context) error {
	var errs []error

	expired, err := w.meta.GetExpired(ctx, w.nowFn().UTC())
	if err != nil {
		errs = append(errs, err)
	} else if len(expired) > 0 {
		if err := w.deleteBatch(ctx, expired); err != nil {
			errs = append(errs, err)
		} else {
			metrics.ExpiredCleaned.Add(float64(len(expired)))
			w.log.Info().Int("count", len(expired)).Msg("cleaned expired memories")
		}
	}

	stale, err := w.meta.GetStale(ctx, w.cfg.MinImportance, w.cfg.StaleMaxAccess)
	if err != nil {
		errs = append(errs, err)
	} else if len(stale) > 0 {
		if err := w.deleteBatch(ctx, stale); err != nil {
			errs = append(errs, err)
		} else {
			metrics.StaleCleaned.Add(float64(len(stale)))
			w.log.Info().Int("count", len(stale)).Msg("cleaned stale memories")
		}
	}

	return errors.Join(errs...)
}

// DecayOnce applies importance decay to all eligible records across all
// profiles in one pass.
func (w *Worker) DecayOnce(ctx context.Context) error {
	n, err := w.meta.DecayImportance(ctx, w.cfg.DecayFactor, w.cfg.DecayMinAge, w.nowFn().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.ImportanceDecayed.Add(float64(n))
		w.log.Info().Int64("count", n).Float64("factor", w.cfg.DecayFactor).Msg("decayed importance")
	}
	return nil
}

func (w *Worker) deleteBatch(ctx context.Context, ids []string) error {
	if err := w.idx.Delete(ctx, ids); err != nil {
		return err
	}
	_, err := w.meta.Delete(ctx, ids)
	return err
}
