// Package writer issues deduplicated, batched writes to the store. Within a
// run each id is stored at most once: the processed-ID set is authoritative
// and no read-before-write is ever performed.
package writer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/ingest/dedup"
	"github.com/capitolmirror/capitolmirror/internal/store"
)

// Config tunes one writer.
type Config struct {
	BatchSize         int
	MaxRetries        int
	RetryDelay        time.Duration // base backoff for throughput retries
	DedupEnabled      bool
	MemoryThresholdMB int
}

// Stats reports one Write call's effects.
type Stats struct {
	Offered    int64
	Stored     int64
	Duplicates int64
	Failed     int64
	Retries    int64
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Offered += other.Offered
	s.Stored += other.Stored
	s.Duplicates += other.Duplicates
	s.Failed += other.Failed
	s.Retries += other.Retries
}

// Writer is safe for concurrent use; workers share one instance per run.
type Writer struct {
	store store.Store
	set   dedup.Set
	cfg   Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a writer over a store adapter and a processed-ID set.
func New(st store.Store, set dedup.Set, cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Writer{
		store: st,
		set:   set,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ResetDedup clears the processed-ID set; the runner calls this at the
// configured boundary.
func (w *Writer) ResetDedup(ctx context.Context) error {
	return w.set.Reset(ctx)
}

// Write offers a sequence of canonical records. Duplicates (already in the
// set, or repeated within recs) are skipped; survivors are written in
// batches with per-item outcomes and bounded retries. A fatal store outcome
// aborts with store.ErrAuthFailed or store.ErrTableMissing.
func (w *Writer) Write(ctx context.Context, recs []*domain.Record) (Stats, error) {
	var stats Stats
	stats.Offered = int64(len(recs))

	if err := w.enforceMemoryBound(ctx); err != nil {
		return stats, err
	}

	survivors, dups, err := w.filter(ctx, recs)
	if err != nil {
		return stats, err
	}
	stats.Duplicates = dups

	for start := 0; start < len(survivors); start += w.cfg.BatchSize {
		end := start + w.cfg.BatchSize
		if end > len(survivors) {
			end = len(survivors)
		}
		if err := ctx.Err(); err != nil {
			// Cancellation drops the batches not yet issued.
			return stats, err
		}
		batchStats, err := w.writeBatch(ctx, survivors[start:end])
		stats.Add(batchStats)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (w *Writer) filter(ctx context.Context, recs []*domain.Record) ([]*domain.Record, int64, error) {
	if !w.cfg.DedupEnabled {
		return recs, 0, nil
	}
	var dups int64
	inBatch := make(map[string]struct{}, len(recs))
	survivors := make([]*domain.Record, 0, len(recs))
	for _, rec := range recs {
		if _, ok := inBatch[rec.ID]; ok {
			dups++
			continue
		}
		seen, err := w.set.Seen(ctx, rec.ID)
		if err != nil {
			return nil, dups, fmt.Errorf("dedup lookup: %w", err)
		}
		if seen {
			dups++
			continue
		}
		inBatch[rec.ID] = struct{}{}
		survivors = append(survivors, rec)
	}
	return survivors, dups, nil
}

// writeBatch issues one batch with retry on retryable subsets.
func (w *Writer) writeBatch(ctx context.Context, batch []*domain.Record) (Stats, error) {
	var stats Stats
	pending := batch

	for attempt := 0; ; attempt++ {
		results, err := w.store.BatchPut(ctx, pending)
		if err != nil {
			return stats, err
		}

		byID := make(map[string]*domain.Record, len(pending))
		for _, rec := range pending {
			byID[rec.ID] = rec
		}

		// Classify the whole result set before acting on any of it: a fatal
		// entry must not hide OK items the backend already stored after it.
		var storedIDs []string
		var retryable []*domain.Record
		var fatal store.Outcome
		for _, r := range results {
			switch {
			case r.Outcome == store.OutcomeOK:
				storedIDs = append(storedIDs, r.ID)
			case r.Outcome.Fatal():
				fatal = r.Outcome
			case r.Outcome.Retryable():
				if rec, ok := byID[r.ID]; ok {
					retryable = append(retryable, rec)
				}
			default:
				// Item-permanent: drop the one item, record it, continue.
				stats.Failed++
				log.Warn().
					Str("id", r.ID).
					Str("outcome", string(r.Outcome)).
					Err(r.Err).
					Msg("record rejected by store")
			}
		}

		stats.Stored += int64(len(storedIDs))
		if w.cfg.DedupEnabled && len(storedIDs) > 0 {
			if err := w.set.Mark(ctx, storedIDs...); err != nil {
				return stats, fmt.Errorf("dedup mark: %w", err)
			}
		}

		if fatal != "" {
			if fatal == store.OutcomeAuthFailed {
				return stats, fmt.Errorf("batch write: %w", store.ErrAuthFailed)
			}
			return stats, fmt.Errorf("batch write: %w", store.ErrTableMissing)
		}

		if len(retryable) == 0 {
			return stats, nil
		}
		if attempt >= w.cfg.MaxRetries {
			stats.Failed += int64(len(retryable))
			log.Error().
				Int("count", len(retryable)).
				Int("attempts", attempt+1).
				Msg("batch retries exhausted, dropping unstored subset")
			return stats, nil
		}

		stats.Retries++
		if err := w.backoff(ctx, attempt); err != nil {
			return stats, err
		}
		pending = retryable
	}
}

// backoff sleeps base·2^attempt plus up to 50% jitter, observing ctx.
func (w *Writer) backoff(ctx context.Context, attempt int) error {
	d := time.Duration(float64(w.cfg.RetryDelay) * math.Pow(2, float64(attempt)))
	w.mu.Lock()
	d += time.Duration(w.rng.Int63n(int64(d)/2 + 1))
	w.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enforceMemoryBound force-resets the set with a warning when it exceeds
// the advisory cap.
func (w *Writer) enforceMemoryBound(ctx context.Context) error {
	if !w.cfg.DedupEnabled || w.cfg.MemoryThresholdMB <= 0 {
		return nil
	}
	if w.set.ApproxBytes() <= int64(w.cfg.MemoryThresholdMB)*1024*1024 {
		return nil
	}
	n, _ := w.set.Len(ctx)
	log.Warn().
		Int64("ids", n).
		Int("threshold_mb", w.cfg.MemoryThresholdMB).
		Msg("processed-ID set exceeded memory threshold, forcing reset")
	return w.set.Reset(ctx)
}
