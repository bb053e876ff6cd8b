// Package ingest is the run driver: it partitions a run request into
// per-family sub-windows, drives a fixed worker pool through the
// fetch→validate→write pipeline, and produces the structured run report.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/capitolmirror/capitolmirror/internal/config"
	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/ingest/dedup"
	"github.com/capitolmirror/capitolmirror/internal/ingest/governor"
	"github.com/capitolmirror/capitolmirror/internal/ingest/traverse"
	"github.com/capitolmirror/capitolmirror/internal/ingest/validate"
	"github.com/capitolmirror/capitolmirror/internal/ingest/writer"
	"github.com/capitolmirror/capitolmirror/internal/metrics"
	"github.com/capitolmirror/capitolmirror/internal/store"
)

// Mode selects how the run's date window is derived.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeRefresh     Mode = "refresh"
	ModeBulk        Mode = "bulk"
)

// RunRequest is the single entry point's argument.
type RunRequest struct {
	Mode     Mode
	From     time.Time       // required for refresh
	To       time.Time       // required for refresh
	Lookback int             // days; used by incremental, defaulted from config
	Families []domain.Family // empty means ALL
}

// Runner wires the four core subsystems for one or more runs. All run
// state (governor, dedup set, report) is scoped per Run call.
type Runner struct {
	cfg     *config.Config
	fetcher traverse.PageFetcher
	store   store.Store
	metrics *metrics.Metrics
	newSet  func(runID string) dedup.Set
	now     func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithDedupFactory overrides how the processed-ID set is built, e.g. to
// back it with Redis.
func WithDedupFactory(fn func(runID string) dedup.Set) Option {
	return func(r *Runner) { r.newSet = fn }
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner builds a run driver.
func NewRunner(cfg *config.Config, fetcher traverse.PageFetcher, st store.Store, m *metrics.Metrics, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		fetcher: fetcher,
		store:   st,
		metrics: m,
		newSet:  func(string) dedup.Set { return dedup.NewMemorySet() },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one ingestion run. The returned report is always non-nil;
// the error is non-nil only for run-level (fatal) conditions.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*Report, error) {
	runID := uuid.NewString()
	report := newReport(runID, req.Mode)
	defer report.finish()

	families, from, to, err := r.resolve(req)
	if err != nil {
		report.State = StateFailed
		report.Error = err.Error()
		return report, err
	}

	if err := r.store.DescribeTable(ctx); err != nil {
		report.State = StateFailed
		report.Error = err.Error()
		return report, fmt.Errorf("store preflight: %w", err)
	}

	minDate, _ := time.Parse("2006-01-02", r.cfg.Ingest.DateRanges.MinDate)
	var queue []traverse.Window
	for _, f := range families {
		queue = append(queue, traverse.Split(f, from, to, r.cfg.Ingest.DateRanges.MaxRangeDays, minDate)...)
	}
	report.Windows = len(queue)

	log.Info().
		Str("run_id", runID).
		Str("mode", string(req.Mode)).
		Time("from", from).
		Time("to", to).
		Int("families", len(families)).
		Int("windows", len(queue)).
		Msg("run starting")

	if len(queue) == 0 {
		return report, nil
	}

	gov := governor.New(r.cfg)
	set := r.newSet(runID)
	engine := traverse.New(instrument(r.fetcher, r.metrics), gov, r.cfg.Ingest.PageSize, r.cfg.API.RateLimit.Retries())
	wr := writer.New(r.store, set, writer.Config{
		BatchSize:         r.cfg.Ingest.BatchSize,
		MaxRetries:        r.cfg.API.RateLimit.Retries(),
		RetryDelay:        time.Duration(r.cfg.API.RateLimit.RetryDelay * float64(time.Second)),
		DedupEnabled:      r.cfg.Store.Deduplication.Enabled,
		MemoryThresholdMB: r.cfg.Store.Deduplication.MemoryThresholdMB,
	})

	run := &runState{
		runner:  r,
		gov:     gov,
		engine:  engine,
		writer:  wr,
		report:  report,
		resetAt: r.cfg.Store.Deduplication.ResetFrequency,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Sub-windows are queued in stable family order with each family's
	// oldest window first; the channel preserves that dispatch order.
	work := make(chan traverse.Window, r.cfg.Ingest.Parallel.ChunkSize)
	workers := r.cfg.Ingest.Parallel.MaxWorkers

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for win := range work {
				if runCtx.Err() != nil {
					continue // drain without processing
				}
				if err := run.processWindow(runCtx, win); err != nil {
					run.recordFatal(err)
					cancel()
				}
			}
		}()
	}

feed:
	for _, win := range queue {
		select {
		case work <- win:
		case <-runCtx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	report.Health = gov.Snapshot()
	for f := range report.PerFamily {
		report.PerFamily[f].RateLimitWaits = gov.RateLimitWaits(f)
	}
	run.settle(ctx, report)

	if report.State == StateFailed {
		return report, errors.New(report.Error)
	}
	return report, nil
}

// resolve derives the family set and date window from the request mode.
func (r *Runner) resolve(req RunRequest) ([]domain.Family, time.Time, time.Time, error) {
	families := req.Families
	if len(families) == 0 {
		families = domain.Families()
	}
	for _, f := range families {
		if !f.Valid() {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("unknown family %q", f)
		}
	}

	now := r.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch req.Mode {
	case ModeIncremental:
		lookback := req.Lookback
		if lookback <= 0 {
			lookback = r.cfg.Ingest.DefaultLookbackDays
		}
		return families, today.AddDate(0, 0, -lookback), today.AddDate(0, 0, 1), nil
	case ModeRefresh:
		if req.From.IsZero() || req.To.IsZero() {
			return nil, time.Time{}, time.Time{}, errors.New("refresh mode requires an explicit window")
		}
		if req.To.Before(req.From) {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("window inverted: %s after %s",
				req.From.Format("2006-01-02"), req.To.Format("2006-01-02"))
		}
		return families, req.From, req.To.AddDate(0, 0, 1), nil
	case ModeBulk:
		minDate, err := time.Parse("2006-01-02", r.cfg.Ingest.DateRanges.MinDate)
		if err != nil {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("invalid min_date: %w", err)
		}
		return families, minDate, today.AddDate(0, 0, 1), nil
	default:
		return nil, time.Time{}, time.Time{}, fmt.Errorf("unknown mode %q", req.Mode)
	}
}

// runState is the shared mutable state of one run.
type runState struct {
	runner  *Runner
	gov     *governor.Governor
	engine  *traverse.Engine
	writer  *writer.Writer
	report  *Report
	resetAt string

	mu       sync.Mutex
	fatalErr error
	partial  bool
}

func (s *runState) recordFatal(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
}

func (s *runState) markPartial() {
	s.mu.Lock()
	s.partial = true
	s.mu.Unlock()
}

// merge folds a completed date's counters into the shared report.
func (s *runState) merge(f domain.Family, c FamilyCounters) {
	s.mu.Lock()
	s.report.family(f).Add(c)
	s.mu.Unlock()

	m := s.runner.metrics
	if m != nil {
		m.ObserveFamily(m.RecordsReceived, f, float64(c.Received))
		m.ObserveFamily(m.RecordsValidated, f, float64(c.Validated))
		m.ObserveFamily(m.RecordsStored, f, float64(c.Stored))
		m.ObserveFamily(m.DuplicatesSkipped, f, float64(c.DuplicatesSkipped))
		m.ObserveFamily(m.ValidationFailures, f, float64(c.FailedValidation))
		m.ObserveFamily(m.StoreFailures, f, float64(c.FailedStore))
		m.ObserveFamily(m.Retries, f, float64(c.Retries))
	}
}

// processWindow drives one sub-window through its state machine:
// READY → FETCHING → WRITING → DONE, with BACKOFF handled inside the
// traversal's bounded retries. A returned error is fatal for the run.
func (s *runState) processWindow(ctx context.Context, win traverse.Window) error {
	if s.resetAt == "per_range" {
		if err := s.writer.ResetDedup(ctx); err != nil {
			return fmt.Errorf("dedup reset: %w", err)
		}
	}

	for _, day := range win.Days() {
		if err := ctx.Err(); err != nil {
			// Mid-window cancellation: completed dates are already merged.
			return nil
		}
		if s.resetAt == "per_date" {
			if err := s.writer.ResetDedup(ctx); err != nil {
				return fmt.Errorf("dedup reset: %w", err)
			}
		}
		done, err := s.processDate(ctx, win.Family, day)
		if err != nil {
			return err
		}
		if !done {
			return nil // cancelled mid-date; drop the date's partial counts
		}
	}
	return nil
}

// processDate traverses one calendar date for a family, validating and
// writing in page-sized batches. It returns done=false when cancelled
// before the date finished.
func (s *runState) processDate(ctx context.Context, f domain.Family, day time.Time) (bool, error) {
	var counters FamilyCounters
	var pending []*domain.Record
	var fatal error

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		stats, err := s.writer.Write(ctx, pending)
		pending = pending[:0]
		counters.Stored += stats.Stored
		counters.DuplicatesSkipped += stats.Duplicates
		counters.FailedStore += stats.Failed
		counters.Retries += stats.Retries
		return err
	}

	res := s.engine.Traverse(ctx, f, day, day.AddDate(0, 0, 1), func(raw map[string]any) error {
		counters.Received++
		rec, verr := validate.Normalize(f, raw)
		if verr != nil {
			counters.FailedValidation++
			log.Debug().
				Str("family", string(f)).
				Str("date", day.Format("2006-01-02")).
				Err(verr).
				Msg("record failed validation")
			return nil
		}
		counters.Validated++
		pending = append(pending, rec)
		if len(pending) >= s.runner.cfg.Ingest.BatchSize {
			if err := s.flushGuard(flush()); err != nil {
				fatal = err
				return traverse.ErrStopEmission
			}
		}
		return nil
	})

	counters.Requested += int64(res.Pages + res.Retries)
	counters.Retries += int64(res.Retries)

	if fatal != nil {
		return false, fatal
	}

	switch res.Outcome {
	case traverse.OutcomeCancelled:
		return false, nil
	case traverse.OutcomeFailed:
		s.markPartial()
		log.Error().
			Str("family", string(f)).
			Str("date", day.Format("2006-01-02")).
			Str("kind", string(res.Kind)).
			Err(res.Err).
			Msg("sub-window date failed")
		s.merge(f, counters)
		return true, nil
	case traverse.OutcomePartial:
		s.markPartial()
	}

	if err := s.flushGuard(flush()); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, nil
	}
	s.merge(f, counters)
	return true, nil
}

// flushGuard separates fatal store conditions from cancellation.
func (s *runState) flushGuard(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// settle computes the terminal state once all workers have drained.
func (s *runState) settle(ctx context.Context, report *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.fatalErr != nil:
		report.State = StateFailed
		report.Error = s.fatalErr.Error()
	case ctx.Err() != nil:
		report.State = StateCancelled
	case s.partial:
		report.State = StatePartial
	default:
		report.State = StateOK
	}
	log.Info().
		Str("run_id", report.RunID).
		Str("state", string(report.State)).
		Msg("run finished")
}
