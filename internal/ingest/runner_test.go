package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitolmirror/capitolmirror/internal/config"
	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/metrics"
	"github.com/capitolmirror/capitolmirror/internal/store/memory"
	"github.com/capitolmirror/capitolmirror/internal/upstream"
)

// fakeFetcher serves synthetic single-day pages keyed by the window's from
// date. Classes can be scripted per day to exercise failure paths.
type fakeFetcher struct {
	mu      sync.Mutex
	byDay   map[string][]map[string]any
	classes map[string]upstream.Class
	onFetch func(day string)
	days    []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		byDay:   make(map[string][]map[string]any),
		classes: make(map[string]upstream.Class),
	}
}

func (f *fakeFetcher) ListPage(_ context.Context, _ domain.Family, from, _ time.Time, offset, limit int) upstream.Page {
	f.mu.Lock()
	defer f.mu.Unlock()

	day := from.Format("2006-01-02")
	if offset == 0 {
		f.days = append(f.days, day)
	}
	if f.onFetch != nil {
		f.onFetch(day)
	}
	if class, ok := f.classes[day]; ok {
		return upstream.Page{Offset: offset, Class: class, Err: errors.New("scripted failure")}
	}

	all := f.byDay[day]
	if offset >= len(all) {
		return upstream.Page{Offset: offset, Class: upstream.ClassOK}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return upstream.Page{
		Offset:  offset,
		Class:   upstream.ClassOK,
		Records: all[offset:end],
		Count:   len(all),
		HasNext: end < len(all),
	}
}

func (f *fakeFetcher) fetchedDays() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.days...)
}

func rawBill(day string, number int) map[string]any {
	return map[string]any{
		"congress":   float64(118),
		"type":       "HR",
		"number":     float64(number),
		"title":      "A bill",
		"updateDate": day,
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.API.RateLimit.RequestsPerSecond = 1000
	cfg.API.RateLimit.RetryDelay = 0.001
	cfg.Ingest.Parallel.MaxWorkers = 1
	cfg.Store.Backend = "memory"
	cfg.Store.Deduplication.Enabled = true
	return &cfg
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestRunner(cfg *config.Config, fetcher *fakeFetcher, st *memory.Store, opts ...Option) *Runner {
	m := metrics.New(prometheus.NewRegistry())
	return NewRunner(cfg, fetcher, st, m, opts...)
}

func TestRunRefreshHappyPath(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byDay["2024-01-01"] = []map[string]any{rawBill("2024-01-01", 1), rawBill("2024-01-01", 2)}
	fetcher.byDay["2024-01-02"] = []map[string]any{rawBill("2024-01-02", 3)}
	st := memory.New()

	runner := newTestRunner(testConfig(), fetcher, st)
	report, err := runner.Run(context.Background(), RunRequest{
		Mode:     ModeRefresh,
		From:     day("2024-01-01"),
		To:       day("2024-01-02"),
		Families: []domain.Family{domain.FamilyBill},
	})
	require.NoError(t, err)

	assert.Equal(t, StateOK, report.State)
	assert.Equal(t, 1, report.Windows)
	assert.Equal(t, int64(3), report.Totals.Received)
	assert.Equal(t, int64(3), report.Totals.Validated)
	assert.Equal(t, int64(3), report.Totals.Stored)
	assert.Equal(t, int64(0), report.Totals.FailedValidation)
	assert.Equal(t, []string{"118-hr-1", "118-hr-2", "118-hr-3"}, st.IDs())
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.FinishedAt.IsZero())

	counters, ok := report.PerFamily[domain.FamilyBill]
	require.True(t, ok)
	assert.Equal(t, int64(3), counters.Stored)
}

func TestRunIncrementalWindow(t *testing.T) {
	fetcher := newFakeFetcher()
	st := memory.New()
	now := time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)

	runner := newTestRunner(testConfig(), fetcher, st, WithClock(func() time.Time { return now }))
	report, err := runner.Run(context.Background(), RunRequest{
		Mode:     ModeIncremental,
		Lookback: 1,
		Families: []domain.Family{domain.FamilyBill},
	})
	require.NoError(t, err)

	assert.Equal(t, StateOK, report.State)
	// Lookback 1 covers yesterday plus today, with today's partial day
	// included via the exclusive tomorrow bound.
	assert.Equal(t, []string{"2024-06-09", "2024-06-10"}, fetcher.fetchedDays())
}

func TestRunCountsValidationFailures(t *testing.T) {
	bad := rawBill("2024-01-01", 9)
	delete(bad, "title")
	fetcher := newFakeFetcher()
	fetcher.byDay["2024-01-01"] = []map[string]any{rawBill("2024-01-01", 1), bad}
	st := memory.New()

	runner := newTestRunner(testConfig(), fetcher, st)
	report, err := runner.Run(context.Background(), RunRequest{
		Mode:     ModeRefresh,
		From:     day("2024-01-01"),
		To:       day("2024-01-01"),
		Families: []domain.Family{domain.FamilyBill},
	})
	require.NoError(t, err)

	assert.Equal(t, StateOK, report.State, "rejected records do not degrade the run state")
	assert.Equal(t, int64(2), report.Totals.Received)
	assert.Equal(t, int64(1), report.Totals.Validated)
	assert.Equal(t, int64(1), report.Totals.FailedValidation)
	assert.Equal(t, []string{"118-hr-1"}, st.IDs())
}

func TestRunPermanentFailureYieldsPartial(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byDay["2024-01-01"] = []map[string]any{rawBill("2024-01-01", 1)}
	fetcher.classes["2024-01-02"] = upstream.ClassPermanent
	fetcher.byDay["2024-01-03"] = []map[string]any{rawBill("2024-01-03", 3)}
	st := memory.New()

	runner := newTestRunner(testConfig(), fetcher, st)
	report, err := runner.Run(context.Background(), RunRequest{
		Mode:     ModeRefresh,
		From:     day("2024-01-01"),
		To:       day("2024-01-03"),
		Families: []domain.Family{domain.FamilyBill},
	})
	require.NoError(t, err, "a failed date degrades the run, it does not abort it")

	assert.Equal(t, StatePartial, report.State)
	assert.Equal(t, int64(2), report.Totals.Stored, "the dates around the failure still land")
	assert.Equal(t, []string{"118-hr-1", "118-hr-3"}, st.IDs())
}

func TestRunStorePreflightFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	st := memory.New()
	st.FailDescribe(errors.New("table missing"))

	runner := newTestRunner(testConfig(), fetcher, st)
	report, err := runner.Run(context.Background(), RunRequest{
		Mode:     ModeRefresh,
		From:     day("2024-01-01"),
		To:       day("2024-01-01"),
		Families: []domain.Family{domain.FamilyBill},
	})
	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)
	assert.Contains(t, report.Error, "table missing")
	assert.Empty(t, fetcher.fetchedDays(), "no upstream traffic after a failed preflight")
}

func TestRunUnknownFamilyFails(t *testing.T) {
	runner := newTestRunner(testConfig(), newFakeFetcher(), memory.New())
	report, err := runner.Run(context.Background(), RunRequest{
		Mode:     ModeIncremental,
		Families: []domain.Family{"senator"},
	})
	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)
}

func TestRunRefreshRequiresWindow(t *testing.T) {
	runner := newTestRunner(testConfig(), newFakeFetcher(), memory.New())
	_, err := runner.Run(context.Background(), RunRequest{Mode: ModeRefresh})
	require.Error(t, err)

	_, err = runner.Run(context.Background(), RunRequest{
		Mode: ModeRefresh,
		From: day("2024-01-05"),
		To:   day("2024-01-01"),
	})
	require.Error(t, err, "inverted window")
}

func TestRunPerSessionDedupSpansDates(t *testing.T) {
	// The same bill updated on both days must be stored once when the set
	// survives across dates.
	fetcher := newFakeFetcher()
	fetcher.byDay["2024-01-01"] = []map[string]any{rawBill("2024-01-01", 1)}
	fetcher.byDay["2024-01-02"] = []map[string]any{rawBill("2024-01-02", 1)}
	st := memory.New()

	cfg := testConfig()
	cfg.Store.Deduplication.ResetFrequency = "per_session"
	runner := newTestRunner(cfg, fetcher, st)
	report, err := runner.Run(context.Background(), RunRequest{
		Mode:     ModeRefresh,
		From:     day("2024-01-01"),
		To:       day("2024-01-02"),
		Families: []domain.Family{domain.FamilyBill},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Totals.Stored)
	assert.Equal(t, int64(1), report.Totals.DuplicatesSkipped)
	assert.Equal(t, []string{"118-hr-1"}, st.IDs())
}

func TestRunPerDateDedupResetsBetweenDates(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byDay["2024-01-01"] = []map[string]any{rawBill("2024-01-01", 1)}
	fetcher.byDay["2024-01-02"] = []map[string]any{rawBill("2024-01-02", 1)}
	st := memory.New()

	cfg := testConfig()
	cfg.Store.Deduplication.ResetFrequency = "per_date"
	runner := newTestRunner(cfg, fetcher, st)
	report, err := runner.Run(context.Background(), RunRequest{
		Mode:     ModeRefresh,
		From:     day("2024-01-01"),
		To:       day("2024-01-02"),
		Families: []domain.Family{domain.FamilyBill},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.Totals.Stored, "per-date reset re-offers the id on day two")
	assert.Equal(t, int64(0), report.Totals.DuplicatesSkipped)
}

func TestRunCancellationKeepsCompletedDates(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.byDay["2024-01-01"] = []map[string]any{rawBill("2024-01-01", 1)}
	fetcher.byDay["2024-01-02"] = []map[string]any{rawBill("2024-01-02", 2)}
	st := memory.New()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher.onFetch = func(d string) {
		if d == "2024-01-02" {
			cancel()
		}
	}

	runner := newTestRunner(testConfig(), fetcher, st)
	report, err := runner.Run(ctx, RunRequest{
		Mode:     ModeRefresh,
		From:     day("2024-01-01"),
		To:       day("2024-01-02"),
		Families: []domain.Family{domain.FamilyBill},
	})
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, report.State)
	assert.Equal(t, int64(1), report.Totals.Stored, "only the fully completed date is counted")
	assert.Equal(t, []string{"118-hr-1"}, st.IDs())
}

func TestRunPagination(t *testing.T) {
	var all []map[string]any
	for i := 1; i <= 7; i++ {
		all = append(all, rawBill("2024-01-01", i))
	}
	fetcher := newFakeFetcher()
	fetcher.byDay["2024-01-01"] = all
	st := memory.New()

	cfg := testConfig()
	cfg.Ingest.PageSize = 3
	runner := newTestRunner(cfg, fetcher, st)
	report, err := runner.Run(context.Background(), RunRequest{
		Mode:     ModeRefresh,
		From:     day("2024-01-01"),
		To:       day("2024-01-01"),
		Families: []domain.Family{domain.FamilyBill},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), report.Totals.Stored)
	assert.Equal(t, int64(3), report.Totals.Requested, "three page dispatches for seven records at page size three")
	assert.Equal(t, 7, st.Len())
}
