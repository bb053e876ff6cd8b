package ingest

import (
	"time"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/ingest/governor"
)

// TerminalState is the run's exit outcome.
type TerminalState string

const (
	StateOK        TerminalState = "ok"
	StatePartial   TerminalState = "partial"
	StateFailed    TerminalState = "failed"
	StateCancelled TerminalState = "cancelled"
)

// FamilyCounters is the per-family breakdown surfaced to the driver.
// Requested counts upstream page dispatches including retries; Received
// counts raw records returned across pages.
type FamilyCounters struct {
	Requested         int64 `json:"requested"`
	Received          int64 `json:"received"`
	Validated         int64 `json:"validated"`
	Stored            int64 `json:"stored"`
	DuplicatesSkipped int64 `json:"duplicates_skipped"`
	FailedValidation  int64 `json:"failed_validation"`
	FailedStore       int64 `json:"failed_store"`
	Retries           int64 `json:"retries"`
	RateLimitWaits    int64 `json:"rate_limit_waits"`
}

// Add accumulates other into c.
func (c *FamilyCounters) Add(other FamilyCounters) {
	c.Requested += other.Requested
	c.Received += other.Received
	c.Validated += other.Validated
	c.Stored += other.Stored
	c.DuplicatesSkipped += other.DuplicatesSkipped
	c.FailedValidation += other.FailedValidation
	c.FailedStore += other.FailedStore
	c.Retries += other.Retries
	c.RateLimitWaits += other.RateLimitWaits
}

// Report is the structured run summary.
type Report struct {
	RunID      string                            `json:"run_id"`
	Mode       Mode                              `json:"mode"`
	State      TerminalState                     `json:"state"`
	StartedAt  time.Time                         `json:"started_at"`
	FinishedAt time.Time                         `json:"finished_at"`
	Windows    int                               `json:"windows"`
	Totals     FamilyCounters                    `json:"totals"`
	PerFamily  map[domain.Family]*FamilyCounters `json:"per_family"`
	Health     []governor.HealthStats            `json:"endpoint_health"`
	Error      string                            `json:"error,omitempty"`
}

func newReport(runID string, mode Mode) *Report {
	return &Report{
		RunID:     runID,
		Mode:      mode,
		State:     StateOK,
		StartedAt: time.Now().UTC(),
		PerFamily: make(map[domain.Family]*FamilyCounters),
	}
}

func (r *Report) family(f domain.Family) *FamilyCounters {
	if c, ok := r.PerFamily[f]; ok {
		return c
	}
	c := &FamilyCounters{}
	r.PerFamily[f] = c
	return c
}

func (r *Report) finish() {
	r.FinishedAt = time.Now().UTC()
	r.Totals = FamilyCounters{}
	for _, c := range r.PerFamily {
		r.Totals.Add(*c)
	}
}
