// Package traverse walks a family's paginated list endpoints for a date
// window and emits raw records one at a time, in upstream order. Pacing is
// delegated to the governor; page-level retries happen here.
package traverse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/upstream"
)

// Outcome is the terminal state of one traversal call.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// DefaultPageCap bounds runaway pagination when upstream keeps reporting a
// next page.
const DefaultPageCap = 10000

// ErrStopEmission aborts traversal from inside the emit callback without
// marking the window failed.
var ErrStopEmission = errors.New("emission stopped by consumer")

// Result summarizes one traversal.
type Result struct {
	Outcome    Outcome
	Reason     string
	Kind       upstream.Class // set when Outcome is failed
	LastOffset int
	Pages      int
	Records    int
	Retries    int
	Err        error
}

// PageFetcher is the slice of the upstream client the engine needs.
type PageFetcher interface {
	ListPage(ctx context.Context, f domain.Family, from, to time.Time, offset, limit int) upstream.Page
}

// Pacer is the slice of the governor the engine needs.
type Pacer interface {
	Wait(ctx context.Context, f domain.Family) (time.Duration, error)
	Observe(f domain.Family, class upstream.Class, retryAfter time.Duration)
}

// Engine traverses list endpoints. Safe for concurrent use; all mutable
// state is per-call.
type Engine struct {
	fetcher    PageFetcher
	pacer      Pacer
	pageSize   int
	maxRetries int
	pageCap    int
}

// New builds an engine. maxRetries of zero means a failed page is never
// refetched.
func New(fetcher PageFetcher, pacer Pacer, pageSize, maxRetries int) *Engine {
	if pageSize <= 0 {
		pageSize = 250
	}
	return &Engine{
		fetcher:    fetcher,
		pacer:      pacer,
		pageSize:   pageSize,
		maxRetries: maxRetries,
		pageCap:    DefaultPageCap,
	}
}

// Traverse enumerates every record in [from, to) for the family, invoking
// emit once per raw record in upstream page order. No record is emitted
// twice in one call. emit returning an error aborts the walk; returning
// ErrStopEmission yields a partial outcome, anything else a failed one.
func (e *Engine) Traverse(ctx context.Context, f domain.Family, from, to time.Time, emit func(raw map[string]any) error) Result {
	res := Result{Outcome: OutcomeCompleted}
	if !from.Before(to) {
		// Zero-day window: nothing to ask for.
		return res
	}

	offset := 0
	for pages := 0; pages < e.pageCap; pages++ {
		page, retries, err := e.fetchPage(ctx, f, from, to, offset)
		res.Retries += retries
		res.LastOffset = offset
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				res.Outcome = OutcomeCancelled
				res.Err = err
				return res
			}
			res.Outcome = OutcomePartial
			res.Reason = "retries_exhausted"
			res.Err = err
			return res
		}
		if page.Class == upstream.ClassPermanent {
			res.Outcome = OutcomeFailed
			res.Kind = upstream.ClassPermanent
			res.Reason = fmt.Sprintf("permanent failure at offset %d", offset)
			res.Err = page.Err
			log.Error().
				Err(page.Err).
				Str("family", string(f)).
				Int("offset", offset).
				Msg("page failed permanently")
			return res
		}

		res.Pages++
		for _, raw := range page.Records {
			if err := emit(raw); err != nil {
				if errors.Is(err, ErrStopEmission) {
					res.Outcome = OutcomePartial
					res.Reason = "consumer stopped"
					return res
				}
				res.Outcome = OutcomeFailed
				res.Kind = upstream.ClassPermanent
				res.Reason = "consumer error"
				res.Err = err
				return res
			}
			res.Records++
		}

		if len(page.Records) == 0 || !page.HasNext {
			return res
		}
		offset += len(page.Records)
	}

	res.Outcome = OutcomePartial
	res.Reason = "page cap reached"
	return res
}

// fetchPage fetches one page, retrying retryable classes up to maxRetries
// with the governor's adaptive wait between attempts.
func (e *Engine) fetchPage(ctx context.Context, f domain.Family, from, to time.Time, offset int) (upstream.Page, int, error) {
	retries := 0
	for attempt := 0; ; attempt++ {
		if _, err := e.pacer.Wait(ctx, f); err != nil {
			return upstream.Page{}, retries, err
		}

		page := e.fetcher.ListPage(ctx, f, from, to, offset, e.pageSize)
		e.pacer.Observe(f, page.Class, page.RetryAfter)

		switch page.Class {
		case upstream.ClassOK, upstream.ClassPermanent:
			return page, retries, nil
		case upstream.ClassTransient, upstream.ClassRateLimited, upstream.ClassTimeout:
			if ctx.Err() != nil {
				return upstream.Page{}, retries, ctx.Err()
			}
			if attempt >= e.maxRetries {
				return upstream.Page{}, retries, fmt.Errorf("page at offset %d: %w", offset, page.Err)
			}
			retries++
			log.Debug().
				Str("family", string(f)).
				Int("offset", offset).
				Int("attempt", attempt+1).
				Str("class", string(page.Class)).
				Msg("retrying page")
		default:
			return upstream.Page{}, retries, fmt.Errorf("unknown outcome class %q", page.Class)
		}
	}
}
