// Package governor paces upstream dispatch per family. It combines a fixed
// base interval, bounded jitter, an exponential backoff multiplier driven by
// consecutive errors, and an AIMD health factor driven by the rolling error
// pattern. A process-wide token bucket additionally caps aggregate politeness
// across families.
package governor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/capitolmirror/capitolmirror/internal/config"
	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/upstream"
)

const (
	jitterFraction = 0.15
	backoffCeiling = 120.0
	healthFloor    = 1.0
	healthCeiling  = 8.0
	healthIncrease = 0.5 // additive, on transient failure
	healthDecay    = 0.9 // multiplicative, on success
	hintJitterCap  = 500 * time.Millisecond
)

type familyState struct {
	consecutiveErrors int
	healthFactor      float64
	lastDispatch      time.Time
	retryAfterHint    time.Duration
	rateLimitWaits    int64
	failures          int64
	successes         int64
}

// HealthStats is a read-only snapshot of one family's pacing state.
type HealthStats struct {
	Family            domain.Family `json:"family"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	HealthFactor      float64       `json:"health_factor"`
	EffectiveRate     float64       `json:"effective_rate"`
	ErrorRate         float64       `json:"error_rate"`
	RateLimitWaits    int64         `json:"rate_limit_waits"`
}

// Governor is the shared, thread-safe pacing component. It is run-scoped:
// construct one per run and hand it to every worker.
type Governor struct {
	mu     sync.Mutex
	cfg    *config.Config
	states map[domain.Family]*familyState
	global *rate.Limiter
	rng    *rand.Rand

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a governor from the run configuration.
func New(cfg *config.Config) *Governor {
	burst := int(math.Ceil(cfg.API.RateLimit.RequestsPerSecond))
	if burst < 1 {
		burst = 1
	}
	return &Governor{
		cfg:    cfg,
		states: make(map[domain.Family]*familyState),
		global: rate.NewLimiter(rate.Limit(cfg.API.RateLimit.RequestsPerSecond*2), burst*2),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Governor) state(f domain.Family) *familyState {
	if st, ok := g.states[f]; ok {
		return st
	}
	st := &familyState{healthFactor: healthFloor}
	g.states[f] = st
	return st
}

// interval computes the wait the formula demands for the family's current
// state, before accounting for time already elapsed since last dispatch.
func (g *Governor) interval(st *familyState, f domain.Family) time.Duration {
	base := 1.0 / g.cfg.RateFor(f)
	jitter := (g.rng.Float64()*2 - 1) * jitterFraction * base

	multiplier := 1.0
	if st.consecutiveErrors > 0 {
		multiplier = math.Min(math.Pow(2, float64(st.consecutiveErrors+1)), backoffCeiling)
	}

	secs := (base + jitter) * st.healthFactor * multiplier
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Wait suspends the caller until the family may dispatch. It returns the
// time actually waited. On cancellation it returns promptly with ctx's
// error; the caller treats that as cancelled, not failed.
//
// The family's slot is reserved under the lock before sleeping: lastDispatch
// is advanced to the scheduled dispatch time, so concurrent waiters on one
// family queue behind each other instead of sharing the same interval.
func (g *Governor) Wait(ctx context.Context, f domain.Family) (time.Duration, error) {
	g.mu.Lock()
	st := g.state(f)

	var wait time.Duration
	if hint := st.retryAfterHint; hint > 0 {
		// Upstream told us when to come back; trust it over our own math.
		wait = hint + time.Duration(g.rng.Int63n(int64(hintJitterCap)))
		st.retryAfterHint = 0
		st.rateLimitWaits++
	} else {
		// Subtracting elapsed credits idle time; when lastDispatch is a
		// reservation still in the future, the subtraction goes negative and
		// extends the wait past it.
		wait = g.interval(st, f) - g.now().Sub(st.lastDispatch)
	}
	if wait < 0 {
		wait = 0
	}
	st.lastDispatch = g.now().Add(wait)
	g.mu.Unlock()

	if wait > 0 {
		if err := g.sleep(ctx, wait); err != nil {
			return 0, err
		}
	}

	if err := g.global.Wait(ctx); err != nil {
		return wait, err
	}
	return wait, nil
}

// Observe feeds an outcome tag back into the family's health state.
// Permanent outcomes are caller bugs or data problems, not upstream health,
// and leave pacing untouched.
func (g *Governor) Observe(f domain.Family, class upstream.Class, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.state(f)
	switch class {
	case upstream.ClassOK:
		st.successes++
		st.consecutiveErrors = 0
		st.healthFactor = math.Max(healthFloor, st.healthFactor*healthDecay)
	case upstream.ClassTransient, upstream.ClassTimeout:
		st.failures++
		st.consecutiveErrors++
		st.healthFactor = math.Min(healthCeiling, st.healthFactor+healthIncrease)
	case upstream.ClassRateLimited:
		st.failures++
		st.consecutiveErrors++
		st.healthFactor = math.Min(healthCeiling, st.healthFactor+healthIncrease)
		if retryAfter > 0 {
			st.retryAfterHint = retryAfter
		} else if st.retryAfterHint == 0 {
			st.retryAfterHint = time.Duration(g.cfg.API.RateLimit.RetryDelay * float64(time.Second))
		}
		log.Warn().
			Str("family", string(f)).
			Dur("retry_after", st.retryAfterHint).
			Msg("rate limited by upstream")
	case upstream.ClassPermanent:
		// No pacing change.
	}
}

// RateLimitWaits returns the number of Retry-After waits honored for a
// family so far this run.
func (g *Governor) RateLimitWaits(f domain.Family) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state(f).rateLimitWaits
}

// Snapshot reports pacing state for every family touched this run.
func (g *Governor) Snapshot() []HealthStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := make([]HealthStats, 0, len(g.states))
	for _, f := range domain.Families() {
		st, ok := g.states[f]
		if !ok {
			continue
		}
		total := st.failures + st.successes
		errRate := 0.0
		if total > 0 {
			errRate = float64(st.failures) / float64(total)
		}
		multiplier := 1.0
		if st.consecutiveErrors > 0 {
			multiplier = math.Min(math.Pow(2, float64(st.consecutiveErrors+1)), backoffCeiling)
		}
		stats = append(stats, HealthStats{
			Family:            f,
			ConsecutiveErrors: st.consecutiveErrors,
			HealthFactor:      st.healthFactor,
			EffectiveRate:     g.cfg.RateFor(f) / (st.healthFactor * multiplier),
			ErrorRate:         errRate,
			RateLimitWaits:    st.rateLimitWaits,
		})
	}
	return stats
}
