package ingest

import (
	"context"
	"time"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/ingest/traverse"
	"github.com/capitolmirror/capitolmirror/internal/metrics"
	"github.com/capitolmirror/capitolmirror/internal/upstream"
)

// instrumentedFetcher records per-dispatch metrics around the real fetcher.
type instrumentedFetcher struct {
	inner traverse.PageFetcher
	m     *metrics.Metrics
}

func instrument(inner traverse.PageFetcher, m *metrics.Metrics) traverse.PageFetcher {
	if m == nil {
		return inner
	}
	return &instrumentedFetcher{inner: inner, m: m}
}

func (i *instrumentedFetcher) ListPage(ctx context.Context, f domain.Family, from, to time.Time, offset, limit int) upstream.Page {
	start := time.Now()
	page := i.inner.ListPage(ctx, f, from, to, offset, limit)

	i.m.Requests.WithLabelValues(string(f), string(page.Class)).Inc()
	i.m.PageFetchSeconds.WithLabelValues(string(f)).Observe(time.Since(start).Seconds())
	if page.Class == upstream.ClassRateLimited {
		i.m.RateLimitWaits.WithLabelValues(string(f)).Inc()
	}
	return page
}
