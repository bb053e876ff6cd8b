// Package upstream implements the Congress.gov v3 HTTP client. It fetches a
// single list page per call; pacing belongs to the governor and retries to
// the traversal engine. Every result carries a Class so callers never branch
// on raw status codes.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/capitolmirror/capitolmirror/internal/config"
	"github.com/capitolmirror/capitolmirror/internal/domain"
)

// Class tags the outcome of one upstream call for the governor.
type Class string

const (
	ClassOK          Class = "ok"
	ClassTransient   Class = "transient"
	ClassRateLimited Class = "rate_limited"
	ClassPermanent   Class = "permanent"
	ClassTimeout     Class = "timeout"
)

// ErrMissingAPIKey is returned by New when no key is configured. Fatal for
// the run.
var ErrMissingAPIKey = errors.New("congress.gov API key not found in environment")

// Page is one decoded list page.
type Page struct {
	Records    []map[string]any
	Count      int  // pagination.count when present
	HasNext    bool // pagination.next present
	Offset     int  // offset this page was requested at
	Class      Class
	RetryAfter time.Duration // >0 only when Class is rate_limited and upstream hinted
	Err        error
}

// Client is the typed Congress.gov API client. One *http.Client per family
// so per-family (connect, read) timeouts hold even with pooled connections.
type Client struct {
	baseURL  string
	apiKey   string
	cfg      *config.Config
	mu       sync.Mutex
	clients  map[domain.Family]*http.Client
	breakers map[domain.Family]*gobreaker.CircuitBreaker
}

// New builds a client. The API key comes from secrets, never from cfg.
func New(cfg *config.Config, secrets config.Secrets) (*Client, error) {
	if secrets.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &Client{
		baseURL:  cfg.API.BaseURL,
		apiKey:   secrets.APIKey,
		cfg:      cfg,
		clients:  make(map[domain.Family]*http.Client),
		breakers: make(map[domain.Family]*gobreaker.CircuitBreaker),
	}, nil
}

func (c *Client) httpClient(f domain.Family) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[f]; ok {
		return hc
	}
	tc := c.cfg.TimeoutsFor(f)
	hc := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: tc.ConnectDuration(),
			}).DialContext,
			ResponseHeaderTimeout: tc.ReadDuration(),
			MaxIdleConnsPerHost:   4,
		},
	}
	c.clients[f] = hc
	return hc
}

func (c *Client) breaker(f domain.Family) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if br, ok := c.breakers[f]; ok {
		return br
	}
	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(f),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("family", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream circuit state change")
		},
	})
	c.breakers[f] = br
	return br
}

// ListPage fetches one page of a family's list endpoint for a date window.
// The returned Page always has a Class; Err is set for everything but
// ClassOK.
func (c *Client) ListPage(ctx context.Context, f domain.Family, from, to time.Time, offset, limit int) Page {
	spec, ok := endpoints[f]
	if !ok {
		return Page{Offset: offset, Class: ClassPermanent, Err: fmt.Errorf("no endpoint for family %q", f)}
	}

	params := url.Values{}
	params.Set("fromDateTime", from.UTC().Format("2006-01-02T15:04:05Z"))
	params.Set("toDateTime", to.UTC().Format("2006-01-02T15:04:05Z"))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("format", "json")

	reqURL := c.baseURL + spec.path + "?" + params.Encode()

	var page Page
	_, err := c.breaker(f).Execute(func() (any, error) {
		page = c.fetch(ctx, f, spec, reqURL, offset)
		if page.Class == ClassTransient || page.Class == ClassTimeout {
			return nil, page.Err
		}
		// Permanent failures are ours, not the upstream's health, and
		// rate limiting is pacing: the governor handles it, and opening
		// the circuit here would discard the Retry-After hint.
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Page{Offset: offset, Class: ClassTransient, Err: fmt.Errorf("circuit open for %s: %w", f, err)}
	}
	return page
}

func (c *Client) fetch(ctx context.Context, f domain.Family, spec endpointSpec, reqURL string, offset int) Page {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Page{Offset: offset, Class: ClassPermanent, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient(f).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Page{Offset: offset, Class: ClassTimeout, Err: ctx.Err()}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Page{Offset: offset, Class: ClassTimeout, Err: err}
		}
		return Page{Offset: offset, Class: ClassTransient, Err: err}
	}
	defer resp.Body.Close()

	log.Debug().
		Str("family", string(f)).
		Int("offset", offset).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("upstream page fetched")

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.decode(resp.Body, spec, offset)
	case resp.StatusCode == http.StatusTooManyRequests:
		return Page{
			Offset:     offset,
			Class:      ClassRateLimited,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("rate limited by upstream (HTTP 429)"),
		}
	case resp.StatusCode >= 500:
		return Page{Offset: offset, Class: ClassTransient, Err: fmt.Errorf("upstream HTTP %d", resp.StatusCode)}
	default:
		// 4xx other than 429: bad key, bad endpoint, bad params.
		return Page{Offset: offset, Class: ClassPermanent, Err: fmt.Errorf("upstream HTTP %d", resp.StatusCode)}
	}
}

func (c *Client) decode(body io.Reader, spec endpointSpec, offset int) Page {
	var envelope map[string]json.RawMessage
	dec := json.NewDecoder(body)
	if err := dec.Decode(&envelope); err != nil {
		return Page{Offset: offset, Class: ClassPermanent, Err: fmt.Errorf("malformed page at offset %d: %w", offset, err)}
	}

	page := Page{Offset: offset, Class: ClassOK}

	if raw, ok := envelope["pagination"]; ok {
		var pag struct {
			Count int    `json:"count"`
			Next  string `json:"next"`
		}
		if err := json.Unmarshal(raw, &pag); err == nil {
			page.Count = pag.Count
			page.HasNext = pag.Next != ""
		}
	}

	raw, ok := envelope[spec.listKey]
	if !ok {
		// An empty window may omit the list key entirely.
		return page
	}
	if err := json.Unmarshal(raw, &page.Records); err != nil {
		return Page{Offset: offset, Class: ClassPermanent, Err: fmt.Errorf("malformed record list at offset %d: %w", offset, err)}
	}
	return page
}

// Ping performs a lightweight health probe against the bill endpoint.
func (c *Client) Ping(ctx context.Context) error {
	params := url.Values{}
	params.Set("limit", "1")
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bill?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient(domain.FamilyBill).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusForbidden:
		return fmt.Errorf("invalid or expired API key (HTTP 403)")
	default:
		return fmt.Errorf("upstream HTTP %d", resp.StatusCode)
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
