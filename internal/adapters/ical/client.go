package ical

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hoostn/internal/adapters/observability"
	"hoostn/internal/domain"
)

// maxFeedBytes caps how much feed we are willing to read; calendar feeds are
// small and an unbounded body is a liability.
const maxFeedBytes = 4 << 20

// Client fetches external calendar feeds. One client is shared by all sync
// workers; the rate limiter bounds total outbound pressure. A timed-out
// fetch surfaces exactly like a network failure: one connection-level error.
type Client struct {
	hc  *http.Client
	rl  *rate.Limiter
	now func() time.Time
}

func New(timeout time.Duration, rps int) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		hc:  &http.Client{Timeout: timeout},
		rl:  rate.NewLimiter(rate.Limit(rps), rps),
		now: time.Now,
	}
}

// Fetch retrieves and parses the connection's feed into normalized events.
func (c *Client) Fetch(ctx context.Context, conn domain.Connection) ([]domain.ExternalEvent, error) {
	body, err := c.get(ctx, conn.FeedURL)
	if err != nil {
		return nil, err
	}
	events, err := Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	fetched := c.now().UTC()
	for i := range events {
		events[i].ConnectionID = conn.ID
		events[i].FetchedAt = fetched
	}
	return events, nil
}

// get performs the GET with client-side rate limiting and retries on 429 and
// transient 5xx, honoring Retry-After when provided.
func (c *Client) get(ctx context.Context, feedURL string) ([]byte, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	host := hostLabel(feedURL)

	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/calendar, text/plain;q=0.5")
		req.Header.Set("User-Agent", "hoostn-sync/1.0")

		start := c.now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveFeedFetch(host, 0, c.now().Sub(start))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			return nil, lastErr
		}
		observability.ObserveFeedFetch(host, resp.StatusCode, c.now().Sub(start))

		switch resp.StatusCode {
		case http.StatusOK:
			b, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
			resp.Body.Close()
			if err != nil {
				return nil, err
			}
			return b, nil

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("feed responded %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}
	return nil, lastErr
}

func hostLabel(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return "invalid"
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if
// absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential delay (200ms, 400ms, 800ms...) with up to
// +50% concurrency-safe jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
