package hlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
	"github.com/ygarg25/hyperliquid-exporter/internal/ratelimit"
)

const requestType = "validatorSummaries"

// Client fetches validator roster snapshots from the info endpoint.
// Every network call goes through the rate limiter; transport and non-2xx
// failures are retried per the policy; a short-lived cache plus
// singleflight keeps multiple consumers in the same poll cycle from
// duplicating I/O.
type Client struct {
	endpoint string
	httpc    *http.Client
	limiter  *ratelimit.Limiter
	policy   RetryPolicy
	cacheTTL time.Duration

	mu        sync.Mutex
	cached    *Roster
	fetchedAt time.Time

	group singleflight.Group

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(endpoint string, timeout time.Duration, limiter *ratelimit.Limiter, policy RetryPolicy, cacheTTL time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: timeout},
		limiter:  limiter,
		policy:   policy,
		cacheTTL: cacheTTL,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// FetchRoster returns the latest roster snapshot, serving from cache
// when the previous fetch is still fresh.
func (c *Client) FetchRoster(ctx context.Context) (*Roster, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.fetchedAt) < c.cacheTTL {
		roster := c.cached
		c.mu.Unlock()
		return roster, nil
	}
	c.mu.Unlock()

	return c.fetchShared(ctx)
}

// FetchRosterFresh bypasses the cache AND the shared-fetch group. Used
// for the settle re-check after a remediation attempt: joining a flight
// that started before the action landed would hand back a pre-action
// snapshot and mask the outcome.
func (c *Client) FetchRosterFresh(ctx context.Context) (*Roster, error) {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
	return c.fetchWithRetry(ctx)
}

// FindValidator resolves a single validator from the (possibly cached)
// roster. found=false with a nil error means the fetch worked but the
// address is not in the snapshot.
func (c *Client) FindValidator(ctx context.Context, address string) (ValidatorSummary, bool, error) {
	roster, err := c.FetchRoster(ctx)
	if err != nil {
		return ValidatorSummary{}, false, err
	}
	v, ok := roster.Find(address)
	return v, ok, nil
}

// fetchShared collapses concurrent fetches into one network call.
func (c *Client) fetchShared(ctx context.Context) (*Roster, error) {
	v, err, _ := c.group.Do(requestType, func() (interface{}, error) {
		return c.fetchWithRetry(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Roster), nil
}

func (c *Client) fetchWithRetry(ctx context.Context) (*Roster, error) {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.policy.Delay(attempt - 1)
			if ra, ok := retryAfter(lastErr); ok {
				// Server knows better than our schedule.
				delay = ra
			}
			logger.Debug("API", "Retry %d/%d in %v", attempt, c.policy.MaxAttempts, delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		roster, err := c.fetchOnce(ctx)
		if err == nil {
			c.mu.Lock()
			c.cached = roster
			c.fetchedAt = c.now()
			c.mu.Unlock()
			return roster, nil
		}
		lastErr = err
		logger.Warn("API", "Roster fetch failed (attempt %d/%d): %v", attempt, c.policy.MaxAttempts, err)
	}
	return nil, fmt.Errorf("roster fetch exhausted %d attempts: %w", c.policy.MaxAttempts, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context) (*Roster, error) {
	body, err := json.Marshal(map[string]string{"type": requestType})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &httpError{status: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var validators []ValidatorSummary
	if err := dec.Decode(&validators); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return NewRoster(validators), nil
}

type httpError struct {
	status     int
	retryAfter time.Duration
}

func (e *httpError) Error() string {
	if e.retryAfter > 0 {
		return fmt.Sprintf("unexpected status %d (retry after %v)", e.status, e.retryAfter)
	}
	return fmt.Sprintf("unexpected status %d", e.status)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// retryAfter extracts an explicit server-directed delay from an error,
// when there is one.
func retryAfter(err error) (time.Duration, bool) {
	he, ok := err.(*httpError)
	if !ok || he.retryAfter <= 0 {
		return 0, false
	}
	return he.retryAfter, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
