package hlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ygarg25/hyperliquid-exporter/internal/ratelimit"
)

const rosterBody = `[
  {"validator":"0xAAA0000000000000000000000000000000000001","name":"node-a","isJailed":false,"isActive":true,"stake":5000000,"nRecentBlocks":120},
  {"validator":"0xBBB0000000000000000000000000000000000002","name":"node-b","isJailed":true,"isActive":false,"stake":3000000,"nRecentBlocks":0,"unjailableAfter":1767225600000}
]`

func testClient(t *testing.T, endpoint string, policy RetryPolicy, cacheTTL time.Duration) (*Client, *[]time.Duration) {
	t.Helper()
	c := NewClient(endpoint, 5*time.Second, ratelimit.NewLimiter(100, time.Minute), policy, cacheTTL)
	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, &sleeps
}

func TestFetchRoster_ParsesSummaries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req["type"] != "validatorSummaries" {
			t.Errorf("bad request body: %v %v", req, err)
		}
		w.Write([]byte(rosterBody))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, DefaultRetryPolicy(), 0)
	roster, err := c.FetchRoster(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(roster.Validators) != 2 {
		t.Fatalf("expected 2 validators, got %d", len(roster.Validators))
	}

	v, ok := roster.Find("0xbbb0000000000000000000000000000000000002")
	if !ok {
		t.Fatal("case-insensitive lookup failed")
	}
	if !v.IsJailed || v.Stake.String() != "3000000" {
		t.Fatalf("unexpected record: %+v", v)
	}
	if v.UnjailableAfter != 1767225600000 {
		t.Fatalf("unjailableAfter lost: %d", v.UnjailableAfter)
	}
	if len(roster.Jailed()) != 1 {
		t.Fatalf("expected 1 jailed, got %d", len(roster.Jailed()))
	}
}

func TestFetchRoster_RetriesWithBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(rosterBody))
	}))
	defer srv.Close()

	policy := RetryPolicy{MaxAttempts: 4, InitialDelay: time.Second, MaxDelay: 5 * time.Minute}
	c, sleeps := testClient(t, srv.URL, policy, 0)

	if _, err := c.FetchRoster(context.Background()); err != nil {
		t.Fatalf("fetch should succeed on attempt 4: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 4 requests, got %d", got)
	}
	// Backoff doubles per retry: 1s, 2s, 4s.
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, *sleeps)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], (*sleeps)[i])
		}
	}
}

func TestFetchRoster_RetryAfterOverridesBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "7")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(rosterBody))
	}))
	defer srv.Close()

	c, sleeps := testClient(t, srv.URL, DefaultRetryPolicy(), 0)
	if _, err := c.FetchRoster(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 7*time.Second {
		t.Fatalf("Retry-After must override the schedule, got %v", *sleeps)
	}
}

func TestFetchRoster_ExhaustsAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second}
	c, _ := testClient(t, srv.URL, policy, 0)

	if _, err := c.FetchRoster(context.Background()); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected exactly 3 requests, got %d", got)
	}
}

func TestFetchRoster_CacheAndFreshBypass(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(rosterBody))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, DefaultRetryPolicy(), time.Minute)
	ctx := context.Background()

	if _, err := c.FetchRoster(ctx); err != nil {
		t.Fatalf("fetch 1: %v", err)
	}
	if _, err := c.FetchRoster(ctx); err != nil {
		t.Fatalf("fetch 2: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("second fetch within TTL must hit cache, server saw %d", got)
	}

	// The settle re-check path must never trust the cache.
	if _, err := c.FetchRosterFresh(ctx); err != nil {
		t.Fatalf("fresh fetch: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("fresh fetch must bypass cache, server saw %d", got)
	}
}

func TestFetchRosterFresh_DoesNotJoinInFlightFetch(t *testing.T) {
	var calls int32
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		arrived <- struct{}{}
		<-release
		w.Write([]byte(rosterBody))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, DefaultRetryPolicy(), time.Minute)
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() {
		_, err := c.FetchRoster(ctx)
		errs <- err
	}()
	<-arrived // first fetch is in flight

	// The fresh fetch must open its own request rather than attach to
	// the flight that started before our action landed.
	go func() {
		_, err := c.FetchRosterFresh(ctx)
		errs <- err
	}()

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("fresh fetch joined the in-flight request instead of issuing its own")
	}

	close(release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: 10 * time.Second}

	cases := []struct {
		retry int
		want  time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{9, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.retry); got != tc.want {
			t.Errorf("Delay(%d): expected %v, got %v", tc.retry, tc.want, got)
		}
	}
}
