package proxypool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crawlforge/crawld/internal/crawl"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProber struct {
	mu      sync.Mutex
	err     error
	latency time.Duration
	probes  int
}

func (p *fakeProber) Probe(_ context.Context, _ string) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	return p.latency, p.err
}

func testRecord(id string) crawl.ProxyRecord {
	return crawl.ProxyRecord{
		ID:        id,
		Endpoint:  "http://" + id + ".proxy.test:8080",
		Protocols: []string{"http", "https"},
		Region:    "us",
	}
}

func newTestPool(t *testing.T, cfg Config, clock crawl.Clock, prober Prober, recs ...crawl.ProxyRecord) *Pool {
	t.Helper()
	pool := New(cfg, clock, prober, nil, nil)
	pool.AddCandidates(recs...)
	pool.RefreshPool(context.Background())
	return pool
}

func TestAcquireHonorsRequirements(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	socks := testRecord("socks-only")
	socks.Protocols = []string{"socks5"}
	socks.Region = "eu"
	pool := newTestPool(t, Config{}, clock, nil, testRecord("p1"), socks)

	rec, err := pool.Acquire(Requirements{Protocol: "socks5"})
	if err != nil {
		t.Fatalf("Acquire(socks5) error = %v", err)
	}
	if rec.ID != "socks-only" {
		t.Fatalf("Acquire(socks5) = %q, want socks-only", rec.ID)
	}
	pool.ReportOutcome(rec.ID, Outcome{Success: true, Latency: 50 * time.Millisecond})

	rec, err = pool.Acquire(Requirements{Region: "us"})
	if err != nil {
		t.Fatalf("Acquire(us) error = %v", err)
	}
	if rec.ID != "p1" {
		t.Fatalf("Acquire(us) = %q, want p1", rec.ID)
	}
	pool.ReportOutcome(rec.ID, Outcome{Success: true, Latency: 50 * time.Millisecond})

	if _, err := pool.Acquire(Requirements{Protocol: "socks4"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for unsupported protocol, got %v", err)
	}
	if _, err := pool.Acquire(Requirements{MinScore: 0.99}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for high min score, got %v", err)
	}
}

func TestBlacklistAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestPool(t, Config{BlacklistBase: time.Minute}, clock, nil, testRecord("p1"))

	for i := 0; i < 3; i++ {
		rec, err := pool.Acquire(Requirements{})
		if err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
		pool.ReportOutcome(rec.ID, Outcome{Kind: crawl.ErrorKindTimeout})
		clock.Advance(time.Second)
	}

	// Blacklisted until now+60s (set at the third failure report).
	clock.Advance(30 * time.Second)
	if _, err := pool.Acquire(Requirements{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable mid-blacklist, got %v", err)
	}

	clock.Advance(31 * time.Second)
	rec, err := pool.Acquire(Requirements{})
	if err != nil {
		t.Fatalf("expected proxy eligible after cool-down, got %v", err)
	}
	if rec.ID != "p1" {
		t.Fatalf("Acquire() = %q, want p1", rec.ID)
	}
}

func TestFailureWindowResetsConsecutiveCount(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestPool(t, Config{FailureWindow: 10 * time.Second}, clock, nil, testRecord("p1"))

	for i := 0; i < 2; i++ {
		rec, err := pool.Acquire(Requirements{})
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		pool.ReportOutcome(rec.ID, Outcome{Kind: crawl.ErrorKindTimeout})
	}
	// A long gap breaks the streak.
	clock.Advance(time.Minute)
	rec, err := pool.Acquire(Requirements{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.ReportOutcome(rec.ID, Outcome{Kind: crawl.ErrorKindTimeout})

	if _, err := pool.Acquire(Requirements{}); err != nil {
		t.Fatalf("proxy should not be blacklisted after window reset, got %v", err)
	}
}

func TestTargetBlockedPenalizesPairingOnly(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestPool(t, Config{}, clock, nil, testRecord("p1"))

	rec, err := pool.Acquire(Requirements{Domain: "hostile.test"})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.ReportOutcome(rec.ID, Outcome{Kind: crawl.ErrorKindTargetBlocked, Domain: "hostile.test"})

	if _, err := pool.Acquire(Requirements{Domain: "hostile.test"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("pairing should be blocked, got %v", err)
	}
	got, err := pool.Acquire(Requirements{Domain: "friendly.test"})
	if err != nil {
		t.Fatalf("other domains should still be served, got %v", err)
	}
	if got.BlacklistedUntil != nil {
		t.Fatal("target-blocked must not blacklist the proxy globally")
	}
}

func TestBlacklistDurationGrowsPerRound(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestPool(t, Config{BlacklistBase: 10 * time.Second, BlacklistMax: time.Hour}, clock, nil, testRecord("p1"))

	blacklist := func() time.Duration {
		t.Helper()
		for {
			rec, err := pool.Acquire(Requirements{})
			if errors.Is(err, ErrUnavailable) {
				t.Fatal("proxy unexpectedly unavailable")
			}
			pool.ReportOutcome(rec.ID, Outcome{Kind: crawl.ErrorKindConnRefused})
			snap := pool.Snapshot()[0]
			if snap.BlacklistedUntil != nil && snap.BlacklistedUntil.After(clock.Now()) {
				return snap.BlacklistedUntil.Sub(clock.Now())
			}
		}
	}

	first := blacklist()
	clock.Advance(first + time.Second)
	second := blacklist()
	if second <= first {
		t.Fatalf("second blacklist %v should exceed first %v", second, first)
	}
}

func TestQualityScoreDecaysWhenIdle(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestPool(t, Config{DecayHalfLife: time.Minute}, clock, nil, testRecord("p1"))

	rec, err := pool.Acquire(Requirements{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.ReportOutcome(rec.ID, Outcome{Success: true, Latency: 10 * time.Millisecond})

	before := pool.Snapshot()[0].QualityScore
	clock.Advance(2 * time.Minute)
	after := pool.Snapshot()[0].QualityScore
	if after >= before {
		t.Fatalf("idle score should decay: before=%f after=%f", before, after)
	}
	if after <= 0 {
		t.Fatalf("decay should approach zero, not cross it: %f", after)
	}
}

func TestRefreshPoolRevalidatesWithProber(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	prober := &fakeProber{latency: 20 * time.Millisecond}
	pool := newTestPool(t, Config{BlacklistBase: time.Second}, clock, prober, testRecord("p1"))

	for i := 0; i < 3; i++ {
		rec, err := pool.Acquire(Requirements{})
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		pool.ReportOutcome(rec.ID, Outcome{Kind: crawl.ErrorKindTimeout})
	}
	if _, err := pool.Acquire(Requirements{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected blacklisted proxy, got %v", err)
	}

	clock.Advance(2 * time.Second)
	pool.RefreshPool(context.Background())
	if prober.probes == 0 {
		t.Fatal("expected a revalidation probe")
	}
	if _, err := pool.Acquire(Requirements{}); err != nil {
		t.Fatalf("proxy should be restored after probe, got %v", err)
	}
}

func TestRefreshPoolRemovesRepeatOffenders(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestPool(t, Config{BlacklistBase: time.Second, MaxStrikes: 1}, clock, nil, testRecord("p1"))

	fail := func() {
		t.Helper()
		for {
			rec, err := pool.Acquire(Requirements{})
			if err != nil {
				return
			}
			pool.ReportOutcome(rec.ID, Outcome{Kind: crawl.ErrorKindTimeout})
		}
	}
	fail()
	clock.Advance(2 * time.Second)
	fail()

	pool.RefreshPool(context.Background())
	if n := len(pool.Snapshot()); n != 0 {
		t.Fatalf("expected repeat offender removed, still have %d proxies", n)
	}
}

func TestProbeCanaryRecordsFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	prober := &fakeProber{err: errors.New("connect: connection refused")}
	pool := newTestPool(t, Config{}, clock, prober, testRecord("p1"))

	pool.ProbeCanary(context.Background())
	snap := pool.Snapshot()[0]
	if snap.FailureCount != 1 {
		t.Fatalf("FailureCount = %d, want 1", snap.FailureCount)
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestPool(t, Config{}, clock, nil, testRecord("p1"))

	snap := pool.Snapshot()
	snap[0].Protocols[0] = "mutated"
	if pool.Snapshot()[0].Protocols[0] == "mutated" {
		t.Fatal("Snapshot must not expose internal state")
	}
}
