// Package coordinator runs crawl sessions end to end: it pulls entries
// off the frontier, pairs them with proxies, dispatches fetches through
// a bounded worker pool, and drives the session lifecycle.
package coordinator

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crawlforge/crawld/internal/crawl"
	"github.com/crawlforge/crawld/internal/frontier"
	"github.com/crawlforge/crawld/internal/metrics"
	"github.com/crawlforge/crawld/internal/proxypool"
)

// emptyPollInterval bounds how long the dispatch loop sleeps when the
// frontier has entries that are not yet eligible (politeness delays,
// retry NotBefore timestamps).
const emptyPollInterval = 25 * time.Millisecond

// Deps carries the coordinator's collaborators. Publisher and Blobs are
// optional; a nil value disables that integration.
type Deps struct {
	Frontier  *frontier.Frontier
	Pool      *proxypool.Pool
	Fetcher   crawl.Fetcher
	Store     crawl.Store
	Publisher crawl.Publisher
	Blobs     crawl.BlobStore
	Clock     crawl.Clock
	Logger    *zap.Logger
}

// Topics routes completion events when a publisher is configured.
type Topics struct {
	Pages    string
	Sessions string
}

// Coordinator executes one crawl session.
type Coordinator struct {
	id      string
	cfg     crawl.SessionConfig
	deps    Deps
	topics  Topics
	backoff *crawl.ExponentialBackoff
	logger  *zap.Logger

	mu       sync.Mutex
	session  crawl.CrawlSession
	reserved int
	paused   bool
	resume   chan struct{}
	started  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New validates the session config and builds a Coordinator in the
// initializing state.
func New(sessionID string, cfg crawl.SessionConfig, deps Deps, topics Topics) (*Coordinator, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if !cfg.Strategy.Known() {
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
	if cfg.MaxPages <= 0 {
		return nil, fmt.Errorf("max_pages must be positive")
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("max_depth must not be negative")
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max_concurrent must be positive")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if deps.Frontier == nil || deps.Pool == nil || deps.Fetcher == nil || deps.Store == nil || deps.Clock == nil {
		return nil, fmt.Errorf("frontier, pool, fetcher, store, and clock are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		id:      sessionID,
		cfg:     cfg,
		deps:    deps,
		topics:  topics,
		backoff: crawl.BackoffFromConfig(cfg.Retry),
		logger:  logger.With(zap.String("session_id", sessionID)),
		session: crawl.CrawlSession{
			ID:       sessionID,
			Strategy: cfg.Strategy,
			MaxPages: cfg.MaxPages,
			MaxDepth: cfg.MaxDepth,
			Status:   crawl.SessionInitializing,
		},
		resume: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start seeds the frontier and launches the session. At least one seed
// must pass normalization and filtering.
func (c *Coordinator) Start(ctx context.Context, seeds []string) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("session %s already started", c.id)
	}
	c.started = true
	c.mu.Unlock()

	accepted := 0
	for _, seed := range seeds {
		_, err := c.deps.Frontier.Enqueue(crawl.FrontierEntry{URL: seed})
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, frontier.ErrDuplicate), errors.Is(err, frontier.ErrFiltered):
			c.logger.Debug("seed rejected", zap.String("url", seed), zap.Error(err))
		default:
			return fmt.Errorf("enqueue seed %s: %w", seed, err)
		}
	}
	if accepted == 0 {
		return fmt.Errorf("no seed URL was accepted")
	}

	now := c.deps.Clock.Now()
	c.mu.Lock()
	c.session.Status = crawl.SessionRunning
	c.session.StartedAt = now
	session := c.session
	c.mu.Unlock()

	if err := c.deps.Store.UpsertSession(ctx, session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	metrics.SessionStarted()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	go c.run(runCtx)
	return nil
}

// Cancel stops dispatch; in-flight fetches drain before the session
// settles as completed.
func (c *Coordinator) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Pause suspends dispatch without touching in-flight fetches. Pausing a
// paused or terminal session is a no-op.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.session.Status.Terminal() {
		return
	}
	c.paused = true
	c.session.Status = crawl.SessionPaused
	c.persistLocked()
}

// Resume restarts dispatch after a pause. Resuming a running session is
// a no-op.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused || c.session.Status.Terminal() {
		return
	}
	c.paused = false
	c.session.Status = crawl.SessionRunning
	close(c.resume)
	c.resume = make(chan struct{})
	c.persistLocked()
}

// Wait blocks until the session reaches a terminal state.
func (c *Coordinator) Wait() {
	<-c.done
}

// Done exposes the terminal-state signal for select loops.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Session returns a snapshot of the session's current state.
func (c *Coordinator) Session() crawl.CrawlSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Coordinator) run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrent)

	for {
		if gctx.Err() != nil {
			break
		}
		if err := c.waitIfPaused(gctx); err != nil {
			break
		}
		if c.budgetExhausted() {
			break
		}
		if !c.reserveBudget() {
			// Every remaining budget slot is held by an in-flight
			// fetch; wait for one to settle.
			if !c.sleep(gctx, emptyPollInterval) {
				break
			}
			continue
		}
		entry, err := c.deps.Frontier.Dequeue()
		if err != nil {
			c.releaseBudget()
			if c.deps.Frontier.Idle() {
				break
			}
			select {
			case <-gctx.Done():
			case <-c.deps.Frontier.Wake():
			case <-time.After(emptyPollInterval):
			}
			if gctx.Err() != nil {
				break
			}
			continue
		}
		g.Go(func() error {
			return c.process(gctx, entry)
		})
	}

	fatal := g.Wait()
	c.finish(fatal)
}

// waitIfPaused blocks while the session is paused.
func (c *Coordinator) waitIfPaused(ctx context.Context) error {
	for {
		c.mu.Lock()
		paused := c.paused
		resume := c.resume
		c.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		}
	}
}

func (c *Coordinator) budgetExhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.PagesCompleted >= c.cfg.MaxPages
}

// reserveBudget claims one page-budget slot. Completed pages plus
// in-flight reservations never exceed MaxPages, so the budget holds
// exactly even under concurrency.
func (c *Coordinator) reserveBudget() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.PagesCompleted+c.reserved >= c.cfg.MaxPages {
		return false
	}
	c.reserved++
	return true
}

func (c *Coordinator) releaseBudget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserved > 0 {
		c.reserved--
	}
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// process handles one dequeued entry through fetch, classification, and
// settlement. It returns an error only for session-fatal conditions.
func (c *Coordinator) process(ctx context.Context, entry crawl.FrontierEntry) error {
	domain := frontier.RegistrableDomain(entry.URL)

	proxy, err := c.deps.Pool.Acquire(proxypool.Requirements{
		Protocol: c.cfg.ProxyRequirements.Protocol,
		Region:   c.cfg.ProxyRequirements.Region,
		MinScore: c.cfg.ProxyRequirements.MinScore,
		Domain:   domain,
	})
	if err != nil {
		// No proxy right now. Put the entry back unpenalized and give
		// the pool a moment to recover or refresh.
		c.releaseBudget()
		c.deps.Frontier.Release(entry)
		c.logger.Warn("proxy pool exhausted, backing off",
			zap.String("url", entry.URL), zap.Error(err))
		c.sleep(ctx, crawl.Jitter(c.backoff.Delay(1)))
		return nil
	}

	attempt := entry.Attempts + 1
	start := time.Now()
	result, fetchErr := c.deps.Fetcher.Fetch(ctx, crawl.FetchRequest{
		SessionID: c.id,
		URL:       entry.URL,
		Depth:     entry.Depth,
		Proxy:     proxy,
	})
	duration := result.Duration
	if duration <= 0 {
		duration = time.Since(start)
	}

	var kind crawl.ErrorKind
	switch {
	case fetchErr != nil:
		kind = crawl.ClassifyError(fetchErr)
	default:
		kind = crawl.ClassifyStatus(result.StatusCode)
	}
	success := kind == crawl.ErrorKindNone

	c.deps.Pool.ReportOutcome(proxy.ID, proxypool.Outcome{
		Success: success,
		Latency: duration,
		Kind:    kind,
		Domain:  domain,
	})
	metrics.ObserveFetchDuration(duration)

	if success {
		return c.settleSuccess(ctx, entry, result, proxy.ID, duration)
	}
	return c.settleFailure(ctx, entry, result, proxy.ID, duration, attempt, kind, fetchErr)
}

func (c *Coordinator) settleSuccess(ctx context.Context, entry crawl.FrontierEntry, result crawl.FetchResult, proxyID string, duration time.Duration) error {
	blobURI := c.storeBody(ctx, entry, result)
	discovered := c.enqueueLinks(entry, result.Links)

	page := crawl.PageRecord{
		SessionID:  c.id,
		URL:        entry.URL,
		Depth:      entry.Depth,
		StatusCode: result.StatusCode,
		ProxyID:    proxyID,
		FetchedAt:  c.deps.Clock.Now(),
		DurationMs: duration.Milliseconds(),
		LinkCount:  len(result.Links),
		BlobURI:    blobURI,
	}
	if err := c.persistPage(ctx, page); err != nil {
		c.deps.Frontier.MarkFailed(entry)
		return err
	}

	c.deps.Frontier.MarkComplete(entry)
	c.mu.Lock()
	c.reserved--
	c.session.PagesCompleted++
	c.mu.Unlock()
	metrics.PageProcessed("success")

	c.publish(ctx, c.topics.Pages, page)
	c.logger.Debug("page completed",
		zap.String("url", entry.URL),
		zap.Int("depth", entry.Depth),
		zap.Int("links", discovered))
	return nil
}

func (c *Coordinator) settleFailure(ctx context.Context, entry crawl.FrontierEntry, result crawl.FetchResult, proxyID string, duration time.Duration, attempt int, kind crawl.ErrorKind, fetchErr error) error {
	c.releaseBudget()

	// A canceled fetch means the session is shutting down, not that the
	// page failed. The entry goes back unconsumed.
	if kind == crawl.ErrorKindCanceled {
		c.deps.Frontier.Release(entry)
		return nil
	}

	if kind.Transient() && attempt < c.cfg.Retry.MaxAttempts {
		entry.Attempts = attempt
		delay := c.backoff.Delay(attempt)
		c.deps.Frontier.Requeue(entry, delay)
		c.mu.Lock()
		c.session.Retries++
		c.mu.Unlock()
		metrics.PageProcessed("retry")
		c.logger.Debug("fetch failed, retrying",
			zap.String("url", entry.URL),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(fetchErr))
		return nil
	}

	page := crawl.PageRecord{
		SessionID:  c.id,
		URL:        entry.URL,
		Depth:      entry.Depth,
		StatusCode: result.StatusCode,
		ProxyID:    proxyID,
		FetchedAt:  c.deps.Clock.Now(),
		DurationMs: duration.Milliseconds(),
		Failed:     true,
		ErrorKind:  kind,
	}
	if err := c.persistPage(ctx, page); err != nil {
		c.deps.Frontier.MarkFailed(entry)
		return err
	}

	c.deps.Frontier.MarkFailed(entry)
	c.mu.Lock()
	c.session.PagesFailed++
	c.mu.Unlock()
	metrics.PageProcessed("failed")
	c.logger.Info("page failed permanently",
		zap.String("url", entry.URL),
		zap.String("kind", string(kind)),
		zap.Int("attempts", attempt),
		zap.Error(fetchErr))
	return nil
}

// enqueueLinks pushes discovered links one level deeper. Duplicates and
// filtered URLs are expected and dropped silently.
func (c *Coordinator) enqueueLinks(parent crawl.FrontierEntry, links []string) int {
	accepted := 0
	for _, link := range links {
		_, err := c.deps.Frontier.Enqueue(crawl.FrontierEntry{
			URL:            link,
			Depth:          parent.Depth + 1,
			DiscoveredFrom: parent.URL,
		})
		if err == nil {
			accepted++
		}
	}
	return accepted
}

// storeBody writes raw content to blob storage when configured. Blob
// failures degrade the record, not the crawl.
func (c *Coordinator) storeBody(ctx context.Context, entry crawl.FrontierEntry, result crawl.FetchResult) string {
	if c.deps.Blobs == nil || len(result.Body) == 0 {
		return ""
	}
	path := fmt.Sprintf("%s/%x.html", c.id, sha256.Sum256([]byte(entry.URL)))
	uri, err := c.deps.Blobs.PutObject(ctx, path, "text/html", result.Body)
	if err != nil {
		c.logger.Warn("blob write failed", zap.String("url", entry.URL), zap.Error(err))
		return ""
	}
	return uri
}

// persistPage retries transient store failures; a page that cannot be
// recorded fails the whole session.
func (c *Coordinator) persistPage(ctx context.Context, page crawl.PageRecord) error {
	var err error
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		if err = c.deps.Store.RecordPage(ctx, page); err == nil {
			return nil
		}
		c.logger.Warn("record page failed",
			zap.String("url", page.URL),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < c.cfg.Retry.MaxAttempts {
			c.sleep(ctx, c.backoff.Delay(attempt))
		}
	}
	return fmt.Errorf("record page %s: %w", page.URL, err)
}

func (c *Coordinator) publish(ctx context.Context, topic string, payload any) {
	if c.deps.Publisher == nil || topic == "" {
		return
	}
	if _, err := c.deps.Publisher.Publish(ctx, topic, payload); err != nil {
		c.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// finish settles the session in a terminal state and persists it.
func (c *Coordinator) finish(fatal error) {
	now := c.deps.Clock.Now()

	c.mu.Lock()
	if fatal != nil && !errors.Is(fatal, context.Canceled) {
		c.session.Status = crawl.SessionFailed
		c.session.LastError = fatal.Error()
	} else {
		c.session.Status = crawl.SessionCompleted
	}
	c.session.FinishedAt = &now
	c.paused = false
	session := c.session
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.deps.Store.UpsertSession(ctx, session); err != nil {
		c.logger.Error("persist final session state failed", zap.Error(err))
	}
	metrics.SessionFinished()
	c.publish(ctx, c.topics.Sessions, session)
	c.logger.Info("session finished",
		zap.String("status", string(session.Status)),
		zap.Int("pages_completed", session.PagesCompleted),
		zap.Int("pages_failed", session.PagesFailed),
		zap.Int("retries", session.Retries))
	close(c.done)
}

// persistLocked writes the current session state best effort. Callers
// hold c.mu.
func (c *Coordinator) persistLocked() {
	session := c.session
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.deps.Store.UpsertSession(ctx, session); err != nil {
			c.logger.Warn("persist session state failed", zap.Error(err))
		}
	}()
}
