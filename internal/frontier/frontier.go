package frontier

import (
	"container/heap"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/crawlforge/crawld/internal/crawl"
	"github.com/crawlforge/crawld/internal/metrics"
)

// Rejection outcomes for Enqueue and the empty outcome for Dequeue. These
// are normal results, not failures.
var (
	ErrDuplicate = errors.New("frontier: duplicate url")
	ErrFiltered  = errors.New("frontier: url rejected by filter")
	ErrEmpty     = errors.New("frontier: no eligible entry")
)

// Config bounds what the frontier accepts and how it throttles domains.
type Config struct {
	MaxDepth             int
	DomainConcurrencyCap int
	MinDelayDefault      time.Duration
	DomainOverrides      map[string]crawl.DomainLimits
	AllowDomains         []string
	DenyDomains          []string
	IncludePatterns      []string
	ExcludePatterns      []string
}

// Frontier is a session-scoped queue of pending fetch targets. It owns the
// dedup set, per-domain politeness state, and dispatch ordering; callers
// never enforce politeness themselves.
type Frontier struct {
	mu       sync.Mutex
	cfg      Config
	strategy Strategy
	clock    crawl.Clock
	logger   *zap.Logger

	queue    *entryHeap
	seen     map[string]struct{}
	domains  map[string]*domainState
	include  []*regexp.Regexp
	exclude  []*regexp.Regexp
	inFlight int

	wake chan struct{}
}

type domainState struct {
	limiter             *rate.Limiter
	minDelay            time.Duration
	cap                 int
	inFlight            int
	lastFetchAt         time.Time
	consecutiveFailures int
}

// New builds a Frontier for one crawl session.
func New(cfg Config, strategy Strategy, clock crawl.Clock, logger *zap.Logger) (*Frontier, error) {
	if strategy == nil {
		return nil, fmt.Errorf("strategy is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DomainConcurrencyCap <= 0 {
		cfg.DomainConcurrencyCap = 1
	}
	include, err := compilePatterns(cfg.IncludePatterns)
	if err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}
	exclude, err := compilePatterns(cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	return &Frontier{
		cfg:      cfg,
		strategy: strategy,
		clock:    clock,
		logger:   logger,
		queue:    newEntryHeap(strategy.Less),
		seen:     make(map[string]struct{}),
		domains:  make(map[string]*domainState),
		include:  include,
		exclude:  exclude,
		wake:     make(chan struct{}, 1),
	}, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Enqueue normalizes the entry's URL, applies dedup and filtering, and
// accepts the entry. The returned entry carries the normalized URL.
// ErrDuplicate and ErrFiltered signal rejection without failure.
func (f *Frontier) Enqueue(entry crawl.FrontierEntry) (crawl.FrontierEntry, error) {
	normalized, err := Normalize(entry.URL)
	if err != nil {
		metrics.FrontierEnqueue("filtered")
		return entry, fmt.Errorf("%w: %v", ErrFiltered, err)
	}
	entry.URL = normalized

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[normalized]; ok {
		metrics.FrontierEnqueue("duplicate")
		return entry, ErrDuplicate
	}
	if reason := f.filterLocked(entry); reason != "" {
		metrics.FrontierEnqueue("filtered")
		return entry, fmt.Errorf("%w: %s", ErrFiltered, reason)
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = f.clock.Now()
	}
	f.seen[normalized] = struct{}{}
	f.pushLocked(entry)
	metrics.FrontierEnqueue("accepted")
	f.logger.Debug("entry accepted",
		zap.String("url", entry.URL),
		zap.Int("depth", entry.Depth),
		zap.Int("priority", entry.Priority),
	)
	return entry, nil
}

func (f *Frontier) filterLocked(entry crawl.FrontierEntry) string {
	if entry.Depth > f.cfg.MaxDepth {
		return fmt.Sprintf("depth %d exceeds limit %d", entry.Depth, f.cfg.MaxDepth)
	}
	host := hostOf(entry.URL)
	if len(f.cfg.DenyDomains) > 0 && matchesDomain(host, f.cfg.DenyDomains) {
		return "domain denied"
	}
	if len(f.cfg.AllowDomains) > 0 && !matchesDomain(host, f.cfg.AllowDomains) {
		return "domain not in allow list"
	}
	if len(f.include) > 0 && !matchesAny(entry.URL, f.include) {
		return "url matches no include pattern"
	}
	if matchesAny(entry.URL, f.exclude) {
		return "url matches exclude pattern"
	}
	return ""
}

// Dequeue returns the best eligible entry, or ErrEmpty when nothing can be
// dispatched right now. It never blocks; callers wait on Wake or poll.
// Dispatching claims the domain's in-flight slot and consumes its rate
// token, so the caller must finish with MarkComplete, MarkFailed, Requeue,
// or Release.
func (f *Frontier) Dequeue() (crawl.FrontierEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	skipped := make([]crawl.FrontierEntry, 0, 4)
	defer func() {
		for _, e := range skipped {
			f.pushLocked(e)
		}
	}()

	for f.queue.Len() > 0 {
		entry := f.popLocked()
		if entry.NotBefore.After(now) {
			skipped = append(skipped, entry)
			continue
		}
		ds := f.domainLocked(entry.URL)
		if ds.inFlight >= ds.cap {
			skipped = append(skipped, entry)
			continue
		}
		// The rate token is only consumed once every other check passed.
		if !ds.limiter.AllowN(now, 1) {
			skipped = append(skipped, entry)
			continue
		}
		ds.inFlight++
		ds.lastFetchAt = now
		f.inFlight++
		metrics.FrontierDepth(f.queue.Len())
		return entry, nil
	}
	return crawl.FrontierEntry{}, ErrEmpty
}

// Requeue reinserts an in-flight entry after a transient failure. The
// entry becomes eligible after delay and drops one priority class.
func (f *Frontier) Requeue(entry crawl.FrontierEntry, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ds := f.domainLocked(entry.URL)
	f.releaseLocked(ds)
	ds.consecutiveFailures++

	entry.NotBefore = f.clock.Now().Add(delay)
	entry.Priority++
	f.pushLocked(entry)
	metrics.FrontierEnqueue("requeued")
}

// Release reinserts an in-flight entry unchanged. Used when the entry was
// never dispatched to a fetcher (e.g. proxy exhaustion), so it should not
// be penalized.
func (f *Frontier) Release(entry crawl.FrontierEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ds := f.domainLocked(entry.URL)
	f.releaseLocked(ds)
	f.pushLocked(entry)
}

// MarkComplete releases the domain slot for a finished entry. The URL
// stays in the session dedup set so rediscovered links are rejected.
func (f *Frontier) MarkComplete(entry crawl.FrontierEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ds := f.domainLocked(entry.URL)
	f.releaseLocked(ds)
	ds.consecutiveFailures = 0
}

// MarkFailed releases the domain slot for a permanently failed entry.
func (f *Frontier) MarkFailed(entry crawl.FrontierEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ds := f.domainLocked(entry.URL)
	f.releaseLocked(ds)
	ds.consecutiveFailures++
}

func (f *Frontier) releaseLocked(ds *domainState) {
	if ds.inFlight > 0 {
		ds.inFlight--
	}
	if f.inFlight > 0 {
		f.inFlight--
	}
	f.signalLocked()
}

// Wake returns a channel that receives a signal whenever an entry may have
// become eligible (enqueue, requeue, or a freed domain slot).
func (f *Frontier) Wake() <-chan struct{} {
	return f.wake
}

// Len returns the number of queued (not in-flight) entries.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len()
}

// InFlight returns the number of dispatched, unfinished entries.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// Idle reports whether the frontier has no queued and no in-flight work.
func (f *Frontier) Idle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len() == 0 && f.inFlight == 0
}

// DomainSnapshots reports throttling state for every referenced domain.
func (f *Frontier) DomainSnapshots() []crawl.DomainSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]crawl.DomainSnapshot, 0, len(f.domains))
	for name, ds := range f.domains {
		out = append(out, crawl.DomainSnapshot{
			Domain:              name,
			LastFetchAt:         ds.lastFetchAt,
			MinDelay:            ds.minDelay,
			InFlight:            ds.inFlight,
			ConsecutiveFailures: ds.consecutiveFailures,
		})
	}
	return out
}

func (f *Frontier) domainLocked(rawURL string) *domainState {
	key := RegistrableDomain(rawURL)
	if ds, ok := f.domains[key]; ok {
		return ds
	}
	minDelay := f.cfg.MinDelayDefault
	capacity := f.cfg.DomainConcurrencyCap
	if override, ok := f.cfg.DomainOverrides[key]; ok {
		if override.MinDelay > 0 {
			minDelay = override.MinDelay
		}
		if override.ConcurrencyCap > 0 {
			capacity = override.ConcurrencyCap
		}
	}
	limit := rate.Inf
	if minDelay > 0 {
		limit = rate.Every(minDelay)
	}
	ds := &domainState{
		limiter:  rate.NewLimiter(limit, 1),
		minDelay: minDelay,
		cap:      capacity,
	}
	f.domains[key] = ds
	return ds
}

func (f *Frontier) pushLocked(entry crawl.FrontierEntry) {
	heap.Push(f.queue, entry)
	metrics.FrontierDepth(f.queue.Len())
	f.signalLocked()
}

func (f *Frontier) popLocked() crawl.FrontierEntry {
	return heap.Pop(f.queue).(crawl.FrontierEntry)
}

func (f *Frontier) signalLocked() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// entryHeap orders entries by the session strategy.
type entryHeap struct {
	entries []crawl.FrontierEntry
	less    func(a, b *crawl.FrontierEntry) bool
}

func newEntryHeap(less func(a, b *crawl.FrontierEntry) bool) *entryHeap {
	return &entryHeap{less: less}
}

func (h *entryHeap) Len() int { return len(h.entries) }

func (h *entryHeap) Less(i, j int) bool {
	return h.less(&h.entries[i], &h.entries[j])
}

func (h *entryHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
}

func (h *entryHeap) Push(x any) {
	h.entries = append(h.entries, x.(crawl.FrontierEntry))
}

func (h *entryHeap) Pop() any {
	n := len(h.entries)
	e := h.entries[n-1]
	h.entries = h.entries[:n-1]
	return e
}
