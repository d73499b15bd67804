// Package proxypool maintains a scored, health-checked collection of
// egress identities with rotation and blacklisting.
package proxypool

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawlforge/crawld/internal/crawl"
	"github.com/crawlforge/crawld/internal/metrics"
)

// ErrUnavailable signals that no proxy satisfies the requirements right
// now. Callers must back off and retry rather than fail.
var ErrUnavailable = errors.New("proxypool: no eligible proxy")

// Config tunes scoring, blacklisting, and selection.
type Config struct {
	BlacklistThreshold int           // consecutive failures before a blacklist round
	FailureWindow      time.Duration // failures count as consecutive within this window
	BlacklistBase      time.Duration // first blacklist duration; doubles per round
	BlacklistMax       time.Duration
	MaxStrikes         int           // blacklist rounds before permanent removal
	PairingCooldown    time.Duration // domain-proxy block after a target_blocked outcome
	DecayHalfLife      time.Duration // idle quality decay half-life
	LatencyReference   time.Duration // latency at which a success scores half
	MinWeight          float64       // selection weight floor so low scorers still rotate in
}

func (c Config) withDefaults() Config {
	if c.BlacklistThreshold <= 0 {
		c.BlacklistThreshold = 3
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = time.Minute
	}
	if c.BlacklistBase <= 0 {
		c.BlacklistBase = 30 * time.Second
	}
	if c.BlacklistMax <= 0 {
		c.BlacklistMax = 30 * time.Minute
	}
	if c.MaxStrikes <= 0 {
		c.MaxStrikes = 5
	}
	if c.PairingCooldown <= 0 {
		c.PairingCooldown = 10 * time.Minute
	}
	if c.DecayHalfLife <= 0 {
		c.DecayHalfLife = 10 * time.Minute
	}
	if c.LatencyReference <= 0 {
		c.LatencyReference = 2 * time.Second
	}
	if c.MinWeight <= 0 {
		c.MinWeight = 0.05
	}
	return c
}

// Requirements constrain proxy selection for one acquire.
type Requirements struct {
	Protocol string
	Region   string
	MinScore float64
	Domain   string
}

// Outcome reports the result of one fetch dispatched through a proxy.
type Outcome struct {
	Success bool
	Latency time.Duration
	Kind    crawl.ErrorKind
	Domain  string
}

// Prober validates a proxy endpoint against a known-good target, so a
// dead proxy is distinguishable from a target blocking it.
type Prober interface {
	Probe(ctx context.Context, endpoint string) (time.Duration, error)
}

// Pool is the shared proxy pool. All mutation goes through its contract
// methods; a single mutex serializes per-proxy record updates.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	clock   crawl.Clock
	logger  *zap.Logger
	rng     *rand.Rand
	proxies map[string]*proxyState
	pending []crawl.ProxyRecord
	prober  Prober
	store   crawl.Store
}

type proxyState struct {
	rec                 crawl.ProxyRecord
	consecutiveFailures int
	lastFailureAt       time.Time
	strikes             int
	blockedDomains      map[string]time.Time
	held                int
	lastProbedAt        time.Time
}

const initialScore = 0.5

// scoreAlpha weights the newest outcome in the rolling quality score.
const scoreAlpha = 0.3

// New builds a Pool. The store and prober are optional; when the store is
// set, record changes are persisted best-effort.
func New(cfg Config, clock crawl.Clock, prober Prober, store crawl.Store, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		logger:  logger,
		rng:     rand.New(rand.NewSource(clock.Now().UnixNano())),
		proxies: make(map[string]*proxyState),
		prober:  prober,
		store:   store,
	}
}

// AddCandidates queues newly discovered proxies for ingestion on the next
// RefreshPool pass.
func (p *Pool) AddCandidates(recs ...crawl.ProxyRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, recs...)
}

// Acquire selects an eligible proxy, weighted-random by quality score so
// the best proxy is favored without starving usable lower-ranked ones.
func (p *Pool) Acquire(req Requirements) (crawl.ProxyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	type candidate struct {
		state  *proxyState
		weight float64
	}
	var candidates []candidate
	total := 0.0
	for _, st := range p.proxies {
		if !p.eligibleLocked(st, req, now) {
			continue
		}
		weight := math.Max(p.effectiveScoreLocked(st, now), p.cfg.MinWeight)
		candidates = append(candidates, candidate{state: st, weight: weight})
		total += weight
	}
	if len(candidates) == 0 {
		metrics.ProxyAcquire("unavailable")
		return crawl.ProxyRecord{}, ErrUnavailable
	}

	pick := candidates[len(candidates)-1].state
	r := p.rng.Float64() * total
	for _, c := range candidates {
		if r < c.weight {
			pick = c.state
			break
		}
		r -= c.weight
	}

	pick.held++
	pick.rec.LastUsedAt = now
	metrics.ProxyAcquire("ok")
	return pick.rec, nil
}

func (p *Pool) eligibleLocked(st *proxyState, req Requirements, now time.Time) bool {
	if st.rec.BlacklistedUntil != nil && !now.After(*st.rec.BlacklistedUntil) {
		return false
	}
	if !st.rec.SupportsProtocol(req.Protocol) {
		return false
	}
	if req.Region != "" && st.rec.Region != req.Region {
		return false
	}
	if req.MinScore > 0 && p.effectiveScoreLocked(st, now) < req.MinScore {
		return false
	}
	if req.Domain != "" {
		if until, ok := st.blockedDomains[req.Domain]; ok {
			if now.Before(until) {
				return false
			}
			delete(st.blockedDomains, req.Domain)
		}
	}
	return true
}

// effectiveScoreLocked applies idle decay on top of the stored score so
// stale-but-working proxies sink in selection priority.
func (p *Pool) effectiveScoreLocked(st *proxyState, now time.Time) float64 {
	score := st.rec.QualityScore
	if st.rec.LastUsedAt.IsZero() {
		return score
	}
	idle := now.Sub(st.rec.LastUsedAt)
	if idle <= 0 {
		return score
	}
	return score * math.Pow(0.5, idle.Seconds()/p.cfg.DecayHalfLife.Seconds())
}

// ReportOutcome updates counters and the quality score for one dispatched
// fetch. Target-blocked outcomes penalize the domain-proxy pairing rather
// than the proxy globally.
func (p *Pool) ReportOutcome(id string, out Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.proxies[id]
	if !ok {
		p.logger.Warn("outcome for unknown proxy", zap.String("proxy_id", id))
		return
	}
	if st.held > 0 {
		st.held--
	}
	now := p.clock.Now()

	switch {
	case out.Success:
		st.rec.SuccessCount++
		st.consecutiveFailures = 0
		st.rec.AverageLatency = ewmaLatency(st.rec.AverageLatency, out.Latency)
		p.updateScoreLocked(st, p.successSample(out.Latency))
	case out.Kind == crawl.ErrorKindTargetBlocked && out.Domain != "":
		if st.blockedDomains == nil {
			st.blockedDomains = make(map[string]time.Time)
		}
		st.blockedDomains[out.Domain] = now.Add(p.cfg.PairingCooldown)
		p.logger.Info("domain-proxy pairing blocked",
			zap.String("proxy_id", id),
			zap.String("domain", out.Domain),
		)
	default:
		st.rec.FailureCount++
		if !st.lastFailureAt.IsZero() && now.Sub(st.lastFailureAt) > p.cfg.FailureWindow {
			st.consecutiveFailures = 0
		}
		st.lastFailureAt = now
		st.consecutiveFailures++
		p.updateScoreLocked(st, 0)
		if st.consecutiveFailures >= p.cfg.BlacklistThreshold {
			p.blacklistLocked(st, now)
		}
	}
	p.persistLocked(st)
	p.updatePoolGaugeLocked(now)
}

func (p *Pool) successSample(latency time.Duration) float64 {
	if latency <= 0 {
		return 1
	}
	return 1 / (1 + latency.Seconds()/p.cfg.LatencyReference.Seconds())
}

func (p *Pool) updateScoreLocked(st *proxyState, sample float64) {
	st.rec.QualityScore = (1-scoreAlpha)*st.rec.QualityScore + scoreAlpha*sample
}

// blacklistLocked takes the proxy out of rotation with exponential backoff
// on the duration per blacklist round.
func (p *Pool) blacklistLocked(st *proxyState, now time.Time) {
	st.strikes++
	duration := p.cfg.BlacklistBase << (st.strikes - 1)
	if duration > p.cfg.BlacklistMax || duration <= 0 {
		duration = p.cfg.BlacklistMax
	}
	until := now.Add(duration)
	st.rec.BlacklistedUntil = &until
	st.consecutiveFailures = 0
	metrics.ProxyBlacklisted()
	p.logger.Warn("proxy blacklisted",
		zap.String("proxy_id", st.rec.ID),
		zap.Duration("duration", duration),
		zap.Int("strikes", st.strikes),
	)
}

// RefreshPool re-validates proxies whose blacklist cool-down expired and
// ingests pending candidates. Proxies held by an in-flight acquire are
// never removed.
func (p *Pool) RefreshPool(ctx context.Context) {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	now := p.clock.Now()

	for _, rec := range pending {
		if _, exists := p.proxies[rec.ID]; exists {
			continue
		}
		if rec.QualityScore <= 0 {
			rec.QualityScore = initialScore
		}
		p.proxies[rec.ID] = &proxyState{rec: rec}
		p.logger.Info("proxy ingested", zap.String("proxy_id", rec.ID), zap.String("endpoint", rec.Endpoint))
	}

	var revalidate []*proxyState
	for id, st := range p.proxies {
		if st.strikes > p.cfg.MaxStrikes && st.held == 0 {
			delete(p.proxies, id)
			p.logger.Warn("proxy removed after repeated blacklisting", zap.String("proxy_id", id))
			continue
		}
		if st.rec.BlacklistedUntil != nil && now.After(*st.rec.BlacklistedUntil) {
			revalidate = append(revalidate, st)
		}
	}
	p.mu.Unlock()

	for _, st := range revalidate {
		p.revalidate(ctx, st)
	}

	p.mu.Lock()
	for _, st := range p.proxies {
		p.persistLocked(st)
	}
	p.updatePoolGaugeLocked(p.clock.Now())
	p.mu.Unlock()
}

// revalidate probes an expired-blacklist proxy before putting it back in
// rotation. Without a prober the expiry alone restores eligibility.
func (p *Pool) revalidate(ctx context.Context, st *proxyState) {
	if p.prober == nil {
		p.mu.Lock()
		st.rec.BlacklistedUntil = nil
		p.mu.Unlock()
		return
	}
	latency, err := p.prober.Probe(ctx, st.rec.Endpoint)

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	st.lastProbedAt = now
	if err != nil {
		p.blacklistLocked(st, now)
		return
	}
	st.rec.BlacklistedUntil = nil
	st.rec.AverageLatency = ewmaLatency(st.rec.AverageLatency, latency)
	if st.rec.QualityScore < initialScore {
		st.rec.QualityScore = initialScore
	}
	p.logger.Info("proxy restored after cool-down", zap.String("proxy_id", st.rec.ID))
}

// ProbeCanary health-checks the least recently probed eligible proxy.
// Probing runs independently of acquisition traffic.
func (p *Pool) ProbeCanary(ctx context.Context) {
	if p.prober == nil {
		return
	}
	p.mu.Lock()
	var pick *proxyState
	now := p.clock.Now()
	for _, st := range p.proxies {
		if st.rec.BlacklistedUntil != nil && !now.After(*st.rec.BlacklistedUntil) {
			continue
		}
		if pick == nil || st.lastProbedAt.Before(pick.lastProbedAt) {
			pick = st
		}
	}
	p.mu.Unlock()
	if pick == nil {
		return
	}

	latency, err := p.prober.Probe(ctx, pick.rec.Endpoint)

	p.mu.Lock()
	defer p.mu.Unlock()
	now = p.clock.Now()
	pick.lastProbedAt = now
	if err != nil {
		pick.rec.FailureCount++
		if !pick.lastFailureAt.IsZero() && now.Sub(pick.lastFailureAt) > p.cfg.FailureWindow {
			pick.consecutiveFailures = 0
		}
		pick.lastFailureAt = now
		pick.consecutiveFailures++
		p.updateScoreLocked(pick, 0)
		if pick.consecutiveFailures >= p.cfg.BlacklistThreshold {
			p.blacklistLocked(pick, now)
		}
		return
	}
	pick.rec.AverageLatency = ewmaLatency(pick.rec.AverageLatency, latency)
	p.updateScoreLocked(pick, p.successSample(latency))
}

// Run drives RefreshPool and canary probes on the given interval until the
// context finishes.
func (p *Pool) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RefreshPool(ctx)
			p.ProbeCanary(ctx)
		}
	}
}

// Snapshot returns a copy of every proxy record with the idle decay
// applied to the quality score.
func (p *Pool) Snapshot() []crawl.ProxyRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	out := make([]crawl.ProxyRecord, 0, len(p.proxies))
	for _, st := range p.proxies {
		rec := st.rec
		rec.QualityScore = p.effectiveScoreLocked(st, now)
		if st.rec.BlacklistedUntil != nil {
			until := *st.rec.BlacklistedUntil
			rec.BlacklistedUntil = &until
		}
		rec.Protocols = append([]string(nil), st.rec.Protocols...)
		out = append(out, rec)
	}
	return out
}

func (p *Pool) persistLocked(st *proxyState) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.UpsertProxy(ctx, st.rec); err != nil {
		p.logger.Warn("persist proxy record failed", zap.String("proxy_id", st.rec.ID), zap.Error(err))
	}
}

func (p *Pool) updatePoolGaugeLocked(now time.Time) {
	eligible, blacklisted := 0, 0
	for _, st := range p.proxies {
		if st.rec.BlacklistedUntil != nil && !now.After(*st.rec.BlacklistedUntil) {
			blacklisted++
		} else {
			eligible++
		}
	}
	metrics.ProxyPoolSize(eligible, blacklisted)
}

func ewmaLatency(current, sample time.Duration) time.Duration {
	if sample <= 0 {
		return current
	}
	if current <= 0 {
		return sample
	}
	return time.Duration((1-scoreAlpha)*float64(current) + scoreAlpha*float64(sample))
}
