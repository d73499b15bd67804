package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/crawlforge/crawld/internal/crawl"
	"github.com/crawlforge/crawld/internal/frontier"
	"github.com/crawlforge/crawld/internal/proxypool"
)

// Runner turns scheduled jobs into crawl sessions. Each run gets its own
// frontier; the proxy pool, store, and outbound integrations are shared.
type Runner struct {
	pool      *proxypool.Pool
	fetcher   crawl.Fetcher
	store     crawl.Store
	publisher crawl.Publisher
	blobs     crawl.BlobStore
	clock     crawl.Clock
	ids       crawl.IDGenerator
	topics    Topics
	registry  *Registry
	logger    *zap.Logger
}

// NewRunner wires a Runner. Publisher and blobs may be nil.
func NewRunner(pool *proxypool.Pool, fetcher crawl.Fetcher, store crawl.Store, publisher crawl.Publisher, blobs crawl.BlobStore, clock crawl.Clock, ids crawl.IDGenerator, topics Topics, registry *Registry, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		pool:      pool,
		fetcher:   fetcher,
		store:     store,
		publisher: publisher,
		blobs:     blobs,
		clock:     clock,
		ids:       ids,
		topics:    topics,
		registry:  registry,
		logger:    logger,
	}
}

// RunJob builds a session from the job's config, runs it to a terminal
// state, and reports failure so the scheduler can apply retry policy.
func (r *Runner) RunJob(ctx context.Context, job crawl.ScheduledJob) error {
	sessionID, err := r.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate session id: %w", err)
	}

	strategy, err := frontier.ForKind(job.Session.Strategy)
	if err != nil {
		return err
	}
	front, err := frontier.New(frontier.Config{
		MaxDepth:             job.Session.MaxDepth,
		DomainConcurrencyCap: job.Session.DomainConcurrencyCap,
		MinDelayDefault:      job.Session.MinDelayDefault,
		DomainOverrides:      job.Session.DomainOverrides,
		AllowDomains:         job.Session.AllowDomains,
		DenyDomains:          job.Session.DenyDomains,
		IncludePatterns:      job.Session.IncludePatterns,
		ExcludePatterns:      job.Session.ExcludePatterns,
	}, strategy, r.clock, r.logger)
	if err != nil {
		return fmt.Errorf("build frontier: %w", err)
	}

	coord, err := New(sessionID, job.Session, Deps{
		Frontier:  front,
		Pool:      r.pool,
		Fetcher:   r.fetcher,
		Store:     r.store,
		Publisher: r.publisher,
		Blobs:     r.blobs,
		Clock:     r.clock,
		Logger:    r.logger.With(zap.String("job_id", job.ID)),
	}, r.topics)
	if err != nil {
		return err
	}

	if r.registry != nil {
		r.registry.Add(coord)
		defer r.registry.Remove(sessionID)
	}

	if err := coord.Start(ctx, job.Seeds); err != nil {
		return err
	}

	// Shutdown propagates as a graceful cancel, not a hard stop.
	stop := context.AfterFunc(ctx, coord.Cancel)
	defer stop()

	coord.Wait()
	session := coord.Session()
	if session.Status == crawl.SessionFailed {
		return errors.New(session.LastError)
	}
	return nil
}
