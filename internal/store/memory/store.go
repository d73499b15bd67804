// Package memory provides an in-memory Store for development and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/crawlforge/crawld/internal/crawl"
)

// Not-found sentinels shared by all Store implementations' callers.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrJobNotFound     = errors.New("job not found")
)

// Store keeps all records in mutex-guarded maps.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]crawl.CrawlSession
	pages    map[string][]crawl.PageRecord
	jobs     map[string]crawl.ScheduledJob
	proxies  map[string]crawl.ProxyRecord
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]crawl.CrawlSession),
		pages:    make(map[string][]crawl.PageRecord),
		jobs:     make(map[string]crawl.ScheduledJob),
		proxies:  make(map[string]crawl.ProxyRecord),
	}
}

// UpsertSession stores or replaces a session row.
func (s *Store) UpsertSession(_ context.Context, session crawl.CrawlSession) error {
	if session.ID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(_ context.Context, sessionID string) (crawl.CrawlSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return crawl.CrawlSession{}, ErrSessionNotFound
	}
	return session, nil
}

// RecordPage appends a page row for a session.
func (s *Store) RecordPage(_ context.Context, page crawl.PageRecord) error {
	if page.SessionID == "" {
		return errors.New("page session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.SessionID] = append(s.pages[page.SessionID], page)
	return nil
}

// ListPages returns a copy of all recorded pages for a session.
func (s *Store) ListPages(_ context.Context, sessionID string) ([]crawl.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[sessionID]
	out := make([]crawl.PageRecord, len(pages))
	copy(out, pages)
	return out, nil
}

// UpsertJob stores or replaces a scheduled job row.
func (s *Store) UpsertJob(_ context.Context, job crawl.ScheduledJob) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (crawl.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawl.ScheduledJob{}, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns all jobs ordered by submission time.
func (s *Store) ListJobs(_ context.Context) ([]crawl.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawl.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

// UpsertProxy stores or replaces a proxy record.
func (s *Store) UpsertProxy(_ context.Context, proxy crawl.ProxyRecord) error {
	if proxy.ID == "" {
		return errors.New("proxy id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxies[proxy.ID] = proxy
	return nil
}

// ListProxies returns all proxy records ordered by ID.
func (s *Store) ListProxies(_ context.Context) ([]crawl.ProxyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawl.ProxyRecord, 0, len(s.proxies))
	for _, proxy := range s.proxies {
		out = append(out, proxy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
