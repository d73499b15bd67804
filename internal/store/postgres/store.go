// Package postgres provides a Postgres-backed Store implementation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlforge/crawld/internal/crawl"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists sessions, pages, jobs, and proxy records in Postgres.
type Store struct {
	pool db
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool db) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertSession inserts or updates a session row.
func (s *Store) UpsertSession(ctx context.Context, session crawl.CrawlSession) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	const query = `
INSERT INTO crawl_sessions (
	id, strategy, max_pages, max_depth, pages_completed, pages_failed,
	retries, status, last_error, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	pages_completed = EXCLUDED.pages_completed,
	pages_failed = EXCLUDED.pages_failed,
	retries = EXCLUDED.retries,
	status = EXCLUDED.status,
	last_error = EXCLUDED.last_error,
	finished_at = EXCLUDED.finished_at`
	_, err := s.pool.Exec(ctx, query,
		session.ID, string(session.Strategy), session.MaxPages, session.MaxDepth,
		session.PagesCompleted, session.PagesFailed, session.Retries,
		string(session.Status), session.LastError, session.StartedAt, session.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession reads one session row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (crawl.CrawlSession, error) {
	const query = `
SELECT id, strategy, max_pages, max_depth, pages_completed, pages_failed,
	retries, status, last_error, started_at, finished_at
FROM crawl_sessions WHERE id = $1`
	var (
		session  crawl.CrawlSession
		strategy string
		status   string
	)
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.ID, &strategy, &session.MaxPages, &session.MaxDepth,
		&session.PagesCompleted, &session.PagesFailed, &session.Retries,
		&status, &session.LastError, &session.StartedAt, &session.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.CrawlSession{}, fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return crawl.CrawlSession{}, fmt.Errorf("get session: %w", err)
	}
	session.Strategy = crawl.StrategyKind(strategy)
	session.Status = crawl.SessionStatus(status)
	return session, nil
}

// RecordPage inserts one page row.
func (s *Store) RecordPage(ctx context.Context, page crawl.PageRecord) error {
	if page.SessionID == "" {
		return fmt.Errorf("page session id is required")
	}
	const query = `
INSERT INTO page_records (
	session_id, url, depth, status_code, proxy_id, fetched_at,
	duration_ms, link_count, blob_uri, failed, error_kind
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		page.SessionID, page.URL, page.Depth, page.StatusCode, page.ProxyID,
		page.FetchedAt, page.DurationMs, page.LinkCount, page.BlobURI,
		page.Failed, string(page.ErrorKind),
	)
	if err != nil {
		return fmt.Errorf("record page: %w", err)
	}
	return nil
}

// ListPages reads all page rows for a session in fetch order.
func (s *Store) ListPages(ctx context.Context, sessionID string) ([]crawl.PageRecord, error) {
	const query = `
SELECT session_id, url, depth, status_code, proxy_id, fetched_at,
	duration_ms, link_count, blob_uri, failed, error_kind
FROM page_records WHERE session_id = $1 ORDER BY fetched_at`
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []crawl.PageRecord
	for rows.Next() {
		var (
			page crawl.PageRecord
			kind string
		)
		if err := rows.Scan(
			&page.SessionID, &page.URL, &page.Depth, &page.StatusCode, &page.ProxyID,
			&page.FetchedAt, &page.DurationMs, &page.LinkCount, &page.BlobURI,
			&page.Failed, &kind,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		page.ErrorKind = crawl.ErrorKind(kind)
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

// UpsertJob inserts or updates a scheduled job row. Seeds and session
// config travel as JSONB.
func (s *Store) UpsertJob(ctx context.Context, job crawl.ScheduledJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	seeds, err := json.Marshal(job.Seeds)
	if err != nil {
		return fmt.Errorf("marshal seeds: %w", err)
	}
	sessionCfg, err := json.Marshal(job.Session)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}
	const query = `
INSERT INTO scheduled_jobs (
	id, kind, run_at, interval_ms, cron_expr, next_run_at, last_run_result,
	retry_count, max_retries, concurrency_group, status, seeds, session_config, submitted_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
	next_run_at = EXCLUDED.next_run_at,
	last_run_result = EXCLUDED.last_run_result,
	retry_count = EXCLUDED.retry_count,
	status = EXCLUDED.status`
	_, err = s.pool.Exec(ctx, query,
		job.ID, string(job.Kind), job.RunAt, job.Interval.Milliseconds(), job.CronExpr,
		job.NextRunAt, job.LastRunResult, job.RetryCount, job.MaxRetries,
		job.ConcurrencyGroup, string(job.Status), seeds, sessionCfg, job.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// GetJob reads one job row.
func (s *Store) GetJob(ctx context.Context, jobID string) (crawl.ScheduledJob, error) {
	const query = `
SELECT id, kind, run_at, interval_ms, cron_expr, next_run_at, last_run_result,
	retry_count, max_retries, concurrency_group, status, seeds, session_config, submitted_at
FROM scheduled_jobs WHERE id = $1`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.ScheduledJob{}, fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return crawl.ScheduledJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs reads all job rows in submission order.
func (s *Store) ListJobs(ctx context.Context) ([]crawl.ScheduledJob, error) {
	const query = `
SELECT id, kind, run_at, interval_ms, cron_expr, next_run_at, last_run_result,
	retry_count, max_retries, concurrency_group, status, seeds, session_config, submitted_at
FROM scheduled_jobs ORDER BY submitted_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []crawl.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (crawl.ScheduledJob, error) {
	var (
		job        crawl.ScheduledJob
		kind       string
		status     string
		intervalMs int64
		seeds      []byte
		sessionCfg []byte
	)
	if err := row.Scan(
		&job.ID, &kind, &job.RunAt, &intervalMs, &job.CronExpr, &job.NextRunAt,
		&job.LastRunResult, &job.RetryCount, &job.MaxRetries, &job.ConcurrencyGroup,
		&status, &seeds, &sessionCfg, &job.SubmittedAt,
	); err != nil {
		return crawl.ScheduledJob{}, err
	}
	job.Kind = crawl.ScheduleKind(kind)
	job.Status = crawl.JobStatus(status)
	job.Interval = time.Duration(intervalMs) * time.Millisecond
	if len(seeds) > 0 {
		if err := json.Unmarshal(seeds, &job.Seeds); err != nil {
			return crawl.ScheduledJob{}, fmt.Errorf("unmarshal seeds: %w", err)
		}
	}
	if len(sessionCfg) > 0 {
		if err := json.Unmarshal(sessionCfg, &job.Session); err != nil {
			return crawl.ScheduledJob{}, fmt.Errorf("unmarshal session config: %w", err)
		}
	}
	return job, nil
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

// UpsertProxy inserts or updates a proxy record.
func (s *Store) UpsertProxy(ctx context.Context, proxy crawl.ProxyRecord) error {
	if proxy.ID == "" {
		return fmt.Errorf("proxy id is required")
	}
	protocols, err := json.Marshal(proxy.Protocols)
	if err != nil {
		return fmt.Errorf("marshal protocols: %w", err)
	}
	const query = `
INSERT INTO proxy_records (
	id, endpoint, protocols, region, success_count, failure_count,
	average_latency_ms, last_used_at, blacklisted_until, quality_score
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	success_count = EXCLUDED.success_count,
	failure_count = EXCLUDED.failure_count,
	average_latency_ms = EXCLUDED.average_latency_ms,
	last_used_at = EXCLUDED.last_used_at,
	blacklisted_until = EXCLUDED.blacklisted_until,
	quality_score = EXCLUDED.quality_score`
	_, err = s.pool.Exec(ctx, query,
		proxy.ID, proxy.Endpoint, protocols, proxy.Region,
		proxy.SuccessCount, proxy.FailureCount, proxy.AverageLatency.Milliseconds(),
		nullableTime(proxy.LastUsedAt), proxy.BlacklistedUntil, proxy.QualityScore,
	)
	if err != nil {
		return fmt.Errorf("upsert proxy: %w", err)
	}
	return nil
}

// ListProxies reads all proxy rows.
func (s *Store) ListProxies(ctx context.Context) ([]crawl.ProxyRecord, error) {
	const query = `
SELECT id, endpoint, protocols, region, success_count, failure_count,
	average_latency_ms, last_used_at, blacklisted_until, quality_score
FROM proxy_records ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var proxies []crawl.ProxyRecord
	for rows.Next() {
		var (
			proxy     crawl.ProxyRecord
			protocols []byte
			latencyMs int64
			lastUsed  *time.Time
		)
		if err := rows.Scan(
			&proxy.ID, &proxy.Endpoint, &protocols, &proxy.Region,
			&proxy.SuccessCount, &proxy.FailureCount, &latencyMs,
			&lastUsed, &proxy.BlacklistedUntil, &proxy.QualityScore,
		); err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		proxy.AverageLatency = time.Duration(latencyMs) * time.Millisecond
		if lastUsed != nil {
			proxy.LastUsedAt = *lastUsed
		}
		if len(protocols) > 0 {
			if err := json.Unmarshal(protocols, &proxy.Protocols); err != nil {
				return nil, fmt.Errorf("unmarshal protocols: %w", err)
			}
		}
		proxies = append(proxies, proxy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	return proxies, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
