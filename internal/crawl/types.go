// Package crawl defines core types shared across the orchestration subsystems.
package crawl

import (
	"time"
)

// SessionStatus represents the lifecycle state of a crawl session.
type SessionStatus string

// Session status values persisted in the session store.
const (
	SessionInitializing SessionStatus = "initializing"
	SessionRunning      SessionStatus = "running"
	SessionPaused       SessionStatus = "paused"
	SessionCompleted    SessionStatus = "completed"
	SessionFailed       SessionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// StrategyKind selects the frontier ordering policy for a session.
type StrategyKind string

// Known frontier ordering strategies.
const (
	StrategyBreadthFirst StrategyKind = "breadth_first"
	StrategyDepthFirst   StrategyKind = "depth_first"
	StrategyPriority     StrategyKind = "priority"
	StrategyHybrid       StrategyKind = "hybrid"
)

// Known reports whether the strategy is one the frontier can order by.
func (k StrategyKind) Known() bool {
	switch k {
	case StrategyBreadthFirst, StrategyDepthFirst, StrategyPriority, StrategyHybrid:
		return true
	default:
		return false
	}
}

// FrontierEntry is a pending fetch target tracked by the frontier.
type FrontierEntry struct {
	URL            string    `json:"url"`
	Depth          int       `json:"depth"`
	Priority       int       `json:"priority"`
	DiscoveredFrom string    `json:"discovered_from,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	Attempts       int       `json:"attempts"`
	NotBefore      time.Time `json:"not_before,omitempty"`
}

// DomainSnapshot is a read-only view of per-domain throttling state.
type DomainSnapshot struct {
	Domain              string        `json:"domain"`
	LastFetchAt         time.Time     `json:"last_fetch_at"`
	MinDelay            time.Duration `json:"min_delay"`
	InFlight            int           `json:"in_flight"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// ProxyRecord describes one egress identity managed by the pool.
type ProxyRecord struct {
	ID               string        `json:"id"`
	Endpoint         string        `json:"endpoint"`
	Protocols        []string      `json:"protocols"`
	Region           string        `json:"region,omitempty"`
	SuccessCount     int           `json:"success_count"`
	FailureCount     int           `json:"failure_count"`
	AverageLatency   time.Duration `json:"average_latency"`
	LastUsedAt       time.Time     `json:"last_used_at,omitempty"`
	BlacklistedUntil *time.Time    `json:"blacklisted_until,omitempty"`
	QualityScore     float64       `json:"quality_score"`
}

// SupportsProtocol reports whether the proxy advertises the given protocol.
func (p ProxyRecord) SupportsProtocol(proto string) bool {
	if proto == "" {
		return true
	}
	for _, candidate := range p.Protocols {
		if candidate == proto {
			return true
		}
	}
	return false
}

// RetryConfig bounds backoff behavior for fetch and persistence retries.
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay" mapstructure:"max_delay"`
}

// SessionConfig captures all per-session crawl knobs.
type SessionConfig struct {
	Strategy             StrategyKind             `json:"strategy"`
	MaxPages             int                      `json:"max_pages"`
	MaxDepth             int                      `json:"max_depth"`
	MaxConcurrent        int                      `json:"max_concurrent"`
	DomainConcurrencyCap int                      `json:"domain_concurrency_cap"`
	MinDelayDefault      time.Duration            `json:"min_delay_default"`
	DomainOverrides      map[string]DomainLimits  `json:"domain_overrides,omitempty"`
	AllowDomains         []string                 `json:"allow_domains,omitempty"`
	DenyDomains          []string                 `json:"deny_domains,omitempty"`
	IncludePatterns      []string                 `json:"include_patterns,omitempty"`
	ExcludePatterns      []string                 `json:"exclude_patterns,omitempty"`
	Retry                RetryConfig              `json:"retry"`
	ProxyRequirements    ProxyRequirementsConfig  `json:"proxy_requirements"`
}

// DomainLimits overrides delay and concurrency for a single domain.
type DomainLimits struct {
	MinDelay       time.Duration `json:"min_delay"`
	ConcurrencyCap int           `json:"concurrency_cap"`
}

// ProxyRequirementsConfig constrains proxy selection for a session.
type ProxyRequirementsConfig struct {
	Protocol string  `json:"protocol,omitempty"`
	Region   string  `json:"region,omitempty"`
	MinScore float64 `json:"min_score,omitempty"`
}

// CrawlSession is one bounded execution of the coordinator.
type CrawlSession struct {
	ID             string        `json:"id"`
	Strategy       StrategyKind  `json:"strategy"`
	MaxPages       int           `json:"max_pages"`
	MaxDepth       int           `json:"max_depth"`
	PagesCompleted int           `json:"pages_completed"`
	PagesFailed    int           `json:"pages_failed"`
	Retries        int           `json:"retries"`
	Status         SessionStatus `json:"status"`
	LastError      string        `json:"last_error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
}

// PageRecord is persisted once per completed or permanently failed entry.
type PageRecord struct {
	SessionID  string    `json:"session_id"`
	URL        string    `json:"url"`
	Depth      int       `json:"depth"`
	StatusCode int       `json:"status_code"`
	ProxyID    string    `json:"proxy_id,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
	DurationMs int64     `json:"duration_ms"`
	LinkCount  int       `json:"link_count"`
	BlobURI    string    `json:"blob_uri,omitempty"`
	Failed     bool      `json:"failed"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
}

// ScheduleKind distinguishes one-shot, interval, and cron-style jobs.
type ScheduleKind string

// Supported schedule kinds.
const (
	ScheduleOnce     ScheduleKind = "once"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
)

// JobStatus represents the scheduling state of a job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobActive   JobStatus = "active"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

// ScheduledJob is a recurring or one-shot unit of scheduling.
type ScheduledJob struct {
	ID               string        `json:"id"`
	Kind             ScheduleKind  `json:"kind"`
	RunAt            time.Time     `json:"run_at,omitempty"`
	Interval         time.Duration `json:"interval,omitempty"`
	CronExpr         string        `json:"cron_expr,omitempty"`
	NextRunAt        time.Time     `json:"next_run_at"`
	LastRunResult    string        `json:"last_run_result,omitempty"`
	RetryCount       int           `json:"retry_count"`
	MaxRetries       int           `json:"max_retries"`
	ConcurrencyGroup string        `json:"concurrency_group,omitempty"`
	Status           JobStatus     `json:"status"`
	Seeds            []string      `json:"seeds"`
	Session          SessionConfig `json:"session"`
	SubmittedAt      time.Time     `json:"submitted_at"`
}

// FetchRequest captures everything a collaborator needs to fetch one URL.
type FetchRequest struct {
	SessionID string
	URL       string
	Depth     int
	Proxy     ProxyRecord
}

// FetchResult is returned by a fetch collaborator.
type FetchResult struct {
	URL        string
	StatusCode int
	Body       []byte
	Links      []string
	Duration   time.Duration
}
