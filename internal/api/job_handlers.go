package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crawlforge/crawld/internal/crawl"
)

type submitJobRequest struct {
	Kind             string     `json:"kind"`
	RunAt            *time.Time `json:"run_at,omitempty"`
	IntervalSeconds  int        `json:"interval_seconds,omitempty"`
	CronExpr         string     `json:"cron_expr,omitempty"`
	MaxRetries       int        `json:"max_retries,omitempty"`
	ConcurrencyGroup string     `json:"concurrency_group,omitempty"`
	Seeds            []string   `json:"seeds"`

	Strategy        *string                        `json:"strategy,omitempty"`
	MaxPages        *int                           `json:"max_pages,omitempty"`
	MaxDepth        *int                           `json:"max_depth,omitempty"`
	MaxConcurrent   *int                           `json:"max_concurrent,omitempty"`
	MinDelayMs      *int                           `json:"min_delay_ms,omitempty"`
	AllowDomains    []string                       `json:"allow_domains,omitempty"`
	DenyDomains     []string                       `json:"deny_domains,omitempty"`
	IncludePatterns []string                       `json:"include_patterns,omitempty"`
	ExcludePatterns []string                       `json:"exclude_patterns,omitempty"`
	DomainOverrides map[string]crawl.DomainLimits  `json:"domain_overrides,omitempty"`
	Proxy           *crawl.ProxyRequirementsConfig `json:"proxy,omitempty"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Seeds) == 0 {
		writeError(w, http.StatusBadRequest, "seeds required")
		return
	}

	job := crawl.ScheduledJob{
		Kind:             crawl.ScheduleKind(strings.ToLower(req.Kind)),
		CronExpr:         req.CronExpr,
		MaxRetries:       req.MaxRetries,
		ConcurrencyGroup: req.ConcurrencyGroup,
		Seeds:            req.Seeds,
		Session:          s.toSessionConfig(req),
	}
	if job.Kind == "" {
		job.Kind = crawl.ScheduleOnce
	}
	if req.RunAt != nil {
		job.RunAt = *req.RunAt
	}
	if req.IntervalSeconds > 0 {
		job.Interval = time.Duration(req.IntervalSeconds) * time.Second
	}

	job, err := s.scheduler.Submit(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"next_run_at": job.NextRunAt,
	})
}

// toSessionConfig starts from the configured defaults and applies the
// request's overrides.
func (s *Server) toSessionConfig(req submitJobRequest) crawl.SessionConfig {
	cfg := s.cfg.SessionConfig()
	if req.Strategy != nil {
		cfg.Strategy = crawl.StrategyKind(*req.Strategy)
	}
	if req.MaxPages != nil {
		cfg.MaxPages = *req.MaxPages
	}
	if req.MaxDepth != nil {
		cfg.MaxDepth = *req.MaxDepth
	}
	if req.MaxConcurrent != nil {
		cfg.MaxConcurrent = *req.MaxConcurrent
	}
	if req.MinDelayMs != nil {
		cfg.MinDelayDefault = time.Duration(*req.MinDelayMs) * time.Millisecond
	}
	cfg.AllowDomains = req.AllowDomains
	cfg.DenyDomains = req.DenyDomains
	cfg.IncludePatterns = req.IncludePatterns
	cfg.ExcludePatterns = req.ExcludePatterns
	cfg.DomainOverrides = req.DomainOverrides
	if req.Proxy != nil {
		cfg.ProxyRequirements = *req.Proxy
	}
	return cfg
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.scheduler.Cancel(r.Context(), jobID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(crawl.JobCanceled)})
}

func (s *Server) resetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.scheduler.Reset(r.Context(), jobID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(crawl.JobActive)})
}
