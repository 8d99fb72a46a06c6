package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

const (
	defaultLeadLimit = 100
	maxLeadLimit     = 1000
	enqueueTimeout   = 5 * time.Second
)

type sourceRequest struct {
	Domain             string         `json:"domain"`
	SourceType         string         `json:"source_type"`
	Name               string         `json:"name"`
	Enabled            *bool          `json:"enabled"`
	StartURLs          []string       `json:"start_urls"`
	Filters            map[string]any `json:"filters"`
	RequestsPerMinute  int            `json:"requests_per_minute"`
	CrawlIntervalHours int            `json:"crawl_interval_hours"`
	MaxPages           int            `json:"max_pages"`
	FollowLinks        *bool          `json:"follow_links"`
	UseBrowser         *bool          `json:"use_browser"`
}

// toConfig applies defaults and validates the request against the
// registered source types.
func (s *Server) toConfig(req sourceRequest) (crawler.SourceConfig, error) {
	if req.Domain == "" {
		return crawler.SourceConfig{}, errors.New("domain is required")
	}
	st := crawler.SourceType(req.SourceType)
	if req.SourceType == "" {
		return crawler.SourceConfig{}, errors.New("source_type is required")
	}
	if _, err := s.registry.Crawler(crawler.SourceConfig{SourceType: st}); err != nil {
		return crawler.SourceConfig{}, err
	}

	cfg := crawler.SourceConfig{
		Domain:             req.Domain,
		SourceType:         st,
		Name:               req.Name,
		Enabled:            true,
		StartURLs:          req.StartURLs,
		Filters:            req.Filters,
		RequestsPerMinute:  req.RequestsPerMinute,
		CrawlIntervalHours: req.CrawlIntervalHours,
		MaxPages:           req.MaxPages,
		FollowLinks:        true,
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.FollowLinks != nil {
		cfg.FollowLinks = *req.FollowLinks
	}
	if req.UseBrowser != nil {
		cfg.UseBrowser = *req.UseBrowser
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = s.defaultRPM
	}
	if cfg.CrawlIntervalHours <= 0 {
		cfg.CrawlIntervalHours = 24
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	return cfg, nil
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg, err := s.toConfig(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.configs.CreateConfig(r.Context(), cfg)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"source": created})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	configs, err := s.configs.ListConfigs(r.Context(), enabledOnly)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": configs})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.GetConfig(r.Context(), chi.URLParam(r, "source_id"))
	if errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"source": cfg})
}

func (s *Server) updateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg, err := s.toConfig(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.ID = chi.URLParam(r, "source_id")

	updated, err := s.configs.UpdateConfig(r.Context(), cfg)
	if errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"source": updated})
}

// triggerCrawl starts a job for a source immediately, outside the
// scheduler's interval.
func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.GetConfig(r.Context(), chi.URLParam(r, "source_id"))
	if errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !cfg.Enabled {
		s.writeError(w, http.StatusConflict, "source is disabled")
		return
	}

	job, err := s.jobs.CreateJob(r.Context(), crawler.Job{
		ConfigID:    cfg.ID,
		Status:      crawler.JobStatusPending,
		TriggeredBy: "api",
		ScheduledAt: s.clock.Now(),
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.jobs.MarkQueued(r.Context(), job.ID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{JobID: job.ID, Submitted: s.clock.Now().Unix()}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	configID := r.URL.Query().Get("source_id")
	status := crawler.JobStatus(r.URL.Query().Get("status"))
	jobs, err := s.jobs.ListJobs(r.Context(), configID, status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobLog(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.jobs.GetJob(r.Context(), jobID); errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	entries, err := s.logs.ListForJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// cancelJob cancels a job that has not started running yet. Running jobs
// finish on their own; the worker owns their terminal transition.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch job.Status {
	case crawler.JobStatusPending, crawler.JobStatusQueued:
	default:
		s.writeError(w, http.StatusConflict, "only pending or queued jobs can be cancelled")
		return
	}

	err = s.jobs.MarkFinished(r.Context(), jobID, crawler.JobStatusCancelled, crawler.JobStats{}, "cancelled via API", s.clock.Now())
	if errors.Is(err, crawler.ErrAlreadyFinished) {
		s.writeError(w, http.StatusConflict, "job already finished")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(crawler.JobStatusCancelled)})
}

// getStats summarizes lead counts per known source domain and job counts
// per status.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.leads.CountLeads(r.Context(), "")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byDomain := map[string]int{}
	for _, domain := range s.registry.Domains() {
		n, err := s.leads.CountLeads(r.Context(), domain)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		byDomain[domain] = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), "", "")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jobsByStatus := map[string]int{}
	for _, job := range jobs {
		jobsByStatus[string(job.Status)]++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"leads_total":     total,
		"leads_by_domain": byDomain,
		"jobs_by_status":  jobsByStatus,
	})
}

func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	limit := defaultLeadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(parsed, maxLeadLimit)
	}

	leads, err := s.leads.ListLeads(r.Context(), domain, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.leads.CountLeads(r.Context(), domain)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"leads": leads, "total": total})
}
