// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/config"
	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/dispatcher"
	"github.com/JakeFAU/site-harvester/internal/metrics"
	"github.com/JakeFAU/site-harvester/internal/project"
)

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	jobStore   crawler.JobStore
	dispatcher *dispatcher.Dispatcher
	artifacts  crawler.ArtifactStore
	idGen      crawler.IDGenerator
	clock      crawler.Clock
	cfg        config.Config
	checks     map[string]ReadinessCheck
	logger     *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithArtifacts lets the result endpoint read project files.
func WithArtifacts(store crawler.ArtifactStore) Option {
	return func(s *Server) { s.artifacts = store }
}

// WithReadinessCheck adds a named check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore crawler.JobStore,
	dispatcher *dispatcher.Dispatcher,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		checks:     make(map[string]ReadinessCheck),
		logger:     logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Post("/standard", s.submitStandardJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type jobRequest struct {
	BaseURL     string   `json:"base_url"`
	BaseURLs    []string `json:"base_urls"`
	MaxURLs     *int     `json:"max_urls"`
	MaxDepth    *int     `json:"max_depth"`
	SkipHarvest bool     `json:"skip_harvest"`
}

type standardJobRequest struct {
	Name string `json:"name"`
}

// submitJob accepts one site (base_url) or a batch (base_urls). A batch
// yields one job per site.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sites := req.BaseURLs
	if req.BaseURL != "" {
		sites = append([]string{req.BaseURL}, sites...)
	}
	if len(sites) == 0 {
		writeError(w, http.StatusBadRequest, "base_url required")
		return
	}
	paramsList := make([]crawler.JobParameters, 0, len(sites))
	for _, site := range sites {
		params, err := s.toJobParameters(site, req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		paramsList = append(paramsList, params)
	}

	ids := make([]string, 0, len(paramsList))
	for _, params := range paramsList {
		jobID, err := s.enqueueJob(r.Context(), params)
		if err != nil {
			s.writeEnqueueError(w, err, ids)
			return
		}
		ids = append(ids, jobID)
	}
	if req.BaseURL != "" && len(req.BaseURLs) == 0 {
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": ids[0]})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string][]string{"job_ids": ids})
}

func (s *Server) submitStandardJob(w http.ResponseWriter, r *http.Request) {
	var req standardJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing job name")
		return
	}
	template, ok := s.cfg.StandardJobs[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, "standard job template not found")
		return
	}
	canonical, err := crawler.NormalizeURL(template.BaseURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("standard job %s: %v", req.Name, err))
		return
	}
	template.BaseURL = canonical
	jobID, err := s.enqueueJob(r.Context(), template)
	if err != nil {
		s.writeEnqueueError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type jobResult struct {
	Job      crawler.Job             `json:"job"`
	Snapshot *crawler.Snapshot       `json:"company_data,omitempty"`
	Failures []crawler.FailureRecord `json:"failed_urls"`
}

// getJobResult returns the job with its project's snapshot and failure list.
// Files that do not exist yet are omitted.
func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, jobID, err)
		return
	}
	result := jobResult{Job: job, Failures: []crawler.FailureRecord{}}
	if s.artifacts == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}
	layout := project.ForSite(s.artifacts, s.cfg.Storage.Prefix, job.Parameters.BaseURL)
	snapshot, err := layout.LoadSnapshot(r.Context())
	switch {
	case err == nil:
		result.Snapshot = &snapshot
	case !errors.Is(err, crawler.ErrArtifactNotFound):
		s.logger.Error("load snapshot failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job result")
		return
	}
	failures, err := layout.LoadFailures(r.Context())
	switch {
	case err == nil:
		result.Failures = failures
	case !errors.Is(err, crawler.ErrArtifactNotFound):
		s.logger.Error("load failures failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job result")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// cancelJob sets the job's cancellation flag. The worker observes it and
// records the canceled status itself.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if s.dispatcher.Cancel(jobID) {
		s.logger.Info("job cancel requested", zap.String("job_id", jobID))
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "canceling"})
		return
	}
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusConflict, map[string]string{
		"job_id": jobID,
		"status": string(job.Status),
		"error":  "job is not running",
	})
}

func (s *Server) enqueueJob(ctx context.Context, params crawler.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:         jobID,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
		Counters:   crawler.JobCounters{},
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		BaseURL:   params.BaseURL,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		s.markUnqueued(ctx, jobID, err)
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("job queued", zap.String("job_id", jobID), zap.String("base_url", params.BaseURL))
	return jobID, nil
}

// markUnqueued fails a job row whose queue hand-off did not happen.
func (s *Server) markUnqueued(ctx context.Context, jobID string, cause error) {
	err := s.jobStore.UpdateJobStatus(
		context.WithoutCancel(ctx),
		jobID,
		crawler.JobStatusFailed,
		"enqueue failed: "+cause.Error(),
		crawler.JobCounters{},
	)
	if err != nil {
		s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Server) toJobParameters(site string, req jobRequest) (crawler.JobParameters, error) {
	site = strings.TrimSpace(site)
	if !strings.HasPrefix(site, "http://") && !strings.HasPrefix(site, "https://") {
		return crawler.JobParameters{}, fmt.Errorf("base_url %q must be http or https", site)
	}
	canonical, err := crawler.NormalizeURL(site)
	if err != nil {
		return crawler.JobParameters{}, fmt.Errorf("base_url %q: %w", site, err)
	}
	params := crawler.JobParameters{
		BaseURL:     canonical,
		MaxURLs:     valueOrDefault(req.MaxURLs, s.cfg.Crawler.MaxURLs),
		MaxDepth:    valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepth),
		SkipHarvest: req.SkipHarvest,
	}
	if params.MaxURLs < 0 || params.MaxDepth < 0 {
		return crawler.JobParameters{}, errors.New("max_urls and max_depth must be >= 0")
	}
	return params, nil
}

func (s *Server) writeEnqueueError(w http.ResponseWriter, err error, queued []string) {
	status := http.StatusInternalServerError
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusServiceUnavailable
	}
	s.logger.Error("submit job failed", zap.Strings("queued", queued), zap.Error(err))
	writeJSON(w, status, map[string]any{"error": err.Error(), "job_ids": queued})
}

func (s *Server) writeLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, crawler.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "job lookup failed")
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.String("request_id", reqID),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
