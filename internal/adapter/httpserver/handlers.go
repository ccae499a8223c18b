// Package httpserver exposes the engine's operational HTTP surface: health
// and readiness probes, the supervisor status document, and a
// credential-guarded jobs API for operators.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wrenchworks/dealercomm/internal/config"
	"github.com/wrenchworks/dealercomm/internal/domain"
)

// Server aggregates handler dependencies. Probes and runtime snapshots come
// in as plain closures so the supervisor can wire them from the app layer
// without an import in the other direction.
type Server struct {
	Cfg        config.Config
	Jobs       domain.JobRepository
	Live       func() bool
	InFlight   func() int
	TaskStates func() map[string]time.Time
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
	StartedAt  time.Time
}

// NewServer constructs the HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, jobs domain.JobRepository, live func() bool, inFlight func() int, taskStates func() map[string]time.Time, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:        cfg,
		Jobs:       jobs,
		Live:       live,
		InFlight:   inFlight,
		TaskStates: taskStates,
		DBCheck:    dbCheck,
		RedisCheck: redisCheck,
		StartedAt:  time.Now(),
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// HealthHandler reports process liveness only; it never touches a dependency.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// ReadyzHandler probes the claim loop and the backing stores. Any failed
// check returns 503 so the load balancer parks traffic elsewhere.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		if s.Live != nil {
			if s.Live() {
				checks = append(checks, check{Name: "processor", OK: true})
			} else {
				checks = append(checks, check{Name: "processor", Details: "claim loop not running"})
			}
		}
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "control_store", Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "control_store", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "throttle_store", Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "throttle_store", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// StatusHandler reports the runtime snapshot operators check first during an
// incident: mode, uptime, in-flight work, sweep recency, and queue depth per
// status.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"mode":   s.Cfg.AppEnv,
			"uptime": time.Since(s.StartedAt).Round(time.Second).String(),
		}
		if s.Live != nil {
			doc["processor_live"] = s.Live()
		}
		if s.InFlight != nil {
			doc["in_flight"] = s.InFlight()
		}
		if s.TaskStates != nil {
			tasks := map[string]string{}
			for name, at := range s.TaskStates() {
				if at.IsZero() {
					tasks[name] = "never"
				} else {
					tasks[name] = at.UTC().Format(time.RFC3339)
				}
			}
			doc["scheduler_tasks"] = tasks
		}
		if s.Jobs != nil {
			if counts, err := s.Jobs.CountByStatus(r.Context()); err == nil {
				byStatus := map[string]int64{}
				for st, n := range counts {
					byStatus[string(st)] = n
				}
				doc["jobs_by_status"] = byStatus
			}
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// ListJobsHandler returns recent jobs in one status, most recently updated
// first. An absent status filter means pending.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = string(domain.JobPending)
		}
		if res := ValidateStatus(status); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid status filter", domain.ErrInvalidArgument), res.Errors)
			return
		}
		limitStr := r.URL.Query().Get("limit")
		if res := ValidateLimit(limitStr); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid limit", domain.ErrInvalidArgument), res.Errors)
			return
		}
		limit := 50
		if limitStr != "" {
			limit, _ = strconv.Atoi(limitStr)
		}
		jobs, err := s.Jobs.ListByStatus(r.Context(), domain.JobStatus(status), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		docs := make([]map[string]any, 0, len(jobs))
		for _, j := range jobs {
			docs = append(docs, jobDoc(j))
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": docs, "count": len(docs)})
	}
}

// GetJobHandler returns one job by id.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if res := ValidateJobID(id); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid job id", domain.ErrInvalidArgument), res.Errors)
			return
		}
		job, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, jobDoc(job))
	}
}

// RequeueJobHandler flips a terminal job back to pending with a clean retry
// slate. The optional body holds an RFC 3339 process_after for delaying the
// rerun; an empty body requeues immediately.
func (s *Server) RequeueJobHandler() http.HandlerFunc {
	type request struct {
		ProcessAfter string `json:"process_after" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if res := ValidateJobID(id); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid job id", domain.ErrInvalidArgument), res.Errors)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			var ve validator.ValidationErrors
			if errors.As(err, &ve) {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		var processAfter time.Time
		if req.ProcessAfter != "" {
			processAfter, _ = time.Parse(time.RFC3339, req.ProcessAfter)
		}
		ctx := r.Context()
		if err := s.Jobs.Requeue(ctx, id, processAfter); err != nil {
			writeError(w, r, err, nil)
			return
		}
		job, err := s.Jobs.Get(ctx, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, jobDoc(job))
	}
}

// jobDoc shapes a job row for the ops API. Payloads ride along verbatim;
// operators read them to diagnose failed sends.
func jobDoc(j domain.Job) map[string]any {
	doc := map[string]any{
		"id":            j.ID,
		"tenant_id":     j.TenantID,
		"job_type":      string(j.Type),
		"status":        string(j.Status),
		"retry_count":   j.RetryCount,
		"payload":       j.Payload,
		"process_after": j.ProcessAfter.UTC().Format(time.RFC3339),
		"created_at":    j.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":    j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.LastError != "" {
		doc["last_error"] = j.LastError
	}
	if j.SourceReference != "" {
		doc["source_reference"] = j.SourceReference
	}
	return doc
}
