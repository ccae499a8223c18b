// Package app wires the engine together: the job processor, the scheduler
// sweeps, the ops router, and the supervisor that runs them as one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wrenchworks/dealercomm/internal/adapter/observability"
	"github.com/wrenchworks/dealercomm/internal/config"
	"github.com/wrenchworks/dealercomm/internal/domain"
)

// jobTimeout bounds one job execution so a hung provider call cannot pin a
// worker slot forever.
const jobTimeout = 2 * time.Minute

// Processor claims pending communication jobs and runs them on a bounded
// set of workers. Claims happen on a fixed poll; eligibility (process_after,
// skip-locked rows) is enforced by the repository.
type Processor struct {
	jobs     domain.JobRepository
	configs  ConfigSource
	handlers *Handlers
	policy   domain.RetryPolicy

	pollInterval  time.Duration
	maxConcurrent int

	inFlight atomic.Int64
	live     atomic.Bool
	wg       sync.WaitGroup
}

func NewProcessor(cfg config.Config, jobs domain.JobRepository, configs ConfigSource, handlers *Handlers) *Processor {
	policy := domain.RetryPolicy{MaxRetries: cfg.MaxRetries, Delay: cfg.RetryDelay()}
	if policy.MaxRetries <= 0 || policy.Delay <= 0 {
		policy = domain.DefaultRetryPolicy()
	}
	pollInterval := cfg.PollInterval()
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	maxConcurrent := cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Processor{
		jobs:          jobs,
		configs:       configs,
		handlers:      handlers,
		policy:        policy,
		pollInterval:  pollInterval,
		maxConcurrent: maxConcurrent,
	}
}

// Run polls for claimable jobs until ctx is cancelled. Jobs already in
// flight keep running through cancellation; Drain bounds the wait.
func (p *Processor) Run(ctx context.Context) {
	slog.Info("job processor starting",
		slog.Duration("poll_interval", p.pollInterval),
		slog.Int("max_concurrent", p.maxConcurrent))
	p.live.Store(true)
	defer p.live.Store(false)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("job processor stopping")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Processor) tick(ctx context.Context) {
	free := p.maxConcurrent - int(p.inFlight.Load())
	if free <= 0 {
		return
	}
	jobs, err := p.jobs.ClaimPending(ctx, free)
	if err != nil {
		slog.Error("job claim failed", slog.Any("error", err))
		return
	}
	for _, job := range jobs {
		p.inFlight.Add(1)
		p.wg.Add(1)
		go func(j domain.Job) {
			defer p.wg.Done()
			defer p.inFlight.Add(-1)
			jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
			defer cancel()
			p.runJob(jobCtx, j)
		}(job)
	}
}

func (p *Processor) runJob(ctx context.Context, job domain.Job) {
	tracer := otel.Tracer("jobs.processor")
	ctx, span := tracer.Start(ctx, "processor.runJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.String("tenant.id", job.TenantID),
		attribute.Int("job.retry_count", job.RetryCount),
	)

	observability.StartProcessingJob(string(job.Type))

	cfg, err := p.configs.Get(ctx, job.TenantID)
	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}

	resumeAt, deferred, err := quietHoursDelay(job, cfg)
	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}
	if deferred {
		if err := p.jobs.Reschedule(ctx, job.ID, job.RetryCount, resumeAt, "Deferred for quiet hours"); err != nil {
			slog.Error("job defer update failed", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		observability.DeferJob(string(job.Type), "quiet_hours")
		slog.Info("deferred job due to quiet hours",
			slog.String("job_id", job.ID),
			slog.String("tenant_id", job.TenantID),
			slog.Time("resume_at", resumeAt))
		return
	}

	handler, ok := p.handlers.For(job.Type)
	if !ok {
		// Unknown types can never succeed, so they fail without retries.
		p.markFailed(ctx, job, domain.JobFailed, fmt.Sprintf("Unsupported job type: %s", job.Type))
		observability.FailJob(string(job.Type))
		slog.Error("unsupported job type",
			slog.String("job_id", job.ID),
			slog.String("type", string(job.Type)))
		return
	}

	note, err := handler(ctx, job, cfg)
	if err == nil {
		if err := p.jobs.MarkComplete(ctx, job.ID, note); err != nil {
			slog.Error("job completion update failed", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		observability.CompleteJob(string(job.Type))
		lg := slog.With(
			slog.String("job_id", job.ID),
			slog.String("type", string(job.Type)))
		if note != "" {
			lg = lg.With(slog.String("note", note))
		}
		lg.Info("job processed")
		return
	}

	var deferSend *deferSendError
	if errors.As(err, &deferSend) {
		resume := time.Now().UTC().Add(deferSend.after)
		if err := p.jobs.Reschedule(ctx, job.ID, job.RetryCount, resume, throttleDeferReason); err != nil {
			slog.Error("job defer update failed", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		observability.DeferJob(string(job.Type), "throttle")
		slog.Info("deferred job by send throttle",
			slog.String("job_id", job.ID),
			slog.String("tenant_id", job.TenantID),
			slog.Time("resume_at", resume))
		return
	}

	p.handleFailure(ctx, job, err)
}

// quietHoursDelay reports whether the job must wait out the tenant's quiet
// window and, if so, until when. Jobs flagged urgent bypass the window.
func quietHoursDelay(job domain.Job, cfg domain.TenantConfig) (time.Time, bool, error) {
	if payloadBool(job.Payload, "urgent") {
		return time.Time{}, false, nil
	}
	window, err := domain.ParseQuietWindow(cfg.QuietHoursStart, cfg.QuietHoursEnd)
	if err != nil {
		return time.Time{}, false, err
	}
	now := time.Now().UTC()
	if !window.Contains(now) {
		return time.Time{}, false, nil
	}
	return window.NextAllowed(now), true, nil
}

func (p *Processor) handleFailure(ctx context.Context, job domain.Job, cause error) {
	slog.Error("job processing failed",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.Any("error", cause))

	attempts := job.RetryCount + 1
	switch p.policy.Decide(cause, attempts, job.Type == domain.JobSendSMS) {
	case domain.DecisionRetry:
		next := p.policy.NextAttemptAt(time.Now().UTC())
		if err := p.jobs.Reschedule(ctx, job.ID, attempts, next, cause.Error()); err != nil {
			slog.Error("job retry update failed", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		observability.RetryJob(string(job.Type))
	case domain.DecisionFallback:
		p.tryEmailFallback(ctx, job, cause)
	default:
		p.markFailed(ctx, job, domain.JobFailed, cause.Error())
		observability.FailJob(string(job.Type))
	}
}

// tryEmailFallback converts an exhausted SMS job into a pending email job
// when the customer has an address on file. The SMS job lands in a terminal
// status either way.
func (p *Processor) tryEmailFallback(ctx context.Context, job domain.Job, cause error) {
	customerID := payloadString(job.Payload, "customer_id")
	if customerID == "" {
		p.markFailed(ctx, job, domain.JobFailed, fmt.Sprintf("SMS failed after retries: %v", cause))
		observability.FailJob(string(job.Type))
		return
	}

	contact, err := p.handlers.Gateway.CustomerContact(ctx, job.TenantID, customerID)
	if err != nil || contact.Email == "" {
		p.markFailed(ctx, job, domain.JobFailed, fmt.Sprintf("SMS failed, no fallback email for customer %s", customerID))
		observability.FailJob(string(job.Type))
		return
	}

	subject := payloadString(job.Payload, "subject")
	if subject == "" {
		subject = "SMS Fallback Notification"
	}
	_, inserted, err := p.jobs.Insert(ctx, domain.NewJob{
		TenantID: job.TenantID,
		Type:     domain.JobSendEmail,
		Payload: map[string]any{
			"to":            contact.Email,
			"subject":       subject,
			"body":          payloadString(job.Payload, "body"),
			"source_job_id": job.ID,
		},
		SourceReference: "sms_fallback_" + job.ID,
	})
	if err != nil {
		slog.Error("fallback email insert failed", slog.String("job_id", job.ID), slog.Any("error", err))
		p.markFailed(ctx, job, domain.JobFailed, fmt.Sprintf("SMS failed after retries: %v", cause))
		observability.FailJob(string(job.Type))
		return
	}
	if inserted {
		observability.EnqueueJob(string(domain.JobSendEmail))
	} else {
		observability.DedupSkip(string(domain.JobSendEmail))
	}

	p.markFailed(ctx, job, domain.JobFailedFallbackEmail, fmt.Sprintf("SMS failed but fallback email scheduled for %s", contact.Email))
	observability.FallbackJob(string(job.Type))
	slog.Warn("created fallback email job",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID))
}

func (p *Processor) markFailed(ctx context.Context, job domain.Job, status domain.JobStatus, reason string) {
	if err := p.jobs.MarkFailed(ctx, job.ID, status, reason); err != nil {
		slog.Error("job failure update failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

// InFlight returns the number of jobs currently executing.
func (p *Processor) InFlight() int { return int(p.inFlight.Load()) }

// Live reports whether the poll loop is running. Readiness keys on it.
func (p *Processor) Live() bool { return p.live.Load() }

// Drain waits for in-flight jobs to finish, up to timeout. It reports
// whether everything finished in time.
func (p *Processor) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
