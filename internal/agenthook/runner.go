package agenthook

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// Planner decides one step at a time. The runner feeds it the job, the
// decoded session state, and the tool registry; it returns what to do next.
// Implementations typically prompt an LLM with ToolRegistry.Describe.
type Planner interface {
	PlanStep(ctx domain.Context, job domain.AgentJob, session SessionState, tools *ToolRegistry) (StepOutcome, error)
}

// StepOutcome is one planner decision.
type StepOutcome struct {
	Thought string
	// Tool names a registered tool to invoke; empty means think only.
	Tool string
	Args map[string]any
	// Done resolves the job after this step.
	Done bool
	// WaitHuman parks the job for human review instead of iterating on.
	WaitHuman bool
	// Session replaces the persisted session state when non-nil, letting
	// planners advance the checklist or record facts in the ledger.
	Session *SessionState
}

// Runner claims pending agent jobs and drives each one through
// plan/act/record iterations until it resolves, parks for a human, or runs
// out of budget. State persists after every step so a crash resumes
// mid-goal instead of restarting it.
type Runner struct {
	repo    domain.AgentJobRepository
	planner Planner
	tools   *ToolRegistry

	pollInterval  time.Duration
	maxIterations int
}

func NewRunner(repo domain.AgentJobRepository, planner Planner, tools *ToolRegistry, pollInterval time.Duration, maxIterations int) *Runner {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	if maxIterations <= 0 {
		maxIterations = 10
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Runner{
		repo:          repo,
		planner:       planner,
		tools:         tools,
		pollInterval:  pollInterval,
		maxIterations: maxIterations,
	}
}

// Run polls for claimable agent jobs until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("agent runner starting",
		slog.Duration("poll_interval", r.pollInterval),
		slog.Int("max_iterations", r.maxIterations),
		slog.Any("tools", r.tools.Names()))

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("agent runner stopping")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	jobs, err := r.repo.ClaimPending(ctx, 1)
	if err != nil {
		slog.Error("agent job claim failed", slog.Any("error", err))
		return
	}
	for _, job := range jobs {
		r.runJob(ctx, job)
	}
}

func (r *Runner) runJob(ctx context.Context, job domain.AgentJob) {
	tracer := otel.Tracer("agent.runner")
	ctx, span := tracer.Start(ctx, "runner.runJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent_job.id", job.ID),
		attribute.String("tenant.id", job.TenantID),
		attribute.Int("agent_job.iteration_count", job.IterationCount),
	)

	session, err := DecodeSession(job.SessionState)
	if err != nil {
		session = SessionState{Goal: job.Goal, Checklist: job.Checklist}
		r.fail(ctx, job, session, nil, "corrupt session state: "+err.Error())
		return
	}
	if session.Goal == "" {
		session.Goal = job.Goal
		session.Checklist = job.Checklist
	}
	trace, err := DecodeTrace(job.ReasoningTrace)
	if err != nil {
		r.fail(ctx, job, session, nil, "corrupt reasoning trace: "+err.Error())
		return
	}

	budget := job.MaxIterations
	if budget <= 0 {
		budget = r.maxIterations
	}

	for {
		if ctx.Err() != nil {
			// Leave the job in_progress; the stuck sweep reclaims it.
			return
		}
		if job.IterationCount >= budget {
			trace = append(trace, ReasoningStep{
				Iteration: job.IterationCount,
				Thought:   "iteration budget exhausted",
				At:        time.Now().UTC(),
			})
			r.fail(ctx, job, session, trace, "")
			return
		}

		outcome, err := r.planner.PlanStep(ctx, job, session, r.tools)
		if err != nil {
			trace = append(trace, ReasoningStep{
				Iteration: job.IterationCount,
				Thought:   "planner error: " + err.Error(),
				At:        time.Now().UTC(),
			})
			r.fail(ctx, job, session, trace, "")
			return
		}
		if outcome.Session != nil {
			session = *outcome.Session
		}

		step := ReasoningStep{
			Iteration: job.IterationCount,
			Thought:   outcome.Thought,
			Tool:      outcome.Tool,
			Args:      outcome.Args,
			At:        time.Now().UTC(),
		}
		if outcome.Tool != "" {
			tool, ok := r.tools.Get(outcome.Tool)
			if !ok {
				step.Observation = "unknown tool: " + outcome.Tool
			} else if obs, err := tool.Invoke(ctx, outcome.Args); err != nil {
				step.Observation = "error: " + err.Error()
			} else {
				step.Observation = obs
			}
		}
		trace = append(trace, step)
		job.IterationCount++
		job.CurrentStep = session.CurrentStep

		switch {
		case outcome.Done:
			job.Status = domain.AgentResolved
		case outcome.WaitHuman:
			job.Status = domain.AgentWaitingHuman
		default:
			job.Status = domain.AgentInProgress
		}

		if err := r.save(ctx, job, session, trace); err != nil {
			slog.Error("agent job save failed",
				slog.String("agent_job_id", job.ID),
				slog.Any("error", err))
			return
		}
		if job.Status != domain.AgentInProgress {
			slog.Info("agent job finished",
				slog.String("agent_job_id", job.ID),
				slog.String("tenant_id", job.TenantID),
				slog.String("status", string(job.Status)),
				slog.Int("iterations", job.IterationCount))
			return
		}
	}
}

func (r *Runner) fail(ctx context.Context, job domain.AgentJob, session SessionState, trace []ReasoningStep, note string) {
	if note != "" {
		trace = append(trace, ReasoningStep{
			Iteration: job.IterationCount,
			Thought:   note,
			At:        time.Now().UTC(),
		})
	}
	job.Status = domain.AgentFailed
	if err := r.save(ctx, job, session, trace); err != nil {
		slog.Error("agent job failure update failed",
			slog.String("agent_job_id", job.ID),
			slog.Any("error", err))
		return
	}
	slog.Warn("agent job failed",
		slog.String("agent_job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.Int("iterations", job.IterationCount))
}

func (r *Runner) save(ctx context.Context, job domain.AgentJob, session SessionState, trace []ReasoningStep) error {
	stateBytes, err := EncodeSession(session)
	if err != nil {
		return err
	}
	traceBytes, err := EncodeTrace(trace)
	if err != nil {
		return err
	}
	job.SessionState = stateBytes
	job.ReasoningTrace = traceBytes
	return r.repo.Save(ctx, job)
}
