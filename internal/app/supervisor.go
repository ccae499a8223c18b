package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wrenchworks/dealercomm/internal/adapter/ai"
	"github.com/wrenchworks/dealercomm/internal/adapter/httpserver"
	"github.com/wrenchworks/dealercomm/internal/adapter/observability"
	"github.com/wrenchworks/dealercomm/internal/adapter/provider"
	"github.com/wrenchworks/dealercomm/internal/adapter/repo/postgres"
	"github.com/wrenchworks/dealercomm/internal/adapter/tenantstore"
	"github.com/wrenchworks/dealercomm/internal/agenthook"
	"github.com/wrenchworks/dealercomm/internal/config"
	"github.com/wrenchworks/dealercomm/internal/domain"
	"github.com/wrenchworks/dealercomm/internal/service/throttle"
	"github.com/wrenchworks/dealercomm/internal/usecase"
)

// providerHealthWindow sizes the sliding window the delivery-rate monitor
// judges; drift warnings fire when a full window drops more than
// providerHealthDriftMax below the provider's baseline.
const (
	providerHealthWindow   = 50
	providerHealthDriftMax = 0.2

	stuckJobMaxAge        = 10 * time.Minute
	stuckJobSweepInterval = 5 * time.Minute
	retentionInterval     = 24 * time.Hour
)

// Supervisor builds the engine's components from configuration and runs them
// as one process: the job processor, the scheduler sweeps, the stuck-job
// sweeper, data retention, the ops HTTP surface, and optionally the agent
// runner. It owns the connection pools and tears everything down in order on
// shutdown.
type Supervisor struct {
	cfg config.Config

	pool      *pgxpool.Pool
	rdb       *redis.Client
	tenantDBs *tenantstore.Store

	jobs      domain.JobRepository
	agentJobs domain.AgentJobRepository
	configs   ConfigSource
	gateway   *tenantstore.Gateway
	generator domain.ContentGenerator
	throttle  *throttle.Throttle

	processor *Processor
	scheduler *Scheduler
	stuck     *StuckJobSweeper
	retention *postgres.RetentionService
	agents    *agenthook.Runner

	httpSrv *http.Server
}

// NewSupervisor dials the control store and wires every component. The
// returned supervisor is inert until Run.
func NewSupervisor(ctx context.Context, cfg config.Config) (*Supervisor, error) {
	pool, err := postgres.NewPool(ctx, cfg.CentralDBURL, cfg.CentralPoolMaxConns)
	if err != nil {
		return nil, fmt.Errorf("op=app.supervisor: %w", err)
	}

	jobs := postgres.NewJobRepo(pool)
	queue := postgres.NewQueueRepo(pool)
	templates := postgres.NewTemplateRepo(pool)
	tenants := postgres.NewTenantRepo(pool)
	agentJobs := postgres.NewAgentJobRepo(pool)

	configs := usecase.NewTenantConfigService(tenants)
	renderer := usecase.NewTemplateRenderer(templates)

	tenantDBs := tenantstore.NewStore(configs, cfg.TenantPoolMaxConns)
	gateway := tenantstore.NewGateway(tenantDBs, configs)

	var rdb *redis.Client
	var sendThrottle *throttle.Throttle
	if cfg.ThrottleEnabled() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("op=app.supervisor: parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		sendThrottle = throttle.New(rdb, pool, throttle.PerMinute(cfg.SendRatePerMinute))
	}

	llm := ai.NewClient(cfg)
	generator := ai.NewGenerator(renderer, llm)

	handlers := &Handlers{
		Configs:   configs,
		Gateway:   gateway,
		Queue:     queue,
		Generator: generator,
		SMS:       provider.NewTwilio(),
		Email:     provider.NewEmailFactory(),
		Health:    observability.NewProviderHealthMonitor(providerHealthWindow, providerHealthDriftMax),
	}
	if sendThrottle != nil {
		handlers.Throttle = sendThrottle
	}

	processor := NewProcessor(cfg, jobs, configs, handlers)
	scheduler := NewScheduler(cfg, tenants, jobs, queue, gateway, configs, generator)

	var redisCheck func(ctx context.Context) error
	if rdb != nil {
		redisCheck = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	srv := httpserver.NewServer(cfg, jobs,
		processor.Live, processor.InFlight, scheduler.TaskStates,
		pool.Ping, redisCheck)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:           BuildRouter(cfg, srv),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Supervisor{
		cfg:       cfg,
		pool:      pool,
		rdb:       rdb,
		tenantDBs: tenantDBs,
		jobs:      jobs,
		agentJobs: agentJobs,
		configs:   configs,
		gateway:   gateway,
		generator: generator,
		throttle:  sendThrottle,
		processor: processor,
		scheduler: scheduler,
		stuck:     NewStuckJobSweeper(jobs, stuckJobMaxAge, stuckJobSweepInterval),
		retention: postgres.NewRetentionService(pool, cfg.DataRetentionDays),
		agents:    nil,
		httpSrv:   httpSrv,
	}, nil
}

// UsePlanner installs the agent-loop planner and arms the runner over the
// core tool set. Call before Run; the engine ships no planner of its own, so
// without this call the agent loop idles even when enabled.
func (s *Supervisor) UsePlanner(p agenthook.Planner) {
	if p == nil {
		return
	}
	tools := agenthook.NewToolRegistry()
	agenthook.RegisterCoreTools(tools, s.jobs, s.gateway, s.configs, s.generator)
	s.agents = agenthook.NewRunner(s.agentJobs, p, tools, s.cfg.AgentPollInterval(), s.cfg.AgentMaxIterations)
}

// Run gates startup on the control store, starts every loop, and blocks
// until SIGINT/SIGTERM or an HTTP listener failure. It then stops claiming,
// shuts the HTTP surface down, drains in-flight jobs up to the shutdown
// grace, and closes the pools.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient RedisClient
	if s.rdb != nil {
		redisClient = redisPinger{rdb: s.rdb}
	}
	results, _ := RunReadinessChecks(ctx, BuildReadinessChecks(s.pool, redisClient))
	for _, res := range results {
		if res.OK {
			slog.Info("dependency ready", slog.String("name", res.Name))
			continue
		}
		if res.Name == "control_store" {
			return fmt.Errorf("op=app.supervisor: control store not ready: %s", res.Details)
		}
		// The throttle fails open, so a cold Redis delays nothing.
		slog.Warn("dependency not ready, continuing",
			slog.String("name", res.Name),
			slog.String("details", res.Details))
	}

	if err := s.throttle.WarmFromPostgres(ctx); err != nil {
		slog.Warn("send throttle warm-up failed", slog.Any("error", err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	run := func(name string, f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(runCtx)
		}()
		slog.Info("component started", slog.String("component", name))
	}

	run("processor", s.processor.Run)
	run("scheduler", s.scheduler.Run)
	run("stuck_job_sweeper", s.stuck.Run)
	if s.cfg.DataRetentionDays > 0 {
		run("retention", func(ctx context.Context) {
			s.retention.RunPeriodic(ctx, retentionInterval)
		})
	}
	if s.cfg.AgentEnabled() {
		if s.agents != nil {
			run("agent_runner", s.agents.Run)
		} else {
			slog.Warn("agent loop enabled but no planner installed; agent jobs stay pending")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", s.cfg.HealthPort))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.Any("error", err))
		}
	}

	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), s.cfg.ServerShutdownTimeout)
	defer cancelShutdown()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", slog.Any("error", err))
	}

	if !s.processor.Drain(s.cfg.ShutdownGrace()) {
		slog.Warn("shutdown grace expired with jobs still in flight",
			slog.Int("in_flight", s.processor.InFlight()))
	}
	wg.Wait()

	s.tenantDBs.Close()
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			slog.Error("redis close failed", slog.Any("error", err))
		}
	}
	s.pool.Close()
	slog.Info("engine stopped")
	return nil
}

// redisPinger narrows *redis.Client to the readiness probe's interface.
type redisPinger struct{ rdb *redis.Client }

func (r redisPinger) Ping(ctx context.Context) RedisPingResult { return r.rdb.Ping(ctx) }
