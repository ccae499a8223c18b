package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of communication jobs inserted",
		},
		[]string{"type"},
	)
	JobsDedupSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_dedup_skipped_total",
			Help: "Total number of inserts skipped because the source reference already exists",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)
	JobsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Total number of job attempts rescheduled for retry",
		},
		[]string{"type"},
	)
	JobsDeferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_deferred_total",
			Help: "Total number of jobs deferred without consuming a retry",
		},
		[]string{"reason"},
	)
	JobsFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_sms_fallback_total",
			Help: "Total number of exhausted SMS jobs handed to the email fallback",
		},
	)

	ProviderSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_send_total",
			Help: "Total number of provider send attempts by outcome",
		},
		[]string{"provider", "channel", "outcome"},
	)
	ProviderSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_send_duration_seconds",
			Help:    "Provider send duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM completion requests by outcome",
		},
		[]string{"outcome"},
	)
	LLMRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
	LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total number of LLM tokens by kind",
		},
		[]string{"kind"},
	)

	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of scheduler sweep executions",
		},
		[]string{"task"},
	)
	SweepErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_errors_total",
			Help: "Total number of per-tenant sweep failures",
		},
		[]string{"task"},
	)
	SweepJobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_jobs_created_total",
			Help: "Total number of jobs inserted by scheduler sweeps",
		},
		[]string{"task"},
	)
	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Scheduler sweep duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"task"},
	)
	QueueItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_items_processed_total",
			Help: "Total number of communication queue items processed by outcome",
		},
		[]string{"outcome"},
	)

	TenantPoolsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_pools_open",
			Help: "Number of open tenant database pools",
		},
	)

	CircuitBreakerGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsDedupSkippedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsRetriedTotal)
	prometheus.MustRegister(JobsDeferredTotal)
	prometheus.MustRegister(JobsFallbackTotal)
	prometheus.MustRegister(ProviderSendTotal)
	prometheus.MustRegister(ProviderSendDuration)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(LLMTokensTotal)
	prometheus.MustRegister(SweepRunsTotal)
	prometheus.MustRegister(SweepErrorsTotal)
	prometheus.MustRegister(SweepJobsCreatedTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(QueueItemsTotal)
	prometheus.MustRegister(TenantPoolsOpen)
	prometheus.MustRegister(CircuitBreakerGauge)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func DedupSkip(jobType string) {
	JobsDedupSkippedTotal.WithLabelValues(jobType).Inc()
}

func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}

func RetryJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsRetriedTotal.WithLabelValues(jobType).Inc()
}

// DeferJob records a reschedule that did not consume a retry, such as quiet
// hours or the send throttle.
func DeferJob(jobType, reason string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsDeferredTotal.WithLabelValues(reason).Inc()
}

func FallbackJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
	JobsFallbackTotal.Inc()
}

// ObserveSend records one provider attempt. outcome is sent, rejected,
// rate_limited, or transport_error.
func ObserveSend(provider, channel, outcome string, dur time.Duration) {
	ProviderSendTotal.WithLabelValues(provider, channel, outcome).Inc()
	ProviderSendDuration.WithLabelValues(provider).Observe(dur.Seconds())
}

// ObserveLLM records one completion call. outcome is ok, error, or fallback.
func ObserveLLM(outcome string, dur time.Duration) {
	LLMRequestsTotal.WithLabelValues(outcome).Inc()
	LLMRequestDuration.Observe(dur.Seconds())
}

func AddLLMTokens(prompt, completion int) {
	if prompt > 0 {
		LLMTokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		LLMTokensTotal.WithLabelValues("completion").Add(float64(completion))
	}
}

func SweepRun(task string) {
	SweepRunsTotal.WithLabelValues(task).Inc()
}

func SweepError(task string) {
	SweepErrorsTotal.WithLabelValues(task).Inc()
}

func SweepJobsCreated(task string, n int) {
	if n > 0 {
		SweepJobsCreatedTotal.WithLabelValues(task).Add(float64(n))
	}
}

func ObserveSweep(task string, dur time.Duration) {
	SweepDuration.WithLabelValues(task).Observe(dur.Seconds())
}

func QueueItemProcessed(outcome string) {
	QueueItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordCircuitBreakerStatus exports the breaker state for dashboards.
func RecordCircuitBreakerStatus(name string, state int) {
	CircuitBreakerGauge.WithLabelValues(name).Set(float64(state))
}
