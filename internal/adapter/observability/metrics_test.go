package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPMetricsMiddleware_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) }))
	mw.ServeHTTP(rec, r)
	if rec.Result().StatusCode != 204 {
		t.Fatalf("want 204")
	}
}

func TestJobMetricsHelpers(t *testing.T) {
	InitMetrics()
	EnqueueJob("send_email")
	DedupSkip("send_email")
	StartProcessingJob("send_email")
	CompleteJob("send_email")
	StartProcessingJob("send_sms")
	RetryJob("send_sms")
	StartProcessingJob("send_sms")
	FallbackJob("send_sms")
	StartProcessingJob("notify_customer")
	FailJob("notify_customer")
	StartProcessingJob("send_sms")
	DeferJob("send_sms", "quiet_hours")
	ObserveSend("twilio", "sms", "sent", 120*time.Millisecond)
	ObserveLLM("ok", 800*time.Millisecond)
	AddLLMTokens(250, 180)
	SweepRun("service_reminder")
	SweepError("service_reminder")
	SweepJobsCreated("service_reminder", 4)
	ObserveSweep("service_reminder", 350*time.Millisecond)
	QueueItemProcessed("sent")
	RecordCircuitBreakerStatus("llm", 1)
	TenantPoolsOpen.Set(3)
}
