package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDispatch(t *testing.T) {
	before := testutil.ToFloat64(DispatchAttempts.WithLabelValues("test", "rate_limit"))
	RecordDispatch("test", "rate_limit")
	RecordDispatch("test", "rate_limit")
	if got := testutil.ToFloat64(DispatchAttempts.WithLabelValues("test", "rate_limit")); got != before+2 {
		t.Errorf("dispatch counter = %v, want %v", got, before+2)
	}
}

func TestRecordPipeline(t *testing.T) {
	okBefore := testutil.ToFloat64(PipelineResults.WithLabelValues("ok"))
	resolvedBefore := testutil.ToFloat64(RecommendationsResolved)
	unresolvedBefore := testutil.ToFloat64(IdentifiersUnresolved)

	RecordPipeline("ok", 3, 1, 250*time.Millisecond)

	if got := testutil.ToFloat64(PipelineResults.WithLabelValues("ok")); got != okBefore+1 {
		t.Errorf("results = %v", got)
	}
	if got := testutil.ToFloat64(RecommendationsResolved); got != resolvedBefore+3 {
		t.Errorf("resolved = %v", got)
	}
	if got := testutil.ToFloat64(IdentifiersUnresolved); got != unresolvedBefore+1 {
		t.Errorf("unresolved = %v", got)
	}
}

func TestSetBreakerState(t *testing.T) {
	SetBreakerState("anthropic", 2)
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("anthropic")); got != 2 {
		t.Errorf("breaker state = %v, want 2", got)
	}
}

func TestRecordBackoffAndHTTP(t *testing.T) {
	RecordBackoff("rate_limit", 2*time.Second)
	RecordHTTPRequest("/healthz", "200", time.Millisecond)
	if got := testutil.CollectAndCount(BackoffSeconds); got == 0 {
		t.Error("backoff histogram has no series")
	}
	if got := testutil.ToFloat64(HTTPRequests.WithLabelValues("/healthz", "200")); got < 1 {
		t.Errorf("http counter = %v", got)
	}
}
