package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestHandlerRendersCounters(t *testing.T) {
	inst, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Shutdown(context.Background())

	ctx := context.Background()
	inst.WSConnections.Add(ctx, 2)
	inst.RPCRequests.Add(ctx, 3, metric.WithAttributes(attribute.String("method", "hello")))
	inst.BlockedActions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "tool_not_allowed")))
	inst.RunLatency.Record(ctx, 0.25)

	rec := httptest.NewRecorder()
	inst.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"agw_ws_connections 2",
		`agw_rpc_requests_total{method="hello"} 3`,
		`agw_blocked_actions_total{reason="tool_not_allowed"} 1`,
		"agw_agent_run_latency_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}
