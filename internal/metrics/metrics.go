// Package metrics holds the gateway's OpenTelemetry instruments and a
// plain-text /metrics exposition backed by a manual reader, so operators can
// curl the endpoint without an OTLP collector.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const scopeName = "github.com/zankora/agw/internal/metrics"

// Instruments holds every metric the gateway records.
type Instruments struct {
	reader *sdkmetric.ManualReader
	mp     *sdkmetric.MeterProvider

	WSConnections  metric.Int64UpDownCounter
	RPCRequests    metric.Int64Counter
	RPCErrors      metric.Int64Counter
	AgentRuns      metric.Int64Counter
	RunLatency     metric.Float64Histogram
	InboundTotal   metric.Int64Counter
	BlockedActions metric.Int64Counter
}

// New builds the instruments over a dedicated meter provider with a manual
// reader; collection happens only when the /metrics handler is hit.
func New() (*Instruments, error) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter(scopeName)

	inst := &Instruments{reader: reader, mp: mp}

	var err error
	if inst.WSConnections, err = meter.Int64UpDownCounter("agw_ws_connections",
		metric.WithDescription("Open WebSocket control-plane connections")); err != nil {
		return nil, err
	}
	if inst.RPCRequests, err = meter.Int64Counter("agw_rpc_requests_total",
		metric.WithDescription("RPC requests by method")); err != nil {
		return nil, err
	}
	if inst.RPCErrors, err = meter.Int64Counter("agw_rpc_errors_total",
		metric.WithDescription("Failed RPC requests by method and code")); err != nil {
		return nil, err
	}
	if inst.AgentRuns, err = meter.Int64Counter("agw_agent_runs_total",
		metric.WithDescription("Finished agent runs by status")); err != nil {
		return nil, err
	}
	if inst.RunLatency, err = meter.Float64Histogram("agw_agent_run_latency_seconds",
		metric.WithDescription("Agent run duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if inst.InboundTotal, err = meter.Int64Counter("agw_inbound_messages_total",
		metric.WithDescription("Accepted inbound messages by channel")); err != nil {
		return nil, err
	}
	if inst.BlockedActions, err = meter.Int64Counter("agw_blocked_actions_total",
		metric.WithDescription("Policy denials by reason")); err != nil {
		return nil, err
	}
	return inst, nil
}

// Shutdown flushes and stops the meter provider.
func (i *Instruments) Shutdown(ctx context.Context) error {
	return i.mp.Shutdown(ctx)
}

// Handler serves the current metric values as plain text, one
// "name{attrs} value" line per series, sorted for stable output.
func (i *Instruments) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rm metricdata.ResourceMetrics
		if err := i.reader.Collect(r.Context(), &rm); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(render(&rm)))
	})
}

func render(rm *metricdata.ResourceMetrics) string {
	var lines []string
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					lines = append(lines, fmt.Sprintf("%s%s %d", m.Name, attrString(dp.Attributes.ToSlice()), dp.Value))
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					lines = append(lines, fmt.Sprintf("%s%s %g", m.Name, attrString(dp.Attributes.ToSlice()), dp.Value))
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					attrs := attrString(dp.Attributes.ToSlice())
					lines = append(lines,
						fmt.Sprintf("%s_count%s %d", m.Name, attrs, dp.Count),
						fmt.Sprintf("%s_sum%s %g", m.Name, attrs, dp.Sum),
					)
				}
			}
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n"
}

func attrString(kvs []attribute.KeyValue) string {
	if len(kvs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		parts = append(parts, fmt.Sprintf("%s=%q", string(kv.Key), kv.Value.Emit()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
