package orders

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type serviceMetrics struct {
	placed            metric.Int64Counter
	placementFailures metric.Int64Counter
	transitions       metric.Int64Counter
}

// newServiceMetrics falls back to no-op counters if the meter rejects an
// instrument, so callers never nil-check.
func newServiceMetrics() *serviceMetrics {
	m := otel.Meter("orders")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			otel.Handle(err)
			return noop.Int64Counter{}
		}
		return c
	}
	return &serviceMetrics{
		placed:            counter("orders.placed", "orders committed by placement"),
		placementFailures: counter("orders.placement_failures", "placements rejected or rolled back"),
		transitions:       counter("orders.status_transitions", "committed order status changes"),
	}
}

func metricAttrs(kv ...string) metric.AddOption {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(attrs...)
}
