package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/groundstream/metric"
)

type relayMetrics struct {
	published     prometheus.Counter
	publishErrors prometheus.Counter
	dropped       prometheus.Counter
}

func newMetrics(registry *metric.Registry, depth func() float64) (*relayMetrics, error) {
	m := &relayMetrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_relay_published_total",
			Help: "Envelopes published to the broker.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_relay_publish_errors_total",
			Help: "Publishes the broker rejected.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_relay_dropped_total",
			Help: "Envelopes discarded because the relay buffer was full.",
		}),
	}
	if registry == nil {
		return m, nil
	}

	collectors := map[string]prometheus.Collector{
		"published_total":      m.published,
		"publish_errors_total": m.publishErrors,
		"dropped_total":        m.dropped,
		"buffer_depth": prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "groundstream_relay_buffer_depth",
			Help: "Envelopes waiting for the publisher goroutine.",
		}, depth),
	}
	for name, c := range collectors {
		if err := registry.Register("relay", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
