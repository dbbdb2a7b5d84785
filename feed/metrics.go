package feed

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/groundstream/metric"
)

type feedMetrics struct {
	sent        prometheus.Counter
	sendErrors  prometheus.Counter
	dropped     prometheus.Counter
	connections prometheus.Counter
	clients     prometheus.Gauge
}

func newMetrics(registry *metric.Registry, depth func() float64) (*feedMetrics, error) {
	m := &feedMetrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_feed_messages_sent_total",
			Help: "Frames delivered to feed clients.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_feed_send_errors_total",
			Help: "Client writes that failed or timed out.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_feed_dropped_total",
			Help: "Envelopes discarded because the broadcast buffer was full.",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_feed_connections_total",
			Help: "WebSocket connections accepted since start.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "groundstream_feed_clients",
			Help: "Currently connected feed clients.",
		}),
	}
	if registry == nil {
		return m, nil
	}

	collectors := map[string]prometheus.Collector{
		"messages_sent_total": m.sent,
		"send_errors_total":   m.sendErrors,
		"dropped_total":       m.dropped,
		"connections_total":   m.connections,
		"clients":             m.clients,
		"buffer_depth": prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "groundstream_feed_buffer_depth",
			Help: "Envelopes waiting for the broadcast goroutine.",
		}, depth),
	}
	for name, c := range collectors {
		if err := registry.Register("feed", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
