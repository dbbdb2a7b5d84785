package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/groundstream/metric"
)

// pipelineMetrics mirrors the pipeline's counters into Prometheus. The
// counters always exist; they are only exported when a metric registry is
// supplied at construction.
type pipelineMetrics struct {
	frames          prometheus.Counter
	decodeErrors    prometheus.Counter
	bundles         prometheus.Counter
	fieldsDropped   prometheus.Counter
	commandsSent    prometheus.Counter
	commandsDropped prometheus.Counter
	sendErrors      prometheus.Counter
}

func newMetrics(registry *metric.Registry, readDepth, sendDepth func() float64) (*pipelineMetrics, error) {
	m := &pipelineMetrics{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_pipeline_frames_total",
			Help: "Frames received from the transport, before decoding.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_pipeline_decode_errors_total",
			Help: "Frames rejected by the codec.",
		}),
		bundles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_pipeline_bundles_total",
			Help: "Bundles committed to the store.",
		}),
		fieldsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_pipeline_fields_dropped_total",
			Help: "Decoded fields dropped because no mapping matched.",
		}),
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_pipeline_commands_sent_total",
			Help: "Commands written to the transport.",
		}),
		commandsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_pipeline_commands_dropped_total",
			Help: "Commands discarded by the send queue overflow policy.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groundstream_pipeline_send_errors_total",
			Help: "Command writes the transport rejected.",
		}),
	}
	if registry == nil {
		return m, nil
	}

	collectors := map[string]prometheus.Collector{
		"frames_total":           m.frames,
		"decode_errors_total":    m.decodeErrors,
		"bundles_total":          m.bundles,
		"fields_dropped_total":   m.fieldsDropped,
		"commands_sent_total":    m.commandsSent,
		"commands_dropped_total": m.commandsDropped,
		"send_errors_total":      m.sendErrors,
		"read_queue_depth": prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "groundstream_pipeline_read_queue_depth",
			Help: "Packets waiting between the read and map workers.",
		}, readDepth),
		"send_queue_depth": prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "groundstream_pipeline_send_queue_depth",
			Help: "Commands waiting for the send worker.",
		}, sendDepth),
	}
	for name, c := range collectors {
		if err := registry.Register("pipeline", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
