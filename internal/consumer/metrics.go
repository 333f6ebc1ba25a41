package consumer

import "github.com/prometheus/client_golang/prometheus"

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plan_engine",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Number of Kafka messages successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plan_engine",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Handler attempts that failed, including retried ones.",
	}, []string{"topic", "event_type"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plan_engine",
		Subsystem: "consumer",
		Name:      "messages_dropped_total",
		Help:      "Messages committed without successful handling after exhausting retries.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plan_engine",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "plan_engine",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})

	staleSignalCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plan_engine",
		Subsystem: "consumer",
		Name:      "stale_plan_signals_total",
		Help:      "Refresh signals published because an upstream change made a plan stale.",
	}, []string{"event_type", "kind"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, droppedCounter, decodeErrorCounter, lastMessageGauge, staleSignalCounter)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDropped(msg Message) {
	droppedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordStaleSignal(eventType, kind string) {
	staleSignalCounter.WithLabelValues(eventType, kind).Inc()
}
