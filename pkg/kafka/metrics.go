package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once
	registerer  prometheus.Registerer = prometheus.DefaultRegisterer

	producerMessages *prometheus.CounterVec
	producerBytes    *prometheus.CounterVec
	producerLatency  *prometheus.HistogramVec

	consumerHandled *prometheus.CounterVec
	consumerLatency *prometheus.HistogramVec
	consumerQueue   *prometheus.GaugeVec
	consumerDLQ     *prometheus.CounterVec
)

// SetMetricsRegisterer must be called before the first producer or consumer
// is built. Tests pass a fresh registry.
func SetMetricsRegisterer(reg prometheus.Registerer) { registerer = reg }

func registerMetrics() {
	metricsOnce.Do(func() {
		producerMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "futurespilot_kafka_producer_messages_total",
			Help: "Messages published to Kafka by result.",
		}, []string{"topic", "compression", "result"})
		producerBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "futurespilot_kafka_producer_bytes_total",
			Help: "Payload bytes published to Kafka.",
		}, []string{"topic"})
		producerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "futurespilot_kafka_producer_publish_seconds",
			Help:    "Publish latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		consumerHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "futurespilot_kafka_consumer_messages_total",
			Help: "Messages handled by result (ok, retried_ok, dlq, failed).",
		}, []string{"topic", "result"})
		consumerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "futurespilot_kafka_consumer_handle_seconds",
			Help:    "Handling time per message, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		consumerQueue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "futurespilot_kafka_consumer_queue_depth",
			Help: "Fetched messages waiting for a worker.",
		}, []string{"topic"})
		consumerDLQ = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "futurespilot_kafka_consumer_dlq_errors_total",
			Help: "Failed writes to the dead-letter topic.",
		}, []string{"topic"})

		for _, c := range []prometheus.Collector{
			producerMessages, producerBytes, producerLatency,
			consumerHandled, consumerLatency, consumerQueue, consumerDLQ,
		} {
			if err := registerer.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}

func observePublish(topic, codec string, bytes int, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMessages.WithLabelValues(topic, codec, result).Inc()
	if err == nil {
		producerBytes.WithLabelValues(topic).Add(float64(bytes))
	}
	producerLatency.WithLabelValues(topic).Observe(d.Seconds())
}
