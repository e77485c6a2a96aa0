package observability

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kuksa",
			Subsystem: "engine",
			Name:      "connects_total",
			Help:      "Connect attempts by outcome.",
		},
		[]string{"tls", "result"},
	)
	disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kuksa",
			Subsystem: "engine",
			Name:      "disconnects_total",
			Help:      "Connections ended, by cause.",
		},
		[]string{"cause"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kuksa",
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Routed requests by operation, addressing mode and outcome.",
		},
		[]string{"op", "mode", "result"},
	)
	relayClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kuksa",
			Subsystem: "relay",
			Name:      "clients",
			Help:      "Open websocket relay clients.",
		},
	)
	relayFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kuksa",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames written to relay clients by kind.",
		},
		[]string{"kind"},
	)
)

// RegisterMetrics registers the collectors with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(connects, disconnects, requests, relayClients, relayFrames)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

// Result labels the outcome of an operation.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

func RecordConnect(tls bool, result string) {
	RegisterMetrics()
	connects.WithLabelValues(strconv.FormatBool(tls), result).Inc()
}

func RecordDisconnect(cause string) {
	RegisterMetrics()
	disconnects.WithLabelValues(cause).Inc()
}

func RecordRequest(op, mode, result string) {
	RegisterMetrics()
	requests.WithLabelValues(op, mode, result).Inc()
}

func RelayClientOpened() {
	RegisterMetrics()
	relayClients.Inc()
}

func RelayClientClosed() {
	RegisterMetrics()
	relayClients.Dec()
}

func RecordRelayFrame(kind string) {
	RegisterMetrics()
	relayFrames.WithLabelValues(kind).Inc()
}
