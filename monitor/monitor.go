// monitor/monitor.go
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	ActiveGames       prometheus.Gauge
	ConnectedSessions prometheus.Gauge
	MessagesReceived  prometheus.Counter
	Transitions       *prometheus.CounterVec
	RoundsResolved    prometheus.Counter
	Eliminations      prometheus.Counter
	Winners           *prometheus.CounterVec
	OperationLatency  *prometheus.HistogramVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveGames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_games",
			Help:      "Number of games created and not yet reset by this process",
		}),
		ConnectedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_sessions",
			Help:      "Number of open websocket sessions",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State machine events by outcome",
		}, []string{"event", "result"}),
		RoundsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_resolved_total",
			Help:      "Total number of resolved rounds",
		}),
		Eliminations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eliminations_total",
			Help:      "Total number of eliminated players",
		}),
		Winners: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_won_total",
			Help:      "Finished games by winning side",
		}, []string{"winner"}),
		OperationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Game operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.ActiveGames,
		m.ConnectedSessions,
		m.MessagesReceived,
		m.Transitions,
		m.RoundsResolved,
		m.Eliminations,
		m.Winners,
		m.OperationLatency,
	)

	return m
}

func (m *Metrics) GameCreated() {
	if m == nil {
		return
	}
	m.ActiveGames.Inc()
}

func (m *Metrics) GameDeleted() {
	if m == nil {
		return
	}
	m.ActiveGames.Dec()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ConnectedSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ConnectedSessions.Dec()
}

func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

// Transition counts one state machine event. err nil means it applied.
func (m *Metrics) Transition(event string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.Transitions.WithLabelValues(event, result).Inc()
}

func (m *Metrics) RoundResolved(eliminations int) {
	if m == nil {
		return
	}
	m.RoundsResolved.Inc()
	m.Eliminations.Add(float64(eliminations))
}

func (m *Metrics) GameWon(winner string) {
	if m == nil {
		return
	}
	m.Winners.WithLabelValues(winner).Inc()
}

func (m *Metrics) ObserveOperation(op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// Monitor exposes metrics over HTTP.
type Monitor struct {
	Metrics   *Metrics
	gatherer  prometheus.Gatherer
	startTime time.Time
}

// NewMonitor registers metrics on a fresh registry that also carries the Go
// and process collectors.
func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Monitor{
		Metrics:   NewMetrics(namespace, reg),
		gatherer:  reg,
		startTime: time.Now(),
	}
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startTime)
}
