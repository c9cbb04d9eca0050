// Package wsmetrics 基于 Prometheus 的 ws.Metrics 实现
package wsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokmz/wspipe/pkg/ws"
)

const subsystem = "ws"

var _ ws.Metrics = (*Prometheus)(nil)

// Prometheus ws.Metrics 的 Prometheus 实现
type Prometheus struct {
	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	connectionsDead     prometheus.Counter

	messagesReceived *prometheus.CounterVec
	messageDuration  *prometheus.HistogramVec
	messageErrors    *prometheus.CounterVec

	framesSent      prometheus.Counter
	sendErrors      prometheus.Counter
	broadcastFanout prometheus.Histogram
}

// New 创建并注册指标，reg 为 nil 时使用默认注册器
func New(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Prometheus{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_active",
			Help:      "Number of tracked WebSocket connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_total",
			Help:      "Total number of admitted WebSocket connections",
		}),
		connectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_rejected_total",
			Help:      "Total connections rejected during admission by error kind",
		}, []string{"kind"}),
		connectionsDead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_dead_total",
			Help:      "Total heartbeat rounds that marked a connection dead",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_received_total",
			Help:      "Total inbound frames by channel",
		}, []string{"channel"}),
		messageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "message_duration_seconds",
			Help:      "Inbound message pipeline duration",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"channel"}),
		messageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "message_errors_total",
			Help:      "Total inbound message failures by error kind",
		}, []string{"kind"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_sent_total",
			Help:      "Total outbound frames written",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_errors_total",
			Help:      "Total outbound frames that failed to write",
		}),
		broadcastFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "broadcast_fanout",
			Help:      "Recipients per broadcast",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	collectors := []prometheus.Collector{
		m.connectionsActive,
		m.connectionsTotal,
		m.connectionsRejected,
		m.connectionsDead,
		m.messagesReceived,
		m.messageDuration,
		m.messageErrors,
		m.framesSent,
		m.sendErrors,
		m.broadcastFanout,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Prometheus) IncrementConnections() {
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

func (m *Prometheus) DecrementConnections() {
	m.connectionsActive.Dec()
}

func (m *Prometheus) SetConnectionCount(count int) {
	m.connectionsActive.Set(float64(count))
}

func (m *Prometheus) IncrementRejectedConnections(kind string) {
	m.connectionsRejected.WithLabelValues(kind).Inc()
}

func (m *Prometheus) IncrementDeadConnections() {
	m.connectionsDead.Inc()
}

func (m *Prometheus) IncrementMessageCount(channel string) {
	m.messagesReceived.WithLabelValues(channel).Inc()
}

func (m *Prometheus) RecordMessageLatency(channel string, d time.Duration) {
	m.messageDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Prometheus) IncrementMessageErrors(kind string) {
	m.messageErrors.WithLabelValues(kind).Inc()
}

func (m *Prometheus) IncrementSentMessages() {
	m.framesSent.Inc()
}

func (m *Prometheus) IncrementSendErrors() {
	m.sendErrors.Inc()
}

func (m *Prometheus) RecordBroadcastFanout(recipients int) {
	m.broadcastFanout.Observe(float64(recipients))
}
