package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ocpi_node"

// 异步结果的处理结局
const (
	OutcomeDelivered = "delivered"
	OutcomeStale     = "stale"
	OutcomeMalformed = "malformed"
)

// Metrics 节点的全部指标。由 New 注册到给定的 Registerer，按实例持有而非全局单例。
type Metrics struct {
	// CommandsAttempted counts outbound commands by command type.
	CommandsAttempted *prometheus.CounterVec
	// CommandsSucceeded counts commands that reached the counterparty and got an ack.
	CommandsSucceeded *prometheus.CounterVec
	// CommandsFailed counts commands that failed before an ack, labeled by failure kind.
	CommandsFailed *prometheus.CounterVec
	// CommandAcks counts immediate acknowledgements by result.
	CommandAcks *prometheus.CounterVec
	// AsyncResults counts inbound async results by outcome.
	AsyncResults *prometheus.CounterVec
	// CommandTimeouts counts commands that resolved with a synthesized TIMEOUT.
	CommandTimeouts *prometheus.CounterVec
	// PendingCommands tracks entries currently held by the correlation registry.
	PendingCommands prometheus.Gauge
	// SendDuration observes the round trip of a command POST.
	SendDuration *prometheus.HistogramVec

	// ListingRequests counts paginated listing requests per module.
	ListingRequests *prometheus.CounterVec

	// EventsPublished counts lifecycle events published to Kafka.
	EventsPublished *prometheus.CounterVec
	// CommandsConsumed counts command requests consumed from Kafka.
	CommandsConsumed *prometheus.CounterVec
	// ActiveSubscribers tracks WebSocket clients on the lifecycle feed.
	ActiveSubscribers prometheus.Gauge
}

// New 在 reg 上注册全部指标。reg 为 nil 时使用默认注册表。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		CommandsAttempted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_attempted_total",
			Help:      "Total number of commands sent to counterparties.",
		}, []string{"command"}),
		CommandsSucceeded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_succeeded_total",
			Help:      "Total number of commands acknowledged by counterparties.",
		}, []string{"command"}),
		CommandsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_failed_total",
			Help:      "Total number of commands that failed before an acknowledgement.",
		}, []string{"command", "kind"}),
		CommandAcks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_acks_total",
			Help:      "Immediate command acknowledgements by result.",
		}, []string{"command", "result"}),
		AsyncResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_results_total",
			Help:      "Inbound async command results by outcome.",
		}, []string{"outcome"}),
		CommandTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_timeouts_total",
			Help:      "Commands whose async result did not arrive before the deadline.",
		}, []string{"command"}),
		PendingCommands: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_commands",
			Help:      "Commands awaiting an async result.",
		}),
		SendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_send_duration_seconds",
			Help:      "Histogram of command POST round trip times.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"command"}),
		ListingRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_requests_total",
			Help:      "Paginated listing requests per module.",
		}, []string{"module"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published to the message broker.",
		}, []string{"event_type"}),
		CommandsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_consumed_total",
			Help:      "Total number of command requests consumed from the message broker.",
		}, []string{"command"}),
		ActiveSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscribers",
			Help:      "WebSocket clients subscribed to the command feed.",
		}),
	}
}

// NewForTest 使用独立注册表，避免重复注册
func NewForTest() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

// ObserveSend 记录一次发送耗时
func (m *Metrics) ObserveSend(command string, d time.Duration) {
	m.SendDuration.WithLabelValues(command).Observe(d.Seconds())
}
