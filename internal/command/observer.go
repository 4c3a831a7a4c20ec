package command

import (
	"time"

	"github.com/charging-platform/ocpi-node/internal/domain/events"
	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/logger"
	"github.com/charging-platform/ocpi-node/internal/metrics"
)

// Attempt 一次发送尝试，URL 在解析到对端地址后填充
type Attempt struct {
	Command *ocpi.Command
	Target  ocpi.Party
	Version ocpi.Version
	URL     string
}

// Observer 指令生命周期观察者，由分发器实例持有
type Observer interface {
	BeforeSend(a *Attempt)
	AfterReceive(a *Attempt, ack ocpi.CommandResponse, elapsed time.Duration)
	OnFailure(a *Attempt, err error)
	OnResult(h *Handle, result ocpi.AsyncResult)
	OnStale(identity ocpi.Identity, version ocpi.Version, result ocpi.AsyncResult)
}

// NopObserver 空实现，便于只关心部分回调的观察者嵌入
type NopObserver struct{}

func (NopObserver) BeforeSend(*Attempt)                                        {}
func (NopObserver) AfterReceive(*Attempt, ocpi.CommandResponse, time.Duration) {}
func (NopObserver) OnFailure(*Attempt, error)                                  {}
func (NopObserver) OnResult(*Handle, ocpi.AsyncResult)                         {}
func (NopObserver) OnStale(ocpi.Identity, ocpi.Version, ocpi.AsyncResult)      {}

// MetricsObserver 把生命周期转换为 Prometheus 指标
type MetricsObserver struct {
	metrics *metrics.Metrics
	pending func() int
}

// NewMetricsObserver pending 用于刷新待处理指令数
func NewMetricsObserver(m *metrics.Metrics, pending func() int) *MetricsObserver {
	return &MetricsObserver{metrics: m, pending: pending}
}

func (o *MetricsObserver) refreshPending() {
	if o.pending != nil {
		o.metrics.PendingCommands.Set(float64(o.pending()))
	}
}

func (o *MetricsObserver) BeforeSend(a *Attempt) {
	o.metrics.CommandsAttempted.WithLabelValues(string(a.Command.Type())).Inc()
}

func (o *MetricsObserver) AfterReceive(a *Attempt, ack ocpi.CommandResponse, elapsed time.Duration) {
	command := string(a.Command.Type())
	o.metrics.CommandsSucceeded.WithLabelValues(command).Inc()
	o.metrics.CommandAcks.WithLabelValues(command, string(ack.Result)).Inc()
	o.metrics.ObserveSend(command, elapsed)
	o.refreshPending()
}

func (o *MetricsObserver) OnFailure(a *Attempt, err error) {
	o.metrics.CommandsFailed.WithLabelValues(string(a.Command.Type()), string(FailureKind(err))).Inc()
	o.refreshPending()
}

func (o *MetricsObserver) OnResult(h *Handle, result ocpi.AsyncResult) {
	if result.IsTimeout() {
		o.metrics.CommandTimeouts.WithLabelValues(string(h.Command().Type())).Inc()
	} else {
		o.metrics.AsyncResults.WithLabelValues(metrics.OutcomeDelivered).Inc()
	}
	o.refreshPending()
}

func (o *MetricsObserver) OnStale(ocpi.Identity, ocpi.Version, ocpi.AsyncResult) {
	o.metrics.AsyncResults.WithLabelValues(metrics.OutcomeStale).Inc()
}

// LoggingObserver 结构化日志
type LoggingObserver struct {
	logger *logger.Logger
}

// NewLoggingObserver 创建日志观察者
func NewLoggingObserver(log *logger.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger.OrNop(log).With("command-lifecycle")}
}

func (o *LoggingObserver) BeforeSend(a *Attempt) {
	o.logger.Debug().
		Str("command_id", string(a.Command.ID())).
		Str("command", string(a.Command.Type())).
		Str("target", a.Target.String()).
		Str("url", a.URL).
		Str("version", string(a.Version)).
		Msg("Sending command")
}

func (o *LoggingObserver) AfterReceive(a *Attempt, ack ocpi.CommandResponse, elapsed time.Duration) {
	o.logger.Info().
		Str("command_id", string(a.Command.ID())).
		Str("command", string(a.Command.Type())).
		Str("result", string(ack.Result)).
		Int("ack_timeout", ack.Timeout).
		Dur("elapsed", elapsed).
		Msg("Command acknowledged")
}

func (o *LoggingObserver) OnFailure(a *Attempt, err error) {
	o.logger.Error().
		Err(err).
		Str("command_id", string(a.Command.ID())).
		Str("command", string(a.Command.Type())).
		Str("target", a.Target.String()).
		Str("kind", string(FailureKind(err))).
		Msg("Command failed")
}

func (o *LoggingObserver) OnResult(h *Handle, result ocpi.AsyncResult) {
	o.logger.Info().
		Str("command_id", string(h.Command().ID())).
		Str("command", string(h.Command().Type())).
		Str("result_type", string(result.ResultType)).
		Dur("elapsed", time.Since(h.Command().CreatedAt())).
		Msg("Command completed")
}

func (o *LoggingObserver) OnStale(identity ocpi.Identity, version ocpi.Version, result ocpi.AsyncResult) {
	o.logger.Warn().
		Str("command_id", string(identity.CommandID)).
		Str("correlation_id", string(identity.CorrelationID)).
		Str("version", string(version)).
		Str("result_type", string(result.ResultType)).
		Msg("Discarding stale async result")
}

// EventPublisher 生命周期事件的发布目标，如 Kafka 生产者或 WebSocket 推送
type EventPublisher interface {
	PublishEvent(event events.Event) error
}

// EventObserver 把生命周期转换为领域事件并发布
type EventObserver struct {
	factory    *events.EventFactory
	publishers []EventPublisher
	logger     *logger.Logger
}

// NewEventObserver 创建事件观察者
func NewEventObserver(factory *events.EventFactory, log *logger.Logger, publishers ...EventPublisher) *EventObserver {
	return &EventObserver{
		factory:    factory,
		publishers: publishers,
		logger:     logger.OrNop(log).With("command-events"),
	}
}

func (o *EventObserver) publish(event events.Event) {
	for _, p := range o.publishers {
		if err := p.PublishEvent(event); err != nil {
			o.logger.Warn().
				Err(err).
				Str("event_type", string(event.GetType())).
				Str("command_id", event.GetCommandID()).
				Msg("Failed to publish command event")
		}
	}
}

func (o *EventObserver) metadata(cmd *ocpi.Command, version ocpi.Version) events.Metadata {
	return o.factory.Metadata(string(version), string(cmd.RequestID()), string(cmd.CorrelationID()))
}

func partyInfo(a *Attempt) events.PartyInfo {
	return events.PartyInfo{
		CountryCode: ocpi.Key(a.Target.CountryCode),
		PartyID:     ocpi.Key(a.Target.PartyID),
		Endpoint:    a.URL,
	}
}

func (o *EventObserver) BeforeSend(a *Attempt) {
	o.publish(o.factory.CreateCommandSentEvent(
		string(a.Command.ID()), string(a.Command.Type()), partyInfo(a), a.Command.ResponseURL(), o.metadata(a.Command, a.Version)))
}

func (o *EventObserver) AfterReceive(a *Attempt, ack ocpi.CommandResponse, _ time.Duration) {
	info := events.AckInfo{Result: string(ack.Result), Timeout: ack.TimeoutDuration()}
	for _, m := range ack.Message {
		info.Messages = append(info.Messages, m.Text)
	}
	o.publish(o.factory.CreateCommandAcknowledgedEvent(
		string(a.Command.ID()), string(a.Command.Type()), info, o.metadata(a.Command, a.Version)))
}

func (o *EventObserver) OnFailure(a *Attempt, err error) {
	info := events.ErrorInfo{Kind: FailureKind(err), Message: err.Error()}
	o.publish(o.factory.CreateCommandFailedEvent(
		string(a.Command.ID()), string(a.Command.Type()), info, o.metadata(a.Command, a.Version)))
}

func (o *EventObserver) OnResult(h *Handle, result ocpi.AsyncResult) {
	cmd := h.Command()
	o.publish(o.factory.CreateCommandResultEvent(
		string(cmd.ID()), string(cmd.Type()), resultInfo(result, time.Since(cmd.CreatedAt())), o.metadata(cmd, h.Version())))
}

func (o *EventObserver) OnStale(identity ocpi.Identity, version ocpi.Version, result ocpi.AsyncResult) {
	metadata := o.factory.Metadata(string(version), string(identity.RequestID), string(identity.CorrelationID))
	o.publish(o.factory.CreateStaleResultEvent(
		string(identity.CommandID), "", resultInfo(result, 0), "no pending command", metadata))
}

func resultInfo(result ocpi.AsyncResult, elapsed time.Duration) events.ResultInfo {
	return events.ResultInfo{
		ResultType: string(result.ResultType),
		RawResult:  result.RawResult,
		Elapsed:    elapsed,
		HasError:   len(result.Error) > 0,
		HasPayload: len(result.Payload) > 0,
	}
}
