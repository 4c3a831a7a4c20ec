package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event 指令生命周期事件接口
type Event interface {
	// GetID 获取事件ID
	GetID() string
	// GetType 获取事件类型
	GetType() EventType
	// GetCommandID 获取指令ID
	GetCommandID() string
	// GetCommandType 获取指令类型
	GetCommandType() string
	// GetTimestamp 获取事件时间戳
	GetTimestamp() time.Time
	// GetSeverity 获取事件严重程度
	GetSeverity() EventSeverity
	// GetMetadata 获取事件元数据
	GetMetadata() Metadata
	// GetPayload 获取事件载荷
	GetPayload() interface{}
	// ToJSON 序列化为JSON
	ToJSON() ([]byte, error)
}

// BaseEvent 基础事件结构
type BaseEvent struct {
	ID          string        `json:"id"`
	Type        EventType     `json:"type"`
	CommandID   string        `json:"command_id"`
	CommandType string        `json:"command_type"`
	Timestamp   time.Time     `json:"timestamp"`
	Severity    EventSeverity `json:"severity"`
	Metadata    Metadata      `json:"metadata"`
}

func (e *BaseEvent) GetID() string              { return e.ID }
func (e *BaseEvent) GetType() EventType         { return e.Type }
func (e *BaseEvent) GetCommandID() string       { return e.CommandID }
func (e *BaseEvent) GetCommandType() string     { return e.CommandType }
func (e *BaseEvent) GetTimestamp() time.Time    { return e.Timestamp }
func (e *BaseEvent) GetSeverity() EventSeverity { return e.Severity }
func (e *BaseEvent) GetMetadata() Metadata      { return e.Metadata }

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType EventType, commandID, commandType string, severity EventSeverity, metadata Metadata) *BaseEvent {
	return &BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		CommandID:   commandID,
		CommandType: commandType,
		Timestamp:   time.Now().UTC(),
		Severity:    severity,
		Metadata:    metadata,
	}
}

// CommandSentEvent 指令已发出
type CommandSentEvent struct {
	*BaseEvent
	Target      PartyInfo `json:"target"`
	ResponseURL string    `json:"response_url"`
}

// GetPayload 实现Event接口
func (e *CommandSentEvent) GetPayload() interface{} {
	return map[string]interface{}{
		"target":       e.Target,
		"response_url": e.ResponseURL,
	}
}

// ToJSON 实现Event接口
func (e *CommandSentEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// CommandAcknowledgedEvent 收到同步应答
type CommandAcknowledgedEvent struct {
	*BaseEvent
	Ack AckInfo `json:"ack"`
}

// GetPayload 实现Event接口
func (e *CommandAcknowledgedEvent) GetPayload() interface{} {
	return e.Ack
}

// ToJSON 实现Event接口
func (e *CommandAcknowledgedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// CommandResultEvent 指令到达终态，包括超时
type CommandResultEvent struct {
	*BaseEvent
	Result ResultInfo `json:"result"`
}

// GetPayload 实现Event接口
func (e *CommandResultEvent) GetPayload() interface{} {
	return e.Result
}

// ToJSON 实现Event接口
func (e *CommandResultEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// CommandFailedEvent 发送阶段失败
type CommandFailedEvent struct {
	*BaseEvent
	ErrorInfo ErrorInfo `json:"error_info"`
}

// GetPayload 实现Event接口
func (e *CommandFailedEvent) GetPayload() interface{} {
	return e.ErrorInfo
}

// ToJSON 实现Event接口
func (e *CommandFailedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// StaleResultEvent 回调结果没有匹配的等待者
type StaleResultEvent struct {
	*BaseEvent
	Result ResultInfo `json:"result"`
	Reason string     `json:"reason"`
}

// GetPayload 实现Event接口
func (e *StaleResultEvent) GetPayload() interface{} {
	return map[string]interface{}{
		"result": e.Result,
		"reason": e.Reason,
	}
}

// ToJSON 实现Event接口
func (e *StaleResultEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFactory 事件工厂
type EventFactory struct {
	source string
}

// NewEventFactory 创建事件工厂，source 标识事件来源节点
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source}
}

// Metadata 构造带来源的元数据
func (f *EventFactory) Metadata(version, requestID, correlationID string) Metadata {
	m := Metadata{Source: f.source, ProtocolVersion: version}
	if requestID != "" {
		m.RequestID = &requestID
	}
	if correlationID != "" {
		m.CorrelationID = &correlationID
	}
	return m
}

// CreateCommandSentEvent 创建指令发出事件
func (f *EventFactory) CreateCommandSentEvent(commandID, commandType string, target PartyInfo, responseURL string, metadata Metadata) *CommandSentEvent {
	return &CommandSentEvent{
		BaseEvent:   NewBaseEvent(EventTypeCommandSent, commandID, commandType, EventSeverityInfo, metadata),
		Target:      target,
		ResponseURL: responseURL,
	}
}

// CreateCommandAcknowledgedEvent 创建同步应答事件，非ACCEPTED为warning
func (f *EventFactory) CreateCommandAcknowledgedEvent(commandID, commandType string, ack AckInfo, metadata Metadata) *CommandAcknowledgedEvent {
	severity := EventSeverityInfo
	if ack.Result != "ACCEPTED" {
		severity = EventSeverityWarning
	}
	return &CommandAcknowledgedEvent{
		BaseEvent: NewBaseEvent(EventTypeCommandAcknowledged, commandID, commandType, severity, metadata),
		Ack:       ack,
	}
}

// CreateCommandResultEvent 创建终态事件，超时使用单独的事件类型
func (f *EventFactory) CreateCommandResultEvent(commandID, commandType string, result ResultInfo, metadata Metadata) *CommandResultEvent {
	eventType, severity := EventTypeCommandResult, EventSeverityInfo
	switch result.ResultType {
	case "TIMEOUT":
		eventType, severity = EventTypeCommandTimeout, EventSeverityWarning
	case "FAILED", "REJECTED", "NOT_SUPPORTED":
		severity = EventSeverityWarning
	}
	return &CommandResultEvent{
		BaseEvent: NewBaseEvent(eventType, commandID, commandType, severity, metadata),
		Result:    result,
	}
}

// CreateCommandFailedEvent 创建发送失败事件
func (f *EventFactory) CreateCommandFailedEvent(commandID, commandType string, info ErrorInfo, metadata Metadata) *CommandFailedEvent {
	return &CommandFailedEvent{
		BaseEvent: NewBaseEvent(EventTypeCommandFailed, commandID, commandType, EventSeverityError, metadata),
		ErrorInfo: info,
	}
}

// CreateStaleResultEvent 创建过期结果事件
func (f *EventFactory) CreateStaleResultEvent(commandID, commandType string, result ResultInfo, reason string, metadata Metadata) *StaleResultEvent {
	return &StaleResultEvent{
		BaseEvent: NewBaseEvent(EventTypeStaleResult, commandID, commandType, EventSeverityWarning, metadata),
		Result:    result,
		Reason:    reason,
	}
}
