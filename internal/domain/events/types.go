package events

import (
	"time"
)

// EventType 事件类型
type EventType string

const (
	// 指令生命周期事件
	EventTypeCommandSent         EventType = "command.sent"
	EventTypeCommandAcknowledged EventType = "command.acknowledged"
	EventTypeCommandResult       EventType = "command.result"
	EventTypeCommandTimeout      EventType = "command.timeout"
	EventTypeCommandFailed       EventType = "command.failed"

	// 无人等待的回调结果
	EventTypeStaleResult EventType = "command.stale_result"
)

// EventSeverity 事件严重程度
type EventSeverity string

const (
	EventSeverityInfo     EventSeverity = "info"
	EventSeverityWarning  EventSeverity = "warning"
	EventSeverityError    EventSeverity = "error"
	EventSeverityCritical EventSeverity = "critical"
)

// FailureKind 指令失败原因分类
type FailureKind string

const (
	FailureNoRoute   FailureKind = "no_route"
	FailureTransport FailureKind = "transport"
	FailureRejected  FailureKind = "rejected"
	FailureDuplicate FailureKind = "duplicate"
)

// PartyInfo 指令目标方
type PartyInfo struct {
	CountryCode string `json:"country_code"`
	PartyID     string `json:"party_id"`
	Endpoint    string `json:"endpoint,omitempty"`
}

// AckInfo 同步应答信息
type AckInfo struct {
	Result   string        `json:"result"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Messages []string      `json:"messages,omitempty"`
}

// ResultInfo 异步结果信息
type ResultInfo struct {
	ResultType string        `json:"result_type"`
	RawResult  string        `json:"raw_result,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	HasError   bool          `json:"has_error"`
	HasPayload bool          `json:"has_payload"`
}

// ErrorInfo 错误信息
type ErrorInfo struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Metadata 事件元数据
type Metadata struct {
	Source          string                 `json:"source"`                   // 事件源标识
	RequestID       *string                `json:"request_id,omitempty"`     // 请求ID
	CorrelationID   *string                `json:"correlation_id,omitempty"` // 关联ID
	ProtocolVersion string                 `json:"protocol_version"`         // 协议版本
	Custom          map[string]interface{} `json:"custom,omitempty"`         // 自定义字段
}
