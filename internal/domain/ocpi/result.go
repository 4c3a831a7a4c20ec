package ocpi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DisplayText 多语言文本
type DisplayText struct {
	Language string `json:"language" validate:"required,len=2"`
	Text     string `json:"text" validate:"required,max=512"`
}

// CommandResponseType 同步应答结果
type CommandResponseType string

const (
	ResponseAccepted     CommandResponseType = "ACCEPTED"
	ResponseRejected     CommandResponseType = "REJECTED"
	ResponseNotSupported CommandResponseType = "NOT_SUPPORTED"

	// 2.2 中停止会话可能返回，按拒绝处理
	responseUnknownSession CommandResponseType = "UNKNOWN_SESSION"
)

// IsAccepted 是否进入等待异步结果阶段
func (t CommandResponseType) IsAccepted() bool { return t == ResponseAccepted }

// CommandResponse 指令POST的同步应答，位于响应信封的data中
type CommandResponse struct {
	Result  CommandResponseType `json:"result"`
	Timeout int                 `json:"timeout,omitempty"`
	Message []DisplayText       `json:"message,omitempty"`
}

// TimeoutDuration 应答声明的超时时间，未声明时返回0
func (r CommandResponse) TimeoutDuration() time.Duration {
	if r.Timeout <= 0 {
		return 0
	}
	return time.Duration(r.Timeout) * time.Second
}

// DecodeCommandResponse 从响应信封中解析同步应答
func DecodeCommandResponse(body []byte) (CommandResponse, StatusCode, error) {
	var envelope Response[*CommandResponse]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return CommandResponse{}, 0, fmt.Errorf("invalid response envelope: %w", err)
	}
	if envelope.Data == nil {
		return CommandResponse{}, envelope.StatusCode, errors.New("response envelope carries no command response")
	}

	resp := *envelope.Data
	switch CommandResponseType(strings.ToUpper(string(resp.Result))) {
	case ResponseAccepted:
		resp.Result = ResponseAccepted
	case ResponseRejected, responseUnknownSession:
		resp.Result = ResponseRejected
	case ResponseNotSupported:
		resp.Result = ResponseNotSupported
	default:
		return CommandResponse{}, envelope.StatusCode, fmt.Errorf("unknown command response result %q", resp.Result)
	}
	return resp, envelope.StatusCode, nil
}

// ResultType 异步结果类型
type ResultType string

const (
	ResultSuccess      ResultType = "SUCCESS"
	ResultFailed       ResultType = "FAILED"
	ResultNotSupported ResultType = "NOT_SUPPORTED"
	ResultRejected     ResultType = "REJECTED"
	ResultTimeout      ResultType = "TIMEOUT"
)

// 2.x 结果值到统一结果类型的映射
var legacyResults = map[string]ResultType{
	"ACCEPTED":             ResultSuccess,
	"SUCCESS":              ResultSuccess,
	"CANCELED_RESERVATION": ResultFailed,
	"EVSE_OCCUPIED":        ResultFailed,
	"EVSE_INOPERATIVE":     ResultFailed,
	"UNKNOWN_RESERVATION":  ResultFailed,
	"FAILED":               ResultFailed,
	"REJECTED":             ResultRejected,
	"NOT_SUPPORTED":        ResultNotSupported,
	"TIMEOUT":              ResultTimeout,
}

var resultTypes = map[string]ResultType{
	"SUCCESS":       ResultSuccess,
	"FAILED":        ResultFailed,
	"NOT_SUPPORTED": ResultNotSupported,
	"REJECTED":      ResultRejected,
	"TIMEOUT":       ResultTimeout,
}

// AsyncResult 对端通过response_url回传的最终结果
type AsyncResult struct {
	ResultType ResultType      `json:"result_type"`
	Error      json.RawMessage `json:"error,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Message    []DisplayText   `json:"message,omitempty"`
	CallbackID string          `json:"callback_id,omitempty"`
	// RawResult 2.x 中对端上报的原始值
	RawResult  string    `json:"raw_result,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// IsTimeout 是否为本地合成的超时结果
func (r AsyncResult) IsTimeout() bool { return r.ResultType == ResultTimeout }

// TimeoutResult 截止时间到达时合成的结果
func TimeoutResult() AsyncResult {
	return AsyncResult{ResultType: ResultTimeout, ReceivedAt: time.Now().UTC()}
}

type asyncResultWire struct {
	ResultType *string         `json:"result_type"`
	Result     *string         `json:"result"`
	Error      json.RawMessage `json:"error"`
	Payload    json.RawMessage `json:"payload"`
	Message    []DisplayText   `json:"message"`
	CallbackID *string         `json:"callback_id"`
}

// DecodeAsyncResult 按协议版本解析异步结果。
// 3.0 使用 result_type，2.x 使用 result；两者都出现时以版本对应的字段为准。
func DecodeAsyncResult(version Version, body []byte) (AsyncResult, error) {
	var wire asyncResultWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return AsyncResult{}, fmt.Errorf("invalid async result body: %w", err)
	}

	primary, fallback := wire.ResultType, wire.Result
	table := resultTypes
	if version.IsLegacy() {
		primary, fallback = wire.Result, wire.ResultType
		table = legacyResults
	}
	raw := primary
	if raw == nil {
		raw = fallback
	}
	if raw == nil || *raw == "" {
		return AsyncResult{}, errors.New("async result carries no result type")
	}

	value := strings.ToUpper(*raw)
	resultType, ok := table[value]
	if !ok {
		// 字段回退时按另一版本的取值表再试一次
		if resultType, ok = legacyResults[value]; !ok {
			return AsyncResult{}, fmt.Errorf("unknown async result type %q", *raw)
		}
	}

	result := AsyncResult{
		ResultType: resultType,
		Error:      wire.Error,
		Payload:    wire.Payload,
		Message:    wire.Message,
		ReceivedAt: time.Now().UTC(),
	}
	if version.IsLegacy() {
		result.RawResult = value
	}
	if wire.CallbackID != nil {
		result.CallbackID = *wire.CallbackID
	}
	return result, nil
}
