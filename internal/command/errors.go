package command

import (
	"errors"
	"fmt"

	"github.com/charging-platform/ocpi-node/internal/domain/events"
	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
)

// NoRouteMessage 无可用对端地址时报告给调用方的信息
const NoRouteMessage = "No remote URL available"

// NoRouteError 目标方未登记指令模块的接收地址
type NoRouteError struct {
	Target ocpi.Party
	Module ocpi.ModuleID
	Cause  error
}

func (e *NoRouteError) Error() string {
	return NoRouteMessage
}

func (e *NoRouteError) Unwrap() error { return e.Cause }

// TransportError 发送指令时的网络或HTTP层错误
type TransportError struct {
	URL        string
	HTTPStatus int
	Cause      error
}

func (e *TransportError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("transport error: POST %s returned HTTP %d: %v", e.URL, e.HTTPStatus, e.Cause)
	}
	return fmt.Sprintf("transport error: POST %s: %v", e.URL, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// RemoteError 对端返回了非成功的OCPI状态码
type RemoteError struct {
	HTTPStatus    int
	StatusCode    ocpi.StatusCode
	StatusMessage string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("counterparty answered with status %d (HTTP %d): %s", e.StatusCode, e.HTTPStatus, e.StatusMessage)
}

// FailureKind 把发送错误归类为事件与指标使用的失败类型
func FailureKind(err error) events.FailureKind {
	var (
		noRoute   *NoRouteError
		duplicate *DuplicateIDError
		remote    *RemoteError
	)
	switch {
	case errors.As(err, &noRoute):
		return events.FailureNoRoute
	case errors.As(err, &duplicate):
		return events.FailureDuplicate
	case errors.As(err, &remote):
		return events.FailureRejected
	default:
		return events.FailureTransport
	}
}
