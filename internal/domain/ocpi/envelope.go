package ocpi

import (
	"fmt"
	"net/http"
	"time"
)

// StatusCode OCPI 业务状态码，与HTTP状态码相互独立
type StatusCode int

const (
	StatusSuccess StatusCode = 1000

	StatusClientError          StatusCode = 2000
	StatusInvalidParameters    StatusCode = 2001
	StatusNotEnoughInformation StatusCode = 2002
	StatusUnknownLocation      StatusCode = 2003
	StatusUnknownToken         StatusCode = 2004

	StatusServerError          StatusCode = 3000
	StatusUnableToUseClientAPI StatusCode = 3001
	StatusUnsupportedVersion   StatusCode = 3002
	StatusNoMatchingEndpoints  StatusCode = 3003
)

// IsSuccess 1000-1999
func (c StatusCode) IsSuccess() bool { return c >= 1000 && c < 2000 }

// IsClientError 2000-2999
func (c StatusCode) IsClientError() bool { return c >= 2000 && c < 3000 }

// IsServerError 3000-3999
func (c StatusCode) IsServerError() bool { return c >= 3000 && c < 4000 }

// Response 通用响应信封
type Response[T any] struct {
	Data          T          `json:"data,omitempty"`
	StatusCode    StatusCode `json:"status_code"`
	StatusMessage string     `json:"status_message,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// NewResponse 创建成功响应
func NewResponse[T any](data T) Response[T] {
	return Response[T]{
		Data:       data,
		StatusCode: StatusSuccess,
		Timestamp:  time.Now().UTC(),
	}
}

// FaultDetail 错误响应中的data部分
type FaultDetail struct {
	Description string `json:"description"`
}

// Fault 结构化的请求错误，携带HTTP状态和OCPI状态码
type Fault struct {
	HTTPStatus  int
	StatusCode  StatusCode
	Description string
}

// Error 实现error接口
func (f *Fault) Error() string {
	if f.Description == "" {
		return fmt.Sprintf("ocpi fault %d (http %d)", f.StatusCode, f.HTTPStatus)
	}
	return fmt.Sprintf("ocpi fault %d (http %d): %s", f.StatusCode, f.HTTPStatus, f.Description)
}

// Envelope 将错误转换为响应信封
func (f *Fault) Envelope() Response[*FaultDetail] {
	resp := Response[*FaultDetail]{
		StatusCode:    f.StatusCode,
		StatusMessage: f.Description,
		Timestamp:     time.Now().UTC(),
	}
	if f.Description != "" {
		resp.Data = &FaultDetail{Description: f.Description}
	}
	return resp
}

// BadRequest 400, 参数无法解析
func BadRequest(description string) *Fault {
	return &Fault{HTTPStatus: http.StatusBadRequest, StatusCode: StatusInvalidParameters, Description: description}
}

// NotFound 404, 标识符合法但不存在
func NotFound(code StatusCode, description string) *Fault {
	return &Fault{HTTPStatus: http.StatusNotFound, StatusCode: code, Description: description}
}

// ServerFault 服务端错误，仍然以信封形式返回
func ServerFault(code StatusCode, description string) *Fault {
	return &Fault{HTTPStatus: http.StatusInternalServerError, StatusCode: code, Description: description}
}
