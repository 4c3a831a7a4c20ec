package api

import (
	"net/http"

	"github.com/charging-platform/ocpi-node/internal/command"
	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// 回调接口的错误描述
const (
	InvalidCommandType = "Invalid command type!"
	InvalidCommandID   = "Invalid command identification!"
	CallbackMismatch   = "callback_id does not match the command identification!"
)

// ReceiveResult 接收对端通过 response_url 回传的异步结果。
// 格式正确的结果总是返回 200，即使没有等待者，避免对端无限重试。
func (s *Server) ReceiveResult(w http.ResponseWriter, r *http.Request) {
	echoHeaders(w, r)
	version := versionFrom(r.Context())

	commandType, ok := ocpi.ParseCommandType(chi.URLParam(r, "command"))
	if !ok {
		s.rejectResult(w, ocpi.BadRequest(InvalidCommandType))
		return
	}
	id, ok := ocpi.TryParse[ocpi.CommandID](chi.URLParam(r, "command_id"))
	if !ok {
		s.rejectResult(w, ocpi.BadRequest(InvalidCommandID))
		return
	}

	body, fault := s.readBody(w, r)
	if fault != nil {
		s.rejectResult(w, fault)
		return
	}
	result, err := ocpi.DecodeAsyncResult(version, body)
	if err != nil {
		s.rejectResult(w, ocpi.BadRequest(err.Error()))
		return
	}
	if err := s.validator.ValidateAsyncResult(result); err != nil {
		s.rejectResult(w, ocpi.BadRequest(err.Error()))
		return
	}
	if result.CallbackID != "" && !ocpi.Equal(ocpi.CommandID(result.CallbackID), id) {
		s.rejectResult(w, ocpi.BadRequest(CallbackMismatch))
		return
	}

	// X-Request-ID 每个请求都会重新生成，只有关联ID会沿调用链保留。
	// 路径上的指令类型与等待中的指令不一致时按过期结果处理。
	identity := ocpi.Identity{
		CommandID:     id,
		CommandType:   commandType,
		CorrelationID: ocpi.CorrelationID(r.Header.Get(command.HeaderCorrelationID)),
	}
	outcome := s.dispatcher.Deliver(identity, version, result)

	s.logger.Debug().
		Str("command_id", string(id)).
		Str("command", string(commandType)).
		Str("result_type", string(result.ResultType)).
		Str("outcome", outcome.String()).
		Msg("Async result received")

	writeEmpty(w)
}

// rejectResult 只统计格式错误的结果，送达与过期由 MetricsObserver 统计
func (s *Server) rejectResult(w http.ResponseWriter, fault *ocpi.Fault) {
	if s.metrics != nil {
		s.metrics.AsyncResults.WithLabelValues(metrics.OutcomeMalformed).Inc()
	}
	s.logger.Warn().Str("reason", fault.Description).Msg("Rejected malformed async result")
	writeFault(w, fault)
}

// echoHeaders 把请求的关联头原样带回
func echoHeaders(w http.ResponseWriter, r *http.Request) {
	for _, h := range []string{command.HeaderRequestID, command.HeaderCorrelationID} {
		if v := r.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
}
