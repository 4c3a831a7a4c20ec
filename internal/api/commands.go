package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charging-platform/ocpi-node/internal/command"
	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/domain/validation"
	"github.com/go-chi/chi/v5"
)

// WaitExceeded 同步等待超过上限时的描述
const WaitExceeded = "Async result not received within the wait limit"

// initiateRequest POST /api/commands/{command} 的请求体
type initiateRequest struct {
	CountryCode string          `json:"country_code"`
	PartyID     string          `json:"party_id"`
	Version     string          `json:"version,omitempty"`
	CommandID   string          `json:"command_id,omitempty"`
	Timeout     int             `json:"timeout,omitempty"`
	Wait        bool            `json:"wait,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// InitiateResponse 发起指令的返回。Result 仅在 wait=true 且对端接受时出现。
type InitiateResponse struct {
	CommandID     ocpi.CommandID       `json:"command_id"`
	RequestID     ocpi.RequestID       `json:"request_id"`
	CorrelationID ocpi.CorrelationID   `json:"correlation_id"`
	ResponseURL   string               `json:"response_url"`
	Ack           ocpi.CommandResponse `json:"ack"`
	Deadline      *time.Time           `json:"deadline,omitempty"`
	Result        *ocpi.AsyncResult    `json:"result,omitempty"`
}

// InitiateCommand 内部服务发起一条远程指令
func (s *Server) InitiateCommand(w http.ResponseWriter, r *http.Request) {
	commandType, ok := ocpi.ParseCommandType(chi.URLParam(r, "command"))
	if !ok {
		writeFault(w, ocpi.BadRequest(InvalidCommandType))
		return
	}

	var body initiateRequest
	if fault := s.decodeBody(w, r, &body); fault != nil {
		writeFault(w, fault)
		return
	}
	target, err := s.validator.ValidateParty(body.CountryCode, body.PartyID)
	if err != nil {
		writeFault(w, ocpi.BadRequest(err.Error()))
		return
	}
	version, err := s.validator.ValidateVersion(body.Version)
	if err != nil {
		writeFault(w, &ocpi.Fault{HTTPStatus: http.StatusBadRequest, StatusCode: ocpi.StatusUnsupportedVersion, Description: UnsupportedVersion})
		return
	}
	if body.Timeout < 0 {
		writeFault(w, ocpi.BadRequest("Invalid timeout!"))
		return
	}

	cmd, res, err := s.initiator.Initiate(r.Context(), command.Request{
		Target:    target,
		Version:   version,
		Type:      commandType,
		Payload:   body.Payload,
		CommandID: ocpi.CommandID(body.CommandID),
		Timeout:   time.Duration(body.Timeout) * time.Second,
	})
	if err != nil {
		writeFault(w, commandFault(err))
		return
	}

	resp := InitiateResponse{
		CommandID:     cmd.ID(),
		RequestID:     cmd.RequestID(),
		CorrelationID: cmd.CorrelationID(),
		ResponseURL:   cmd.ResponseURL(),
		Ack:           res.Ack,
	}
	if res.Accepted() {
		deadline := res.Handle.Deadline()
		if !deadline.IsZero() {
			resp.Deadline = &deadline
		}
		if body.Wait {
			ctx, cancel := context.WithTimeout(r.Context(), s.options.MaxWait)
			result, err := res.Handle.Await(ctx)
			cancel()
			if err != nil {
				if r.Context().Err() != nil {
					// 调用方已断开，条目保留到超时
					s.logger.Debug().Err(err).Str("command_id", string(cmd.ID())).Msg("Caller stopped waiting for async result")
					return
				}
				// 结果仍会通过事件推送，这里只返回指令标识和截止时间
				s.logger.Info().
					Str("command_id", string(cmd.ID())).
					Dur("max_wait", s.options.MaxWait).
					Msg("Stopped waiting for async result")
				writeJSON(w, http.StatusGatewayTimeout, ocpi.Response[InitiateResponse]{
					Data:          resp,
					StatusCode:    ocpi.StatusServerError,
					StatusMessage: WaitExceeded,
					Timestamp:     time.Now().UTC(),
				})
				return
			}
			resp.Result = &result
		}
	}
	writeData(w, http.StatusOK, resp)
}

// commandFault 把发送错误映射为信封
func commandFault(err error) *ocpi.Fault {
	var (
		single    validation.ValidationError
		multiple  validation.ValidationErrors
		duplicate *command.DuplicateIDError
		noRoute   *command.NoRouteError
		transport *command.TransportError
		remote    *command.RemoteError
	)
	switch {
	case errors.As(err, &single), errors.As(err, &multiple):
		return ocpi.BadRequest(err.Error())
	case errors.As(err, &duplicate):
		return &ocpi.Fault{HTTPStatus: http.StatusConflict, StatusCode: ocpi.StatusInvalidParameters, Description: duplicate.Error()}
	case errors.As(err, &noRoute):
		return &ocpi.Fault{HTTPStatus: http.StatusBadGateway, StatusCode: ocpi.StatusNoMatchingEndpoints, Description: command.NoRouteMessage}
	case errors.As(err, &transport), errors.As(err, &remote):
		return &ocpi.Fault{HTTPStatus: http.StatusBadGateway, StatusCode: ocpi.StatusUnableToUseClientAPI, Description: err.Error()}
	case errors.Is(err, command.ErrRegistryClosed):
		return &ocpi.Fault{HTTPStatus: http.StatusServiceUnavailable, StatusCode: ocpi.StatusServerError, Description: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &ocpi.Fault{HTTPStatus: http.StatusGatewayTimeout, StatusCode: ocpi.StatusServerError, Description: err.Error()}
	default:
		return ocpi.ServerFault(ocpi.StatusServerError, err.Error())
	}
}
