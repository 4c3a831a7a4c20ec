package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/domain/validation"
)

// Request 内部服务发起指令的请求，来自管理API或Kafka
type Request struct {
	Target    ocpi.Party
	Version   ocpi.Version
	Type      ocpi.CommandType
	Payload   json.RawMessage
	CommandID ocpi.CommandID
	Timeout   time.Duration
}

// CallbackBaseFunc 按协议版本返回本方指令模块的绝对地址
type CallbackBaseFunc func(version ocpi.Version) string

// Initiator 构造并校验指令后交给分发器
type Initiator struct {
	dispatcher   *Dispatcher
	validator    *validation.Validator
	callbackBase CallbackBaseFunc
}

// NewInitiator 创建指令发起器
func NewInitiator(dispatcher *Dispatcher, validator *validation.Validator, callbackBase CallbackBaseFunc) *Initiator {
	if validator == nil {
		validator = validation.NewValidator()
	}
	return &Initiator{dispatcher: dispatcher, validator: validator, callbackBase: callbackBase}
}

// Build 解码载荷并构造指令。载荷或标识非法时返回 validation 错误。
func (i *Initiator) Build(req Request) (*ocpi.Command, error) {
	if req.Version == "" {
		req.Version = ocpi.DefaultVersion
	}
	payload, err := ocpi.DecodeCommandPayload(req.Type, req.Payload)
	if err != nil {
		return nil, validation.ValidationError{Field: "payload", Tag: "decode", Message: err.Error()}
	}

	opts := []ocpi.CommandOption{ocpi.WithTimeout(req.Timeout)}
	if req.CommandID != "" {
		opts = append(opts, ocpi.WithCommandID(req.CommandID))
	}
	cmd, err := ocpi.NewCommand(payload, i.callbackBase(req.Version), opts...)
	if err != nil {
		return nil, validation.ValidationError{Field: "command", Tag: "build", Message: err.Error()}
	}
	if err := i.validator.ValidateCommand(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Initiate 构造指令并发送
func (i *Initiator) Initiate(ctx context.Context, req Request) (*ocpi.Command, *Result, error) {
	if req.Version == "" {
		req.Version = ocpi.DefaultVersion
	}
	cmd, err := i.Build(req)
	if err != nil {
		return nil, nil, err
	}
	res, err := i.dispatcher.Send(ctx, req.Target, req.Version, cmd)
	if err != nil {
		return cmd, nil, fmt.Errorf("command %s: %w", cmd.ID(), err)
	}
	return cmd, res, nil
}
