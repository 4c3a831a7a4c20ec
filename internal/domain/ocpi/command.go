package ocpi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CommandType 远程指令类型
type CommandType string

const (
	CommandReserveNow         CommandType = "RESERVE_NOW"
	CommandCancelReservation  CommandType = "CANCEL_RESERVATION"
	CommandStartSession       CommandType = "START_SESSION"
	CommandStopSession        CommandType = "STOP_SESSION"
	CommandUnlockConnector    CommandType = "UNLOCK_CONNECTOR"
	CommandSetChargingProfile CommandType = "SET_CHARGING_PROFILE"
)

var commandTypes = []CommandType{
	CommandReserveNow,
	CommandCancelReservation,
	CommandStartSession,
	CommandStopSession,
	CommandUnlockConnector,
	CommandSetChargingProfile,
}

// ParseCommandType 大小写不敏感地解析指令类型
func ParseCommandType(s string) (CommandType, bool) {
	for _, t := range commandTypes {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// CommandPayload 指令的业务载荷
type CommandPayload interface {
	CommandType() CommandType
}

// ReserveNow 预约
type ReserveNow struct {
	Token                  Token         `json:"token"`
	ExpiryDate             time.Time     `json:"expiry_date" validate:"required"`
	ReservationID          ReservationID `json:"reservation_id" validate:"required,max=36,ocpi_cistring"`
	LocationID             LocationID    `json:"location_id" validate:"required,max=36,ocpi_cistring"`
	EVSEUID                *EVSEUID      `json:"evse_uid,omitempty" validate:"omitempty,max=36,ocpi_cistring"`
	AuthorizationReference *string       `json:"authorization_reference,omitempty" validate:"omitempty,max=36"`
}

// CancelReservation 取消预约
type CancelReservation struct {
	ReservationID ReservationID `json:"reservation_id" validate:"required,max=36,ocpi_cistring"`
}

// StartSession 远程启动
type StartSession struct {
	Token                  Token        `json:"token"`
	LocationID             LocationID   `json:"location_id" validate:"required,max=36,ocpi_cistring"`
	EVSEUID                *EVSEUID     `json:"evse_uid,omitempty" validate:"omitempty,max=36,ocpi_cistring"`
	ConnectorID            *ConnectorID `json:"connector_id,omitempty" validate:"omitempty,max=36,ocpi_cistring"`
	AuthorizationReference *string      `json:"authorization_reference,omitempty" validate:"omitempty,max=36"`
}

// StopSession 远程停止
type StopSession struct {
	SessionID SessionID `json:"session_id" validate:"required,max=36,ocpi_cistring"`
}

// UnlockConnector 解锁充电枪
type UnlockConnector struct {
	LocationID  LocationID  `json:"location_id" validate:"required,max=36,ocpi_cistring"`
	EVSEUID     EVSEUID     `json:"evse_uid" validate:"required,max=36,ocpi_cistring"`
	ConnectorID ConnectorID `json:"connector_id" validate:"required,max=36,ocpi_cistring"`
}

// SetChargingProfile 下发充电曲线，曲线本身作为不透明数据透传
type SetChargingProfile struct {
	SessionID       SessionID       `json:"session_id" validate:"required,max=36,ocpi_cistring"`
	ChargingProfile json.RawMessage `json:"charging_profile" validate:"required"`
}

func (ReserveNow) CommandType() CommandType         { return CommandReserveNow }
func (CancelReservation) CommandType() CommandType  { return CommandCancelReservation }
func (StartSession) CommandType() CommandType       { return CommandStartSession }
func (StopSession) CommandType() CommandType        { return CommandStopSession }
func (UnlockConnector) CommandType() CommandType    { return CommandUnlockConnector }
func (SetChargingProfile) CommandType() CommandType { return CommandSetChargingProfile }

// DecodeCommandPayload 按类型解码载荷。
// 可选字段缺失时为nil，只有字段存在且格式错误才返回错误。
func DecodeCommandPayload(t CommandType, raw json.RawMessage) (CommandPayload, error) {
	var payload CommandPayload
	switch t {
	case CommandReserveNow:
		payload = &ReserveNow{}
	case CommandCancelReservation:
		payload = &CancelReservation{}
	case CommandStartSession:
		payload = &StartSession{}
	case CommandStopSession:
		payload = &StopSession{}
	case CommandUnlockConnector:
		payload = &UnlockConnector{}
	case CommandSetChargingProfile:
		payload = &SetChargingProfile{}
	default:
		return nil, fmt.Errorf("unsupported command type: %s", t)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty %s payload", t)
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", t, err)
	}
	return payload, nil
}

// Identity 关联标识：command id + request id + correlation id，回调路径上还带有指令类型
type Identity struct {
	CommandID     CommandID     `json:"command_id"`
	CommandType   CommandType   `json:"command,omitempty"`
	RequestID     RequestID     `json:"request_id,omitempty"`
	CorrelationID CorrelationID `json:"correlation_id,omitempty"`
}

// Key 注册表中使用的键
func (i Identity) Key() string {
	return Key(i.CommandID)
}

// Matches 检查回调携带的标识是否与原指令一致，未携带的部分视为匹配
func (i Identity) Matches(other Identity) bool {
	if !Equal(i.CommandID, other.CommandID) {
		return false
	}
	if other.CommandType != "" && i.CommandType != "" && other.CommandType != i.CommandType {
		return false
	}
	if other.RequestID != "" && i.RequestID != "" && !Equal(i.RequestID, other.RequestID) {
		return false
	}
	if other.CorrelationID != "" && i.CorrelationID != "" && !Equal(i.CorrelationID, other.CorrelationID) {
		return false
	}
	return true
}

// Command 一次远程指令请求。构造后各标识不可变。
type Command struct {
	id            CommandID
	requestID     RequestID
	correlationID CorrelationID
	responseURL   string
	payload       CommandPayload
	timeout       time.Duration
	createdAt     time.Time
}

// CommandOption 指令构造选项
type CommandOption func(*Command)

// WithCommandID 指定指令ID
func WithCommandID(id CommandID) CommandOption {
	return func(c *Command) { c.id = id }
}

// WithRequestID 指定请求ID
func WithRequestID(id RequestID) CommandOption {
	return func(c *Command) { c.requestID = id }
}

// WithCorrelationID 指定关联ID
func WithCorrelationID(id CorrelationID) CommandOption {
	return func(c *Command) { c.correlationID = id }
}

// WithTimeout 指令自身声明的超时时间
func WithTimeout(d time.Duration) CommandOption {
	return func(c *Command) { c.timeout = d }
}

// NewCommand 创建指令。callbackBase 是本方指令模块的绝对地址，
// 回调地址为 {callbackBase}/{TYPE}/{command_id}。
func NewCommand(payload CommandPayload, callbackBase string, opts ...CommandOption) (*Command, error) {
	if payload == nil {
		return nil, fmt.Errorf("command payload cannot be nil")
	}

	c := &Command{payload: payload, createdAt: time.Now().UTC()}
	for _, opt := range opts {
		opt(c)
	}

	if c.id == "" {
		c.id = CommandID(uuid.New().String())
	} else if _, ok := TryParse[CommandID](string(c.id)); !ok {
		return nil, fmt.Errorf("invalid command id %q", c.id)
	}
	if c.requestID == "" {
		c.requestID = RequestID(uuid.New().String())
	}
	if c.correlationID == "" {
		c.correlationID = CorrelationID(uuid.New().String())
	}
	if c.timeout < 0 {
		return nil, fmt.Errorf("command timeout cannot be negative")
	}

	base, err := url.Parse(strings.TrimRight(callbackBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid callback base %q: %w", callbackBase, err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("callback base %q must be an absolute URL", callbackBase)
	}
	c.responseURL = base.JoinPath(string(payload.CommandType()), url.PathEscape(string(c.id))).String()

	return c, nil
}

func (c *Command) ID() CommandID                { return c.id }
func (c *Command) RequestID() RequestID         { return c.requestID }
func (c *Command) CorrelationID() CorrelationID { return c.correlationID }
func (c *Command) ResponseURL() string          { return c.responseURL }
func (c *Command) Type() CommandType            { return c.payload.CommandType() }
func (c *Command) Payload() CommandPayload      { return c.payload }
func (c *Command) Timeout() time.Duration       { return c.timeout }
func (c *Command) CreatedAt() time.Time         { return c.createdAt }

// Identity 返回指令的关联标识
func (c *Command) Identity() Identity {
	return Identity{CommandID: c.id, CommandType: c.Type(), RequestID: c.requestID, CorrelationID: c.correlationID}
}

// MarshalJSON 指令体 = 载荷字段 + response_url
func (c *Command) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(c.payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("command payload must encode as a JSON object: %w", err)
	}
	responseURL, _ := json.Marshal(c.responseURL)
	fields["response_url"] = responseURL
	return json.Marshal(fields)
}
