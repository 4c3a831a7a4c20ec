package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/logger"
)

// OCPI 路由与追踪头
const (
	HeaderRequestID       = "X-Request-ID"
	HeaderCorrelationID   = "X-Correlation-ID"
	HeaderFromCountryCode = "OCPI-from-country-code"
	HeaderFromPartyID     = "OCPI-from-party-id"
	HeaderToCountryCode   = "OCPI-to-country-code"
	HeaderToPartyID       = "OCPI-to-party-id"
)

// EndpointResolver 查询对端模块地址，来自版本/凭证交换时的登记
type EndpointResolver interface {
	GetEndpoint(ctx context.Context, party ocpi.Party, module ocpi.ModuleID, role ocpi.InterfaceRole) (string, error)
}

// HTTPDoer 发送HTTP请求，*http.Client 满足此接口
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DispatcherConfig 分发器配置
type DispatcherConfig struct {
	From            ocpi.Party    `json:"from"`
	Token           string        `json:"-"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	MaxResponseSize int64         `json:"max_response_size"`
}

// DefaultDispatcherConfig 默认分发器配置
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		RequestTimeout:  10 * time.Second,
		MaxResponseSize: 1 << 20,
	}
}

// Result 发送结果。Handle 仅在对端接受指令时非空。
type Result struct {
	Ack    ocpi.CommandResponse
	Handle *Handle
}

// Accepted 对端是否接受了指令
func (r *Result) Accepted() bool {
	return r.Handle != nil
}

// DispatcherStats 分发统计
type DispatcherStats struct {
	Attempted uint64        `json:"attempted"`
	Accepted  uint64        `json:"accepted"`
	Declined  uint64        `json:"declined"`
	Failed    uint64        `json:"failed"`
	Registry  RegistryStats `json:"registry"`
}

// Dispatcher 向对端发送指令并解析同步应答
type Dispatcher struct {
	config    *DispatcherConfig
	registry  *Registry
	endpoints EndpointResolver
	client    HTTPDoer
	observers []Observer
	logger    *logger.Logger

	attempted atomic.Uint64
	accepted  atomic.Uint64
	declined  atomic.Uint64
	failed    atomic.Uint64
}

// NewDispatcher 创建分发器，并把观察者挂到注册表的终结回调上
func NewDispatcher(config *DispatcherConfig, registry *Registry, endpoints EndpointResolver, client HTTPDoer, log *logger.Logger, observers ...Observer) *Dispatcher {
	if config == nil {
		config = DefaultDispatcherConfig()
	}
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = DefaultDispatcherConfig().MaxResponseSize
	}
	if client == nil {
		client = http.DefaultClient
	}

	d := &Dispatcher{
		config:    config,
		registry:  registry,
		endpoints: endpoints,
		client:    client,
		observers: observers,
		logger:    logger.OrNop(log).With("command-dispatcher"),
	}
	registry.OnTerminal(func(h *Handle, result ocpi.AsyncResult) {
		for _, o := range d.observers {
			o.OnResult(h, result)
		}
	})
	return d
}

// Registry 返回关联表
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Send 发送指令。
// 无地址返回 *NoRouteError；网络错误返回 *TransportError；对端返回错误状态码时为 *RemoteError。
// 应答为 ACCEPTED 时返回可等待的 Handle；REJECTED/NOT_SUPPORTED 立即终结。
func (d *Dispatcher) Send(ctx context.Context, target ocpi.Party, version ocpi.Version, cmd *ocpi.Command) (*Result, error) {
	attempt := &Attempt{Command: cmd, Target: target, Version: version}
	d.attempted.Add(1)

	endpoint, err := d.endpoints.GetEndpoint(ctx, target, ocpi.ModuleCommands, ocpi.RoleReceiver)
	if err != nil || endpoint == "" {
		return nil, d.fail(attempt, &NoRouteError{Target: target, Module: ocpi.ModuleCommands, Cause: err})
	}
	attempt.URL = strings.TrimRight(endpoint, "/") + "/" + string(cmd.Type())

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, d.fail(attempt, fmt.Errorf("failed to encode command: %w", err))
	}

	// 发送前登记，使提前到达的回调也能被匹配
	handle, err := d.registry.Register(cmd, version, target)
	if err != nil {
		return nil, d.fail(attempt, err)
	}

	ack, err := d.post(ctx, attempt, body)
	if err != nil {
		d.registry.Abandon(cmd.ID())
		return nil, d.fail(attempt, err)
	}

	if !ack.Result.IsAccepted() {
		d.registry.Abandon(cmd.ID())
		d.declined.Add(1)
		d.logger.Info().
			Str("command_id", string(cmd.ID())).
			Str("command", string(cmd.Type())).
			Str("result", string(ack.Result)).
			Msg("Command declined by counterparty")
		return &Result{Ack: ack}, nil
	}

	var timeout time.Duration
	if version.CarriesAckTimeout() {
		timeout = ack.TimeoutDuration()
	}
	if err := d.registry.Acknowledge(cmd.ID(), timeout); err != nil {
		return nil, d.fail(attempt, fmt.Errorf("failed to track accepted command: %w", err))
	}
	d.accepted.Add(1)
	return &Result{Ack: ack, Handle: handle}, nil
}

// post 发出请求并解析同步应答
func (d *Dispatcher) post(ctx context.Context, attempt *Attempt, body []byte) (ocpi.CommandResponse, error) {
	cmd := attempt.Command
	if d.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, attempt.URL, bytes.NewReader(body))
	if err != nil {
		return ocpi.CommandResponse{}, &TransportError{URL: attempt.URL, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, string(cmd.RequestID()))
	req.Header.Set(HeaderCorrelationID, string(cmd.CorrelationID()))
	if d.config.Token != "" {
		req.Header.Set("Authorization", "Token "+d.config.Token)
	}
	if d.config.From.CountryCode != "" {
		req.Header.Set(HeaderFromCountryCode, ocpi.Key(d.config.From.CountryCode))
		req.Header.Set(HeaderFromPartyID, ocpi.Key(d.config.From.PartyID))
	}
	req.Header.Set(HeaderToCountryCode, ocpi.Key(attempt.Target.CountryCode))
	req.Header.Set(HeaderToPartyID, ocpi.Key(attempt.Target.PartyID))

	for _, o := range d.observers {
		o.BeforeSend(attempt)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return ocpi.CommandResponse{}, &TransportError{URL: attempt.URL, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.config.MaxResponseSize))
	if err != nil {
		return ocpi.CommandResponse{}, &TransportError{URL: attempt.URL, HTTPStatus: resp.StatusCode, Cause: err}
	}

	ack, status, err := ocpi.DecodeCommandResponse(raw)
	if status != 0 && !status.IsSuccess() {
		return ocpi.CommandResponse{}, &RemoteError{
			HTTPStatus:    resp.StatusCode,
			StatusCode:    status,
			StatusMessage: statusMessage(raw),
		}
	}
	if err != nil {
		return ocpi.CommandResponse{}, &TransportError{URL: attempt.URL, HTTPStatus: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ocpi.CommandResponse{}, &TransportError{
			URL:        attempt.URL,
			HTTPStatus: resp.StatusCode,
			Cause:      errors.New("unexpected HTTP status"),
		}
	}

	elapsed := time.Since(start)
	for _, o := range d.observers {
		o.AfterReceive(attempt, ack, elapsed)
	}
	return ack, nil
}

func statusMessage(raw []byte) string {
	var envelope struct {
		StatusMessage string `json:"status_message"`
	}
	_ = json.Unmarshal(raw, &envelope)
	return envelope.StatusMessage
}

func (d *Dispatcher) fail(attempt *Attempt, err error) error {
	d.failed.Add(1)
	for _, o := range d.observers {
		o.OnFailure(attempt, err)
	}
	return err
}

// Deliver 把收到的异步结果交给关联表，过期结果通知观察者
func (d *Dispatcher) Deliver(identity ocpi.Identity, version ocpi.Version, result ocpi.AsyncResult) Outcome {
	outcome := d.registry.Resolve(identity, result)
	if outcome == Stale {
		for _, o := range d.observers {
			o.OnStale(identity, version, result)
		}
	}
	return outcome
}

// GetStats 获取统计信息
func (d *Dispatcher) GetStats() DispatcherStats {
	return DispatcherStats{
		Attempted: d.attempted.Load(),
		Accepted:  d.accepted.Load(),
		Declined:  d.declined.Load(),
		Failed:    d.failed.Load(),
		Registry:  d.registry.GetStats(),
	}
}
