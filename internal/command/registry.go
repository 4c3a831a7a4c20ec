package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/logger"
)

// ErrRegistryClosed 注册表已关闭
var ErrRegistryClosed = errors.New("correlation registry is closed")

// ErrNotRegistered 指令不在注册表中或不处于等待应答状态
var ErrNotRegistered = errors.New("command is not awaiting an acknowledgement")

// DuplicateIDError 重复注册同一指令标识
type DuplicateIDError struct {
	ID ocpi.CommandID
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("command %s is already registered", e.ID)
}

// State 条目状态
type State int

const (
	// StateSent 请求已发出，尚未解析到同步应答
	StateSent State = iota
	// StatePending 已被接受，等待异步结果
	StatePending
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "SENT"
	case StatePending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// Outcome Resolve 的处理结果
type Outcome int

const (
	// Resolved 结果已交付给等待方
	Resolved Outcome = iota
	// Buffered 应答尚未解析，结果先暂存
	Buffered
	// Stale 无对应条目或已终结，结果被丢弃
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case Buffered:
		return "buffered"
	default:
		return "stale"
	}
}

// TerminalFunc 条目终结时的回调，在锁外调用
type TerminalFunc func(h *Handle, result ocpi.AsyncResult)

// Handle 等待异步结果的句柄
type Handle struct {
	command *ocpi.Command
	version ocpi.Version
	target  ocpi.Party

	done     chan struct{}
	result   ocpi.AsyncResult
	deadline time.Time
}

// Command 对应的指令
func (h *Handle) Command() *ocpi.Command { return h.command }

// Version 发送指令时使用的协议版本
func (h *Handle) Version() ocpi.Version { return h.version }

// Target 指令的接收方
func (h *Handle) Target() ocpi.Party { return h.target }

// Done 终结时关闭
func (h *Handle) Done() <-chan struct{} { return h.done }

// Deadline 截止时间，应答前为零值
func (h *Handle) Deadline() time.Time { return h.deadline }

// Result 非阻塞获取结果
func (h *Handle) Result() (ocpi.AsyncResult, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return ocpi.AsyncResult{}, false
	}
}

// Await 阻塞直到结果到达或超时。
// ctx 取消只停止等待，条目仍保留到自然超时。
func (h *Handle) Await(ctx context.Context) (ocpi.AsyncResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return ocpi.AsyncResult{}, ctx.Err()
	}
}

type entry struct {
	handle *Handle
	state  State
	timer  *time.Timer
	early  *ocpi.AsyncResult
}

// RegistryConfig 注册表配置
type RegistryConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// DefaultRegistryConfig 默认注册表配置
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{DefaultTimeout: 30 * time.Second}
}

// RegistryStats 注册表统计
type RegistryStats struct {
	Pending    int    `json:"pending"`
	Registered uint64 `json:"registered"`
	Resolved   uint64 `json:"resolved"`
	TimedOut   uint64 `json:"timed_out"`
	Stale      uint64 `json:"stale"`
	Abandoned  uint64 `json:"abandoned"`
}

// Registry 未完成指令的关联表。
// 每个条目最多发生一次终结转换，终结后立即移出表。
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	closed    bool
	listeners []TerminalFunc
	stats     RegistryStats

	config *RegistryConfig
	logger *logger.Logger
}

// NewRegistry 创建关联表
func NewRegistry(config *RegistryConfig, log *logger.Logger) *Registry {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultRegistryConfig().DefaultTimeout
	}
	return &Registry{
		entries: make(map[string]*entry),
		config:  config,
		logger:  logger.OrNop(log).With("correlation-registry"),
	}
}

// OnTerminal 注册终结回调
func (r *Registry) OnTerminal(fn TerminalFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Register 在发送前登记指令，状态为 SENT
func (r *Registry) Register(cmd *ocpi.Command, version ocpi.Version, target ocpi.Party) (*Handle, error) {
	key := cmd.Identity().Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, exists := r.entries[key]; exists {
		return nil, &DuplicateIDError{ID: cmd.ID()}
	}

	h := &Handle{command: cmd, version: version, target: target, done: make(chan struct{})}
	r.entries[key] = &entry{handle: h, state: StateSent}
	r.stats.Registered++
	return h, nil
}

// Acknowledge 指令被接受，进入 PENDING 并启动超时。
// timeout 非正时使用指令自身的超时，再退回默认值。
// 若应答前已暂存了结果，立即交付。
func (r *Registry) Acknowledge(id ocpi.CommandID, timeout time.Duration) error {
	key := ocpi.Key(id)

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.state != StateSent {
		r.mu.Unlock()
		return ErrNotRegistered
	}

	if timeout <= 0 {
		timeout = e.handle.command.Timeout()
	}
	if timeout <= 0 {
		timeout = r.config.DefaultTimeout
	}
	e.state = StatePending
	e.handle.deadline = time.Now().Add(timeout)

	if e.early != nil {
		result := *e.early
		r.finishLocked(key, e, result)
		r.stats.Resolved++
		listeners := r.listeners
		r.mu.Unlock()
		r.notify(listeners, e.handle, result)
		return nil
	}

	h := e.handle
	e.timer = time.AfterFunc(timeout, func() { r.expire(key, h) })
	r.mu.Unlock()
	return nil
}

// Abandon 指令未被接受或发送失败，移除 SENT 条目并丢弃暂存结果
func (r *Registry) Abandon(id ocpi.CommandID) {
	key := ocpi.Key(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || e.state != StateSent {
		return
	}
	delete(r.entries, key)
	r.stats.Abandoned++
	if e.early != nil {
		r.logger.Debug().
			Str("command_id", string(id)).
			Str("result_type", string(e.early.ResultType)).
			Msg("Discarding early result of abandoned command")
	}
}

// Resolve 交付异步结果。每个条目只会成功交付一次。
func (r *Registry) Resolve(identity ocpi.Identity, result ocpi.AsyncResult) Outcome {
	key := identity.Key()

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || !e.handle.command.Identity().Matches(identity) {
		r.stats.Stale++
		r.mu.Unlock()
		return Stale
	}

	if e.state == StateSent {
		if e.early != nil {
			r.stats.Stale++
			r.mu.Unlock()
			return Stale
		}
		early := result
		e.early = &early
		r.mu.Unlock()
		return Buffered
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	r.finishLocked(key, e, result)
	r.stats.Resolved++
	listeners := r.listeners
	r.mu.Unlock()

	r.notify(listeners, e.handle, result)
	return Resolved
}

// expire 超时回调；条目已被终结或替换时不做任何事
func (r *Registry) expire(key string, h *Handle) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.handle != h || e.state != StatePending {
		r.mu.Unlock()
		return
	}
	result := ocpi.TimeoutResult()
	r.finishLocked(key, e, result)
	r.stats.TimedOut++
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Warn().
		Str("command_id", string(h.command.ID())).
		Str("command", string(h.command.Type())).
		Msg("Command timed out waiting for async result")
	r.notify(listeners, h, result)
}

// finishLocked 写入结果、唤醒等待方并移除条目。调用方持有锁。
func (r *Registry) finishLocked(key string, e *entry, result ocpi.AsyncResult) {
	e.handle.result = result
	close(e.handle.done)
	delete(r.entries, key)
}

func (r *Registry) notify(listeners []TerminalFunc, h *Handle, result ocpi.AsyncResult) {
	for _, fn := range listeners {
		fn(h, result)
	}
}

// Pending 当前条目数
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// GetStats 获取统计信息
func (r *Registry) GetStats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.Pending = len(r.entries)
	return stats
}

// Close 停止所有计时器，等待中的指令以 TIMEOUT 结束
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	var finished []*Handle
	for key, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.state == StatePending {
			r.finishLocked(key, e, ocpi.TimeoutResult())
			r.stats.TimedOut++
			finished = append(finished, e.handle)
			continue
		}
		delete(r.entries, key)
		r.stats.Abandoned++
	}
	listeners := r.listeners
	r.mu.Unlock()

	for _, h := range finished {
		r.notify(listeners, h, h.result)
	}
	r.logger.Info().Int("completed", len(finished)).Msg("Correlation registry closed")
}
