package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charging-platform/ocpi-node/internal/config"
	"github.com/charging-platform/ocpi-node/internal/domain/events"
	"github.com/charging-platform/ocpi-node/internal/logger"
	"github.com/charging-platform/ocpi-node/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// QueryCommand 订阅时按指令类型过滤，例如 ?command=START_SESSION
const QueryCommand = "command"

// HubConfig 事件推送配置
type HubConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	SendQueueSize   int
	MaxMessageSize  int64
	// CheckOrigin 为 true 时只接受同源的升级请求
	CheckOrigin bool
}

// DefaultHubConfig 默认配置
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		PingInterval:    30 * time.Second,
		PongTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendQueueSize:   256,
		MaxMessageSize:  4096,
	}
}

// HubConfigFrom 从应用配置构造，未设置的字段使用默认值
func HubConfigFrom(cfg config.WebSocketConfig) HubConfig {
	c := DefaultHubConfig()
	if cfg.ReadBufferSize > 0 {
		c.ReadBufferSize = cfg.ReadBufferSize
	}
	if cfg.WriteBufferSize > 0 {
		c.WriteBufferSize = cfg.WriteBufferSize
	}
	if cfg.PingInterval > 0 {
		c.PingInterval = cfg.PingInterval
	}
	if cfg.WriteTimeout > 0 {
		c.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.SendQueueSize > 0 {
		c.SendQueueSize = cfg.SendQueueSize
	}
	c.CheckOrigin = cfg.CheckOrigin
	return c
}

// HubStats 推送统计
type HubStats struct {
	Subscribers int   `json:"subscribers"`
	Broadcasts  int64 `json:"broadcasts"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Pings       int64 `json:"pings"`
}

type frameKind int

const (
	frameText frameKind = iota
	framePing
)

type frame struct {
	kind frameKind
	data []byte
}

// subscriber 一个已升级的订阅连接
type subscriber struct {
	id      string
	command string
	conn    *websocket.Conn
	send    chan frame
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func (s *subscriber) wants(event events.Event) bool {
	return s.command == "" || s.command == event.GetCommandType()
}

// enqueue 非阻塞投递，队列满时返回 false
func (s *subscriber) enqueue(f frame) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.send <- f:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

// Hub 把指令生命周期事件广播给所有订阅的运维客户端。
// 订阅方只读，客户端发来的数据帧被丢弃。
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader

	subscribers map[string]*subscriber
	mutex       sync.RWMutex

	metrics *metrics.Metrics
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   HubStats
}

// NewHub 创建推送中心并启动统一的 ping 循环
func NewHub(cfg HubConfig, log *logger.Logger, m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		subscribers: make(map[string]*subscriber),
		metrics:     m,
		logger:      logger.OrNop(log).With("ws-hub"),
		ctx:         ctx,
		cancel:      cancel,
	}
	if !cfg.CheckOrigin {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}

	if cfg.PingInterval > 0 {
		h.wg.Add(1)
		go h.pingLoop()
	}
	return h
}

// ServeHTTP 升级连接并注册订阅者
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "hub is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写入了错误响应
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade subscriber connection")
		return
	}

	ctx, cancel := context.WithCancel(h.ctx)
	sub := &subscriber{
		id:      uuid.New().String(),
		command: r.URL.Query().Get(QueryCommand),
		conn:    conn,
		send:    make(chan frame, h.config.SendQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	if !h.register(sub) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.config.WriteTimeout))
		sub.close()
		return
	}

	h.logger.Info().
		Str("subscriber", sub.id).
		Str("remote_addr", r.RemoteAddr).
		Str("filter", sub.command).
		Msg("Command event subscriber connected")

	go h.writeLoop(sub)
	go h.readLoop(sub)
}

// register 登记订阅者并计入等待组。与 Shutdown 持同一把锁，关闭后返回 false。
func (h *Hub) register(sub *subscriber) bool {
	h.mutex.Lock()
	if h.ctx.Err() != nil {
		h.mutex.Unlock()
		return false
	}
	h.subscribers[sub.id] = sub
	h.setGauge(len(h.subscribers))
	h.wg.Add(2)
	h.mutex.Unlock()
	return true
}

// PublishEvent 广播事件。慢订阅者的队列满时丢弃该事件，不阻塞调用方。
func (h *Hub) PublishEvent(event events.Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	h.mutex.RLock()
	targets := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if sub.wants(event) {
			targets = append(targets, sub)
		}
	}
	h.mutex.RUnlock()

	var delivered, dropped int64
	for _, sub := range targets {
		if sub.enqueue(frame{kind: frameText, data: data}) {
			delivered++
			continue
		}
		dropped++
		h.logger.Warn().
			Str("subscriber", sub.id).
			Str("event_type", string(event.GetType())).
			Msg("Subscriber queue full, dropping event")
	}

	h.statsMu.Lock()
	h.stats.Broadcasts++
	h.stats.Delivered += delivered
	h.stats.Dropped += dropped
	h.statsMu.Unlock()
	return nil
}

// SubscriberCount 当前订阅者数量
func (h *Hub) SubscriberCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

// GetStats 获取统计信息
func (h *Hub) GetStats() HubStats {
	h.statsMu.Lock()
	stats := h.stats
	h.statsMu.Unlock()
	stats.Subscribers = h.SubscriberCount()
	return stats
}

// Shutdown 关闭所有订阅连接并等待协程退出
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info().Msg("Shutting down command event hub...")

	h.mutex.Lock()
	h.cancel()
	for _, sub := range h.subscribers {
		sub.close()
	}
	h.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("Command event hub shutdown completed")
		return nil
	case <-ctx.Done():
		h.logger.Warn().Msg("Command event hub shutdown timeout")
		return ctx.Err()
	}
}

func (h *Hub) remove(sub *subscriber) {
	sub.close()

	h.mutex.Lock()
	_, exists := h.subscribers[sub.id]
	delete(h.subscribers, sub.id)
	if exists {
		h.setGauge(len(h.subscribers))
	}
	h.mutex.Unlock()

	if exists {
		h.logger.Info().Str("subscriber", sub.id).Msg("Command event subscriber disconnected")
	}
}

func (h *Hub) setGauge(count int) {
	if h.metrics != nil {
		h.metrics.ActiveSubscribers.Set(float64(count))
	}
}

// writeLoop 所有写操作都在这里完成，gorilla 的连接不支持并发写
func (h *Hub) writeLoop(sub *subscriber) {
	defer h.wg.Done()
	defer h.remove(sub)

	for {
		select {
		case <-sub.ctx.Done():
			sub.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			sub.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case f := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			var err error
			switch f.kind {
			case framePing:
				err = sub.conn.WriteMessage(websocket.PingMessage, nil)
			default:
				err = sub.conn.WriteMessage(websocket.TextMessage, f.data)
			}
			if err != nil {
				h.logger.Debug().Err(err).Str("subscriber", sub.id).Msg("Failed to write to subscriber")
				return
			}
		}
	}
}

// readLoop 读取只为处理 pong 和关闭帧
func (h *Hub) readLoop(sub *subscriber) {
	defer h.wg.Done()
	defer h.remove(sub)

	sub.conn.SetReadLimit(h.config.MaxMessageSize)
	if h.config.PingInterval > 0 {
		readTimeout := h.config.PingInterval + h.config.PongTimeout
		sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
		sub.conn.SetPongHandler(func(string) error {
			return sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
	}

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("subscriber", sub.id).Msg("Subscriber read error")
			}
			return
		}
	}
}

// pingLoop 单个 ticker 为所有订阅者发送 ping，队列满的连接跳过本轮
func (h *Hub) pingLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.mutex.RLock()
			var sent int64
			for _, sub := range h.subscribers {
				if sub.enqueue(frame{kind: framePing}) {
					sent++
				}
			}
			h.mutex.RUnlock()

			h.statsMu.Lock()
			h.stats.Pings += sent
			h.statsMu.Unlock()
		}
	}
}
