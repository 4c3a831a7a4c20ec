package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charging-platform/ocpi-node/internal/config"
	"github.com/charging-platform/ocpi-node/internal/domain/events"
	"github.com/charging-platform/ocpi-node/internal/logger"
	"github.com/charging-platform/ocpi-node/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, cfg HubConfig) (*Hub, *metrics.Metrics, *httptest.Server) {
	t.Helper()
	m, _ := metrics.NewForTest()
	hub := NewHub(cfg, logger.Nop(), m)
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})
	return hub, m, server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sentEvent(commandID, commandType string) events.Event {
	factory := events.NewEventFactory("node-1")
	return factory.CreateCommandSentEvent(commandID, commandType,
		events.PartyInfo{CountryCode: "DE", PartyID: "ABC"}, "https://emsp.example.com/ocpi/2.2.1/commands",
		factory.Metadata("2.2.1", "req-1", "corr-1"))
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	return decoded
}

func TestHubConfigFrom(t *testing.T) {
	cfg := HubConfigFrom(config.WebSocketConfig{PingInterval: 5 * time.Second, SendQueueSize: 8})

	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, 8, cfg.SendQueueSize)
	assert.Equal(t, DefaultHubConfig().WriteTimeout, cfg.WriteTimeout)
	assert.False(t, cfg.CheckOrigin)
}

func TestHub_BroadcastsToSubscribers(t *testing.T) {
	hub, m, server := newTestHub(t, DefaultHubConfig())

	first := dial(t, server, "")
	second := dial(t, server, "")
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActiveSubscribers))

	require.NoError(t, hub.PublishEvent(sentEvent("CMD-1", "START_SESSION")))

	for _, conn := range []*websocket.Conn{first, second} {
		decoded := readEvent(t, conn)
		assert.Equal(t, "command.sent", decoded["type"])
		assert.Equal(t, "CMD-1", decoded["command_id"])
	}

	stats := hub.GetStats()
	assert.Equal(t, int64(1), stats.Broadcasts)
	assert.Equal(t, int64(2), stats.Delivered)
	assert.Zero(t, stats.Dropped)
}

func TestHub_CommandFilter(t *testing.T) {
	hub, _, server := newTestHub(t, DefaultHubConfig())

	conn := dial(t, server, "?command=STOP_SESSION")
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.PublishEvent(sentEvent("CMD-1", "START_SESSION")))
	require.NoError(t, hub.PublishEvent(sentEvent("CMD-2", "STOP_SESSION")))

	decoded := readEvent(t, conn)
	assert.Equal(t, "CMD-2", decoded["command_id"])
}

func TestHub_DisconnectUpdatesGauge(t *testing.T) {
	hub, m, server := newTestHub(t, DefaultHubConfig())

	conn := dial(t, server, "")
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveSubscribers))
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), nil, nil)
	defer hub.Shutdown(context.Background())

	assert.NoError(t, hub.PublishEvent(sentEvent("CMD-1", "START_SESSION")))
	assert.Equal(t, int64(1), hub.GetStats().Broadcasts)
}

func TestHub_Ping(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.PingInterval = 20 * time.Millisecond
	hub, _, server := newTestHub(t, cfg)

	conn := dial(t, server, "")
	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	// 控制帧只有在读取时才会被处理
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
	assert.Eventually(t, func() bool { return hub.GetStats().Pings > 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_ShutdownClosesSubscribers(t *testing.T) {
	m, _ := metrics.NewForTest()
	hub := NewHub(DefaultHubConfig(), logger.Nop(), m)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server, "")
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))
	assert.Equal(t, 0, hub.SubscriberCount())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// 关闭后新的升级请求被拒绝
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, 503, resp.StatusCode)
	}
}

func TestHub_RegisterAfterShutdownIsRefused(t *testing.T) {
	hub := NewHub(DefaultHubConfig(), logger.Nop(), nil)
	require.NoError(t, hub.Shutdown(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	late := &subscriber{id: "late", send: make(chan frame, 1), ctx: ctx, cancel: cancel}
	assert.False(t, hub.register(late))
	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestHub_ShutdownWhileConnecting(t *testing.T) {
	m, _ := metrics.NewForTest()
	hub := NewHub(DefaultHubConfig(), logger.Nop(), m)
	server := httptest.NewServer(hub)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				conn.Close()
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))
	wg.Wait()

	// 关闭后不会再有订阅者登记成功
	assert.Equal(t, 0, hub.SubscriberCount())
	assert.Zero(t, testutil.ToFloat64(m.ActiveSubscribers))
}
