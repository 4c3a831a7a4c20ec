package api

import (
	"net/http"
	"time"

	"github.com/charging-platform/ocpi-node/internal/command"
	"github.com/charging-platform/ocpi-node/internal/store"
	"github.com/charging-platform/ocpi-node/internal/transport/websocket"
)

// HealthStatus /health 的返回
type HealthStatus struct {
	Status     string                  `json:"status"`
	Timestamp  time.Time               `json:"timestamp"`
	Uptime     string                  `json:"uptime"`
	Pending    int                     `json:"pending_commands"`
	Dispatcher command.DispatcherStats `json:"dispatcher"`
	Store      store.Stats             `json:"store"`
	Hub        *websocket.HubStats     `json:"hub,omitempty"`
}

// Health 健康检查，附带指令和存储统计
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Pending:    s.dispatcher.Registry().Pending(),
		Dispatcher: s.dispatcher.GetStats(),
		Store:      s.store.GetStats(),
	}
	if s.hub != nil {
		stats := s.hub.GetStats()
		status.Hub = &stats
	}
	writeJSON(w, http.StatusOK, status)
}
