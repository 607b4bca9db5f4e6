package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"poolwatch/pkg/reconcile"
)

// WatchHandler streams snapshot revisions to dashboards as server-sent events
type WatchHandler struct {
	engine   *reconcile.Engine
	interval time.Duration
}

// NewWatchHandler creates a watch handler polling the engine every interval
func NewWatchHandler(engine *reconcile.Engine, interval time.Duration) *WatchHandler {
	if interval <= 0 {
		interval = time.Second
	}
	return &WatchHandler{engine: engine, interval: interval}
}

// Watch emits a "revision" event carrying the engine status whenever the
// revision moves, starting with the current one
// @Router /api/v1/watch [get]
func (h *WatchHandler) Watch(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var sent uint64
	first := true
	c.Stream(func(w io.Writer) bool {
		if !first {
			select {
			case <-c.Request.Context().Done():
				return false
			case <-ticker.C:
			}
		}

		status := h.engine.Status()
		if first || status.Revision != sent {
			c.SSEvent("revision", status)
			sent = status.Revision
			first = false
		}
		return true
	})
}
