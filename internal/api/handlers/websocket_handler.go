package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/control-tower/backend/internal/signal"
	"github.com/control-tower/backend/pkg/logger"
)

type WebSocketHandler struct {
	feed *signal.Feed
}

func NewWebSocketHandler(feed *signal.Feed) *WebSocketHandler {
	return &WebSocketHandler{
		feed: feed,
	}
}

// HandleConnection streams newly created signals to a dashboard client
// until the client disconnects.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Signal feed subscriber connected")

	signals, cancel := h.feed.Subscribe()
	done := make(chan struct{})

	defer func() {
		cancel()
		c.Close()
		logger.Info("Signal feed subscriber disconnected")
	}()

	// Drain client frames so closes are noticed promptly.
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case s, ok := <-signals:
			if !ok {
				return
			}

			msg := map[string]interface{}{
				"type":        "signal",
				"id":          s.ID,
				"person_id":   s.PersonID,
				"person_name": s.PersonName,
				"level":       s.Level,
				"reason":      s.Reason,
				"created_at":  s.CreatedAt.UTC(),
			}

			if err := c.WriteJSON(msg); err != nil {
				logger.Debug("Signal feed write failed", zap.Error(err))
				return
			}
		}
	}
}
