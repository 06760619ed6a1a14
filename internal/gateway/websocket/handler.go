package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway binds to localhost; cross-origin browsers are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP connections and attaches them to the hub. An
// optional ?run_id=<id> query parameter pre-subscribes the connection;
// run_id=* follows every run.
func Handler(hub *Hub, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(hub, conn, log)
		hub.Register(client)
		if runID := c.Query("run_id"); runID != "" {
			client.Subscribe(runID)
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
