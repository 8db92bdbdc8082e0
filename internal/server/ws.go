package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	readWait      = 90 * time.Second
	maxMessageLen = int64(4 << 10)
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard is served from anywhere during development
	CheckOrigin: func(*http.Request) bool { return true },
}

// filterUpdate is the only inbound message dashboard clients send: the
// full replacement set of symbols they want events for.
type filterUpdate struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// wsHandler upgrades the connection, registers it with the hub and then
// reads filter updates until the client goes away. All writes happen on
// the hub's write pump; this goroutine only reads.
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := s.hub.Register(conn)
	defer s.hub.Unregister(client)

	conn.SetReadLimit(maxMessageLen)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("dashboard read failed", zap.Error(err))
			}
			return
		}
		var update filterUpdate
		if err := json.Unmarshal(msg, &update); err != nil {
			s.logger.Warn("ignoring malformed dashboard message", zap.Error(err))
			continue
		}
		if update.Type != "subscribe" {
			continue
		}
		s.hub.UpdateSubscriptions(client, update.Symbols)
		s.logger.Debug("dashboard filter updated", zap.Strings("symbols", update.Symbols))
	}
}
