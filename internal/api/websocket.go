package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/cartograph-io/cartograph/internal/runtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// statusClient is one WebSocket consumer of a map's status stream.
type statusClient struct {
	conn     *websocket.Conn
	sub      *runtime.Subscription
	registry *runtime.Registry

	mu       sync.Mutex
	isClosed bool
}

// streamStatus upgrades the connection and streams status changes for one
// map. Each change is a JSON StatusChange; delivery coalesces to the latest
// value per component so a slow consumer never blocks the state machines.
func (s *Server) streamStatus(c echo.Context) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.config.Security.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range s.config.Security.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &statusClient{
		conn:     ws,
		sub:      s.deps.Registry.Subscribe(c.Param("mapId")),
		registry: s.deps.Registry,
	}

	go client.readPump()
	go client.writePump()

	return nil
}

// readPump discards inbound frames; the stream is one-way. It exists to
// notice disconnects and to answer pings.
func (c *statusClient) readPump() {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket: read error: %v", err)
			}
			break
		}
	}
}

// writePump forwards status changes from the subscription and keeps the
// connection alive with pings.
func (c *statusClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case change, ok := <-c.sub.C():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(change); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close drops the subscription and the connection exactly once.
func (c *statusClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return
	}
	c.isClosed = true
	c.registry.Unsubscribe(c.sub)
	c.conn.Close()
}
