package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"paper-trader/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsHub mirrors the event bus onto websocket connections. Clients that
// cannot keep up are disconnected rather than buffered without bound.
type wsHub struct {
	bus        *events.Bus
	logger     zerolog.Logger
	register   chan *wsClient
	unregister chan *wsClient
	clients    map[*wsClient]bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newWSHub(bus *events.Bus, logger zerolog.Logger) *wsHub {
	return &wsHub{
		bus:        bus,
		logger:     logger.With().Str("component", "ws").Logger(),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		clients:    make(map[*wsClient]bool),
		stopChan:   make(chan struct{}),
	}
}

func (h *wsHub) start() {
	h.wg.Add(1)
	go h.run()
}

func (h *wsHub) stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.wg.Wait()
}

func (h *wsHub) run() {
	defer h.wg.Done()

	sub := h.bus.Subscribe(events.Filter{})
	defer sub.Close()

	for {
		select {
		case <-h.stopChan:
			for client := range h.clients {
				close(client.send)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
			}
		case ev := <-sub.C():
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
		case <-sub.Done():
			return
		}
	}
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	s.hub.register <- client

	go client.writePump()
	go client.readPump(s.hub)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages; the socket is one-way. It exists to
// notice disconnects.
func (c *wsClient) readPump(h *wsHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
