package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"skoll/internal/engine"
)

const (
	writeWait      = 10 * time.Second
	clientSendSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the cors wrapper on the router.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans executed trades out to websocket subscribers. It implements
// engine.Reporter; ReportTrade never blocks matching, dropping the
// message if the hub is saturated.
type Hub struct {
	clients    map[*wsClient]struct{}
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient

	// quit is closed when run returns, so clients arriving or leaving
	// after shutdown never block on the register channels.
	quit chan struct{}
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		quit:       make(chan struct{}),
	}
}

// ReportTrade implements engine.Reporter.
func (h *Hub) ReportTrade(trade engine.Trade) {
	payload, err := json.Marshal(wsMessage{Type: "trade", Data: trade})
	if err != nil {
		log.Error().Err(err).Msg("encoding trade report")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		log.Warn().Msg("trade feed saturated, dropping report")
	}
}

// run is the hub's main loop, supervised by the server's tomb.
func (h *Hub) run(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			close(h.quit)
			for client := range h.clients {
				close(client.send)
			}
			return nil

		case client := <-h.register:
			h.clients[client] = struct{}{}
			log.Info().Int("subscribers", len(h.clients)).Msg("trade feed subscriber added")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case payload := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Slow consumer, disconnect it.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}
	if !h.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

// add hands a client to the run loop. Reports false if the hub has
// already shut down.
func (h *Hub) add(c *wsClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

// drop hands a disconnect to the run loop, or gives up if the hub has
// already shut down.
func (h *Hub) drop(c *wsClient) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, nil)
}

// readPump discards inbound frames; the feed is one-way. It exists to
// notice disconnects.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
