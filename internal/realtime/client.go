package realtime

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Observers only send pongs
	maxMessageSize = 512

	sendBuffer = 64
)

// Client is one observer connection bound to a single event.
type Client struct {
	ID      string
	eventID int
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	once    sync.Once
}

// NewClient creates an observer of eventID. conn may be nil for observers
// that drain Messages themselves.
func NewClient(hub *Hub, conn *websocket.Conn, eventID int) *Client {
	return &Client{
		ID:      uuid.NewString(),
		eventID: eventID,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
	}
}

// EventID is the event this client observes.
func (c *Client) EventID() int { return c.eventID }

// Messages is the client's outbound queue. It is closed once the client is
// unsubscribed.
func (c *Client) Messages() <-chan []byte { return c.send }

// Send queues a payload for this client only. It reports false when the
// queue is full.
func (c *Client) Send(payload []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.events[c.eventID][c]; !ok {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

// readPump only exists to process pongs and notice disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("WebSocket read error", "event_id", c.eventID, "client", c.ID, "error", err)
			}
			return
		}
	}
}

// writePump sends queued payloads, one frame each, and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.Unsubscribe(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unsubscribe(c)
				return
			}
		}
	}
}

// NewUpgrader accepts same-origin requests, requests without an Origin
// header, and the listed origins. "*" accepts everything.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed["*"] || allowed[origin] {
				return true
			}
			return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host)
		},
	}
}

// ServeWS upgrades the request, subscribes the connection to eventID and
// starts its pumps. The returned client may be used to send an initial
// snapshot.
func ServeWS(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, eventID int) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	client := NewClient(hub, conn, eventID)
	hub.Subscribe(client)
	hub.log.Info("Observer connected", "event_id", eventID, "client", client.ID, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
	return client, nil
}
