package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// client is a single WebSocket connection and its event filters. Empty
// filters match everything.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	mu     sync.RWMutex
	events map[domain.EventType]bool
	draws  map[uint64]bool
}

// filterMsg is what a client sends to change its filters or replay
// history:
//
//	{"action":"subscribe","events":["draw.settled"],"draws":[3]}
//	{"action":"unsubscribe","draws":[3]}
//	{"action":"replay","since":"0"}
type filterMsg struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
	Draws  []uint64 `json:"draws"`
	Since  string   `json:"since"`
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		events: make(map[domain.EventType]bool),
		draws:  make(map[uint64]bool),
	}
}

func (c *client) wants(env envelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.events) > 0 && !c.events[env.typ] {
		return false
	}
	if len(c.draws) > 0 && !c.draws[env.drawID] {
		return false
	}
	return true
}

func (c *client) apply(msg filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, e := range msg.Events {
			c.events[domain.EventType(e)] = true
		}
		for _, d := range msg.Draws {
			c.draws[d] = true
		}
	case "unsubscribe":
		for _, e := range msg.Events {
			delete(c.events, domain.EventType(e))
		}
		for _, d := range msg.Draws {
			delete(c.draws, d)
		}
	}
}

func parseDraws(raw []string) []uint64 {
	var out []uint64
	for _, s := range raw {
		if id, err := strconv.ParseUint(s, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// replay sends the stored event history after since through the client's
// filters, followed by a replay_done marker carrying the last stream id.
func (c *client) replay(since string) {
	if since == "" {
		since = "0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	msgs, err := c.hub.bus.StreamRead(ctx, domain.StreamDraws, since, maxReplay)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		c.push(controlFrame("error", map[string]any{"message": "replay unavailable"}))
		return
	}
	last := since
	for _, m := range msgs {
		last = m.ID
		env, err := decodeEnvelope(m.Payload)
		if err != nil || !c.wants(env) {
			continue
		}
		c.push(env.data)
	}
	c.push(controlFrame("replay_done", map[string]any{"last_id": last, "count": len(msgs)}))
}

func (c *client) sendHello() {
	uptime := max(0, int64(time.Since(c.hub.startedAt).Seconds()))
	c.push(controlFrame("hello", map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
		"channel":        domain.ChannelDraws,
	}))
}

func controlFrame(typ string, payload map[string]any) []byte {
	msg, _ := json.Marshal(map[string]any{"type": typ, "payload": payload})
	return msg
}

// push queues msg. It reports false when the buffer is full or the client
// is closed.
func (c *client) push(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close shuts the send channel once; writePump then ends the connection.
func (c *client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg filterMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			c.push(controlFrame("error", map[string]any{"message": "invalid json"}))
			continue
		}
		switch msg.Action {
		case "subscribe", "unsubscribe":
			c.apply(msg)
		case "replay":
			c.replay(msg.Since)
		default:
			c.push(controlFrame("error", map[string]any{"message": "unknown action " + strconv.Quote(msg.Action)}))
		}
	}
}

func (c *client) writePump() {
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
