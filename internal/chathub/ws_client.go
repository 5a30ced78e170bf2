package chathub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"supportchat/backend/internal/models"
	"supportchat/backend/internal/rooms"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 256
)

// CodeRateLimited is the ack code for requests over the connection's budget.
const CodeRateLimited = "rate_limited"

// WebSocketClient implements Client over a gorilla websocket connection.
type WebSocketClient struct {
	participant models.Participant

	Conn       *websocket.Conn
	Dispatcher Dispatcher
	Limiter    *rate.Limiter

	send      chan models.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketClient wraps an upgraded connection. limiter may be nil.
func NewWebSocketClient(conn *websocket.Conn, p models.Participant, d Dispatcher, limiter *rate.Limiter) *WebSocketClient {
	return &WebSocketClient{
		participant: p,
		Conn:        conn,
		Dispatcher:  d,
		Limiter:     limiter,
		send:        make(chan models.Envelope, sendBuffer),
		done:        make(chan struct{}),
	}
}

func (c *WebSocketClient) GetUserID() string               { return c.participant.ID }
func (c *WebSocketClient) Participant() models.Participant { return c.participant }

func (c *WebSocketClient) Deliver(env models.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which closes the socket and unblocks the read pump.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Dispatcher.Disconnect(c)
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				zap.S().Warnw("error reading message", "user_id", c.participant.ID, "error", err)
			}
			return
		}

		var req models.Envelope
		if err := json.Unmarshal(message, &req); err != nil || req.Event == "" {
			zap.S().Warnw("malformed frame", "user_id", c.participant.ID, "error", err)
			c.Deliver(ErrorAck(req.Ack, rooms.CodeInvalidRequest, "malformed frame"))
			continue
		}

		if c.Limiter != nil && !c.Limiter.Allow() {
			c.Deliver(ErrorAck(req.Ack, CodeRateLimited, "too many requests"))
			continue
		}

		reply := c.Dispatcher.Dispatch(context.Background(), c, req)
		if reply.Event != "" {
			c.Deliver(reply)
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(env); err != nil {
				zap.S().Warnw("error writing frame", "user_id", c.participant.ID, "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
