package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

// IntentHandler runs one client intent and returns the reply to send back,
// or nil when the resulting session events are reply enough.
type IntentHandler func(ctx context.Context, sessionID string, intent Intent) *Reply

type Client struct {
	conn         *websocket.Conn
	sessionID    string
	handle       IntentHandler
	send         chan []byte
	incomingPing chan string
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	closed       bool
}

const (
	IntentChat        = "chat"
	IntentSelectStyle = "select_style"
	IntentConfirm     = "confirm"
	IntentCancel      = "cancel"
	IntentReset       = "reset"
)

// Intent is a user action sent by the client.
type Intent struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	StyleID     string `json:"style_id,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// Reply is a server message that is not a session event. Snapshots carry
// the seq of the last event they include.
type Reply struct {
	Type    string         `json:"type"`
	Seq     uint64         `json:"seq,omitempty"`
	Intent  string         `json:"intent,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Payload interface{}    `json:"payload,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

func NewClient(conn *websocket.Conn, sessionID string, handle IntentHandler) *Client {
	ctx := log.WithSession(context.Background(), sessionID)
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:         conn,
		sessionID:    sessionID,
		handle:       handle,
		send:         make(chan []byte, 256),
		incomingPing: make(chan string, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *Client) Run() {
	c.setupHandlers()

	go c.Ping()
	go c.readPump()
	go c.writePump()
}

func (c *Client) setupHandlers() {
	c.conn.SetCloseHandler(func(code int, text string) error {
		log.WithCtx(c.ctx).Debug("WebSocket connection closed", zap.Int("code", code), zap.String("text", text))
		c.Close()
		return nil
	})

	c.conn.SetPingHandler(func(appData string) error {
		log.WithCtx(c.ctx).Debug("Received ping from client", zap.String("appData", appData))
		select {
		case c.incomingPing <- appData:
		default:
		}
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	c.conn.SetPongHandler(func(appData string) error {
		log.WithCtx(c.ctx).Debug("Received pong from client", zap.String("appData", appData))
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

// Close gracefully closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}

	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) Context() context.Context {
	return c.ctx
}

func (c *Client) Ping() {
	for {
		select {
		case <-c.incomingPing:
		case <-time.After(pingPeriod):
			if c.IsClosed() {
				return
			}

			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				log.WithCtx(c.ctx).Error("Failed to send ping", zap.Error(err))
				c.Close()
				return
			}
			log.WithCtx(c.ctx).Debug("Ping sent")
		case <-c.ctx.Done():
			return
		}
	}
}

// readPump reads intents. Each intent runs in its own goroutine so long
// generations never starve pong handling; the session itself rejects
// overlapping work.
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		if c.IsClosed() {
			return
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithCtx(c.ctx).Error("WebSocket error", zap.Error(err))
			}
			return
		}

		var intent Intent
		if err := json.Unmarshal(message, &intent); err != nil || intent.Type == "" {
			c.SendReply(&Reply{Type: "error", Error: &ErrorResponse{Code: "bad_request", Message: "Malformed intent"}})
			continue
		}

		log.WithCtx(c.ctx).Debug("Received intent", zap.String("intent", intent.Type))
		go func() {
			if reply := c.handle(c.ctx, c.sessionID, intent); reply != nil {
				c.SendReply(reply)
			}
		}()
	}
}

func (c *Client) writePump() {
	defer c.Close()

	for {
		select {
		case message := <-c.send:
			if c.IsClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.WithCtx(c.ctx).Error("Failed to write message", zap.Error(err))
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) SendReply(reply *Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		log.WithCtx(c.ctx).Error("Failed to encode reply", zap.Error(err))
		return
	}
	if err := c.SendMessage(data); err != nil {
		log.WithCtx(c.ctx).Debug("Dropping reply", zap.Error(err))
	}
}

// SendMessage queues message for the client. A client that cannot keep up
// is disconnected.
func (c *Client) SendMessage(message []byte) error {
	if c.IsClosed() {
		return websocket.ErrCloseSent
	}

	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.Close()
		return websocket.ErrCloseSent
	}
}
