package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 30 * time.Second
	writeWait        = 10 * time.Second
	maxMessageSize   = 512 * 1024
)

// WebSocketDialer opens websocket Conns with gorilla/websocket.
type WebSocketDialer struct {
	log *slog.Logger
}

func NewWebSocketDialer(log *slog.Logger) *WebSocketDialer {
	if log == nil {
		log = slog.Default()
	}
	return &WebSocketDialer{log: log}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header, h Handler) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &wsConn{ws: ws, log: d.log, open: true}
	go c.readPump(h)
	return c, nil
}

type wsConn struct {
	ws  *websocket.Conn
	log *slog.Logger

	writeMu sync.Mutex

	mu   sync.RWMutex
	open bool
}

func (c *wsConn) SendText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

func (c *wsConn) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *wsConn) write(messageType int, data []byte) error {
	if !c.IsOpen() {
		return fmt.Errorf("connection closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *wsConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()

	return c.ws.Close()
}

func (c *wsConn) readPump(h Handler) {
	c.ws.SetReadLimit(maxMessageSize)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasOpen := c.open
			c.open = false
			c.mu.Unlock()

			if wasOpen && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read ended", "error", err)
			}
			if h.OnClose != nil {
				h.OnClose(err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if h.OnText != nil {
				h.OnText(data)
			}
		case websocket.BinaryMessage:
			if h.OnBinary != nil {
				h.OnBinary(data)
			}
		}
	}
}
