package transport

import (
	"context"
	"net/http"
)

// Close codes forwarded to the underlying socket.
const (
	CloseNormal = 1000
)

// Conn is one live duplex socket. Implementations must allow concurrent
// senders.
type Conn interface {
	SendText(data []byte) error
	SendBinary(data []byte) error
	IsOpen() bool
	Close(code int, reason string) error
}

// Handler receives transport callbacks. Callbacks fire from the read pump
// goroutine in wire arrival order; OnClose fires exactly once, for any
// cause, after the last message callback.
type Handler struct {
	OnText   func(data []byte)
	OnBinary func(data []byte)
	OnClose  func(err error)
}

// Dialer opens Conns. The returned Conn is already open and pumping.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header, h Handler) (Conn, error)
}
