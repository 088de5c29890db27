package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// MockConn is an in-process Conn for tests. Server-side traffic is injected
// with ServerText/ServerBinary/ServerClose.
type MockConn struct {
	mu       sync.Mutex
	open     bool
	failSend bool
	closed   bool
	handler  Handler

	Header   http.Header
	Texts    [][]byte
	Binaries [][]byte
}

func (c *MockConn) SendText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.failSend {
		return fmt.Errorf("send failed")
	}
	c.Texts = append(c.Texts, append([]byte(nil), data...))
	return nil
}

func (c *MockConn) SendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.failSend {
		return fmt.Errorf("send failed")
	}
	c.Binaries = append(c.Binaries, append([]byte(nil), data...))
	return nil
}

func (c *MockConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *MockConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.open = false
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MarkHalfOpen flags the socket as not open without firing the close
// callback, mimicking a dead peer the transport has not noticed yet.
func (c *MockConn) MarkHalfOpen() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

// FailSends makes subsequent sends return an error.
func (c *MockConn) FailSends() {
	c.mu.Lock()
	c.failSend = true
	c.mu.Unlock()
}

func (c *MockConn) ServerText(data []byte) {
	c.handler.OnText(data)
}

func (c *MockConn) ServerBinary(data []byte) {
	c.handler.OnBinary(data)
}

func (c *MockConn) ServerClose(err error) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	if c.handler.OnClose != nil {
		c.handler.OnClose(err)
	}
}

func (c *MockConn) TextCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Texts)
}

func (c *MockConn) BinaryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Binaries)
}

func (c *MockConn) TextAt(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.Texts) {
		return nil
	}
	return c.Texts[i]
}

// MockDialer hands out MockConns and can be primed to fail.
type MockDialer struct {
	mu        sync.Mutex
	conns     []*MockConn
	failNext  int
	dialCount int
}

func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// FailNext makes the next n Dial calls return an error.
func (d *MockDialer) FailNext(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

func (d *MockDialer) Dial(_ context.Context, _ string, header http.Header, h Handler) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialCount++
	if d.failNext > 0 {
		d.failNext--
		return nil, fmt.Errorf("dial refused")
	}
	conn := &MockConn{open: true, handler: h, Header: header}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *MockDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

func (d *MockDialer) LastConn() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *MockDialer) ConnAt(i int) *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}
