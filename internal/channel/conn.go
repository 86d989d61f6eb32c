// Package channel carries relay messages over WebSocket connections, on the
// hub side as relay endpoints and on the agent side as a dialed client.
package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var connSeq atomic.Int64

// Conn is one WebSocket connection. Writes are serialized; reads must come
// from a single goroutine.
type Conn struct {
	id    string
	conn  net.Conn
	state ws.State

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func newConn(prefix string, c net.Conn, state ws.State) *Conn {
	return &Conn{
		id:    fmt.Sprintf("%s-%d", prefix, connSeq.Add(1)),
		conn:  c,
		state: state,
	}
}

// NewServerConn wraps an upgraded server-side connection.
func NewServerConn(name string, c net.Conn) *Conn {
	return newConn(name, c, ws.StateServerSide)
}

// Dial opens a client connection to a hub channel URL such as
// ws://127.0.0.1:8190/connect/devtools.
func Dial(ctx context.Context, url string) (*Conn, error) {
	c, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("channel: dial %s: %w", url, err)
	}
	return newConn("client", c, ws.StateClientSide), nil
}

func (c *Conn) ID() string { return c.id }

// Send writes one text message. The context deadline, if any, bounds the
// write.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := wsutil.WriteMessage(c.conn, c.state, ws.OpText, data); err != nil {
		return fmt.Errorf("channel: send: %w", err)
	}
	return nil
}

// Read blocks for the next data message. Control frames are handled
// internally; a close frame surfaces as an error.
func (c *Conn) Read() ([]byte, error) {
	for {
		data, op, err := wsutil.ReadData(c.conn, c.state)
		if err != nil {
			return nil, err
		}
		if op == ws.OpText || op == ws.OpBinary {
			return data, nil
		}
	}
}

// Close closes the underlying connection. It is safe to call repeatedly.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
