package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/omochice/bullscows-client/pkg/protocol"
)

// transport moves raw bytes for a Conn. write is always called with the
// Conn's write lock held.
type transport interface {
	read(buf []byte, deadline time.Time) (int, error)
	write(p []byte) error
	close() error
}

// Conn is one live connection to the game server. Writes from any goroutine
// are serialized; reads belong to one reader at a time.
type Conn struct {
	id   string
	addr string
	t    transport

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	// Filled by the handshake and handed to the reader once.
	greeting string
	backlog  []string
	framer   *protocol.Framer
}

func newConn(addr string, t transport) *Conn {
	return &Conn{id: uuid.NewString(), addr: addr, t: t}
}

// ID identifies the connection in logs and traces.
func (c *Conn) ID() string { return c.id }

// Addr returns the address the connection was dialed with.
func (c *Conn) Addr() string { return c.addr }

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

// WriteLine writes payload as one delimited line.
func (c *Conn) WriteLine(payload string) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.t.write(protocol.EncodeLine(payload))
}

func (c *Conn) read(buf []byte, deadline time.Time) (int, error) {
	return c.t.read(buf, deadline)
}

// Close shuts the connection down in both directions and releases it.
// Closing an already closed connection is a no-op.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.t.close()
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// handoff passes the lines and partial bytes read past the handshake token
// to the reader.
func (c *Conn) handoff() ([]string, *protocol.Framer) {
	lines, f := c.backlog, c.framer
	c.backlog, c.framer = nil, nil
	if f == nil {
		f = &protocol.Framer{}
	}
	return lines, f
}

func dial(ctx context.Context, address string, timeout time.Duration) (*Conn, error) {
	if isWebSocketURL(address) {
		d := ws.Dialer{Timeout: timeout}
		raw, br, _, err := d.Dial(ctx, address)
		if err != nil {
			return nil, err
		}
		c := &Conn{id: uuid.NewString(), addr: address}
		c.t = newWSTransport(raw, br, &c.writeMu)
		return c, nil
	}

	d := net.Dialer{Timeout: timeout}
	raw, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return newConn(address, &tcpTransport{conn: raw}), nil
}

func isWebSocketURL(address string) bool {
	return strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://")
}

// tcpTransport is the plain stream transport.
type tcpTransport struct {
	conn net.Conn
}

func (t *tcpTransport) read(buf []byte, deadline time.Time) (int, error) {
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	return t.conn.Read(buf)
}

func (t *tcpTransport) write(p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

func (t *tcpTransport) close() error {
	if tc, ok := t.conn.(*net.TCPConn); ok {
		_ = tc.CloseRead()
		_ = tc.CloseWrite()
	}
	return t.conn.Close()
}

// wsTransport carries the same lines inside WebSocket text frames. A pump
// goroutine owns the frame reader so read can honour its deadline without
// tearing a frame in half.
type wsTransport struct {
	conn    net.Conn
	writeMu *sync.Mutex
	frames  chan wsFrame
	done    chan struct{}
	pending []byte
}

type wsFrame struct {
	data []byte
	err  error
}

func newWSTransport(conn net.Conn, br *bufio.Reader, writeMu *sync.Mutex) *wsTransport {
	t := &wsTransport{
		conn:    conn,
		writeMu: writeMu,
		frames:  make(chan wsFrame),
		done:    make(chan struct{}),
	}

	var r io.Reader = conn
	if br != nil {
		r = br
	}
	// Control frame replies (pong, close) go through the same write lock as
	// data frames.
	rw := struct {
		io.Reader
		io.Writer
	}{r, &lockedWriter{mu: writeMu, w: conn}}

	go t.pump(rw)
	return t
}

func (t *wsTransport) pump(rw io.ReadWriter) {
	for {
		data, _, err := wsutil.ReadServerData(rw)
		var closed wsutil.ClosedError
		if errors.As(err, &closed) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		select {
		case t.frames <- wsFrame{data: data, err: err}:
		case <-t.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (t *wsTransport) read(buf []byte, deadline time.Time) (int, error) {
	if len(t.pending) > 0 {
		n := copy(buf, t.pending)
		t.pending = t.pending[n:]
		return n, nil
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case f := <-t.frames:
		if f.err != nil {
			return 0, f.err
		}
		n := copy(buf, f.data)
		t.pending = f.data[n:]
		return n, nil
	case <-timer.C:
		return 0, os.ErrDeadlineExceeded
	case <-t.done:
		return 0, net.ErrClosed
	}
}

func (t *wsTransport) write(p []byte) error {
	return wsutil.WriteClientText(t.conn, p)
}

func (t *wsTransport) close() error {
	close(t.done)
	// Skip the close frame if a write is in flight rather than wait on it.
	if t.writeMu.TryLock() {
		_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(t.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		t.writeMu.Unlock()
	}
	return t.conn.Close()
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
