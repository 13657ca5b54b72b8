// Package gameserver is a scripted stand-in for the bulls-and-cows server,
// used by tests to drive the client engine over real sockets.
package gameserver

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/bullscows-client/pkg/protocol"
)

// Server accepts client connections and hands each one to the test as a Peer.
type Server struct {
	listener  net.Listener
	greeting  string
	websocket bool
	peers     chan *Peer
	quit      chan struct{}
	wg        sync.WaitGroup

	mu    sync.Mutex
	conns []*Peer
}

// Option configures a Server.
type Option func(*Server)

// WithGreeting sets the raw bytes written to every new connection. An empty
// greeting sends nothing. The default is "SC\n".
func WithGreeting(raw string) Option {
	return func(s *Server) { s.greeting = raw }
}

// WithWebSocket makes the server speak WebSocket text frames.
func WithWebSocket() Option {
	return func(s *Server) { s.websocket = true }
}

// Start listens on a loopback port. The server is stopped when the test ends.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start game server: %v", err)
	}

	s := &Server{
		listener: listener,
		greeting: protocol.SuccessfulConnection + "\n",
		peers:    make(chan *Peer, 8),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Stop)
	return s
}

// Addr returns what the client should dial.
func (s *Server) Addr() string {
	if s.websocket {
		return "ws://" + s.listener.Addr().String() + "/"
	}
	return s.listener.Addr().String()
}

// Accept waits for the next connection.
func (s *Server) Accept(t testing.TB, timeout time.Duration) *Peer {
	t.Helper()
	select {
	case p := <-s.peers:
		return p
	case <-time.After(timeout):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() {
	select {
	case <-s.quit:
		return
	default:
	}
	close(s.quit)
	s.listener.Close()

	s.mu.Lock()
	conns := s.conns
	s.mu.Unlock()
	for _, p := range conns {
		p.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		if s.websocket {
			if _, err := ws.Upgrade(conn); err != nil {
				conn.Close()
				continue
			}
		}

		p := &Peer{conn: conn, websocket: s.websocket, lines: make(chan string, 64), done: make(chan struct{})}
		s.mu.Lock()
		s.conns = append(s.conns, p)
		s.mu.Unlock()

		if s.greeting != "" {
			_ = p.Send(s.greeting)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			p.readLoop()
		}()

		select {
		case s.peers <- p:
		case <-s.quit:
			return
		}
	}
}

// Peer is the server side of one client connection.
type Peer struct {
	conn      net.Conn
	websocket bool
	lines     chan string
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Send writes raw bytes; the caller supplies any delimiters. Over WebSocket
// the bytes go out as one text frame.
func (p *Peer) Send(raw string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.websocket {
		return wsutil.WriteServerText(p.conn, []byte(raw))
	}
	_, err := p.conn.Write([]byte(raw))
	return err
}

// SendLine writes token followed by the delimiter.
func (p *Peer) SendLine(token string) error {
	return p.Send(token + "\n")
}

// Next returns the next line received from the client, heartbeats included.
// ok is false if the connection closed first.
func (p *Peer) Next(t testing.TB, timeout time.Duration) (line string, ok bool) {
	t.Helper()
	select {
	case line, ok = <-p.lines:
		return line, ok
	case <-time.After(timeout):
		t.Fatal("timeout waiting for client line")
		return "", false
	}
}

// Expect waits for want, skipping heartbeats, and fails on anything else.
func (p *Peer) Expect(t testing.TB, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		line, ok := p.Next(t, time.Until(deadline))
		if !ok {
			t.Fatalf("connection closed while waiting for %q", want)
		}
		if line == protocol.Heartbeat {
			continue
		}
		if line != want {
			t.Fatalf("expected %q, got %q", want, line)
		}
		return
	}
}

// WaitClosed waits until the client has closed its side.
func (p *Peer) WaitClosed(t testing.TB, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for client to close")
		}
	}
}

// Close drops the connection without any goodbye.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

func (p *Peer) readLoop() {
	defer close(p.lines)

	if !p.websocket {
		scanner := bufio.NewScanner(p.conn)
		for scanner.Scan() {
			if !p.deliver(scanner.Text()) {
				return
			}
		}
		return
	}

	var f protocol.Framer
	for {
		data, err := wsutil.ReadClientText(p.conn)
		if err != nil {
			return
		}
		for _, line := range f.Feed(data) {
			if !p.deliver(strings.TrimSuffix(line, "\r")) {
				return
			}
		}
	}
}

func (p *Peer) deliver(line string) bool {
	select {
	case p.lines <- line:
		return true
	case <-p.done:
		return false
	}
}
