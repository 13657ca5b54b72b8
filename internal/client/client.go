// Package client is the connection engine for the bulls-and-cows game
// server. Server tokens drive the session state, and every change reaches the
// presentation layer as an Event.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/omochice/bullscows-client/internal/game"
	"github.com/omochice/bullscows-client/internal/metrics"
	"github.com/omochice/bullscows-client/pkg/protocol"
)

const tracerName = "github.com/omochice/bullscows-client/internal/client"

// Client is one player's session with the game server.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	policy  ReconnectPolicy
	manager *Manager
	machine *game.Machine

	events chan Event
	done   chan struct{}

	// ctx outlives every connection and is cancelled on shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	active   *session
	started  bool
	closed   bool
	input    bool
	opponent bool

	// emitMu is held shared by emitters and exclusively by shutdown, so
	// nothing is emitted after the shutdown event.
	emitMu       sync.RWMutex
	shutdownOnce sync.Once
	shutdownErr  error
}

// session is one connection generation: its reader and keep-alive loops
// share ctx and stop together.
type session struct {
	conn   *Conn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// ended is set by whoever first declares this generation over.
	ended atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records engine metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer sets the tracer used for connect spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithReconnectPolicy sets who decides on reconnects. The default never
// reconnects.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Client) {
		if p != nil {
			c.policy = p
		}
	}
}

// New creates a Client. Nothing is dialed until Start.
func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.WithDefaults()
	c := &Client{
		cfg:     cfg,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		policy:  NeverReconnect,
		machine: game.NewMachine(),
		events:  make(chan Event, cfg.EventBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.manager = NewManager(cfg, c.logger, c.metrics, c.tracer)
	return c
}

// Start connects and begins the session. A failed first connection is not
// retried: the client shuts down and the error is returned.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	c.metrics.SetState(int(game.StateConnecting))
	conn, err := c.manager.Connect(ctx, c.cfg.Address)
	if err != nil {
		c.shutdown(err)
		return err
	}
	if !c.begin(conn) {
		return ErrClosed
	}
	return nil
}

// Send writes user text to the server, tagged as a guess while in a game.
// Empty text is ignored. A write failure starts recovery and is returned.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	s, closed := c.active, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if s == nil || s.ended.Load() {
		return ErrNotConnected
	}

	text = strings.TrimRight(text, "\r\n")
	if text == "" {
		return nil
	}

	payload := game.Outbound(c.machine.State(), text)
	if err := s.conn.WriteLine(payload); err != nil {
		err = fmt.Errorf("send: %w", err)
		c.fail(s, metrics.SourceSend, err)
		return err
	}
	c.metrics.MessageSent()
	c.logger.Debug("sent", "conn_id", s.conn.id, "payload", payload)
	return nil
}

// Events delivers notices and flag changes in order. It is never closed.
// EventShutdown is always the last event and is never dropped, even when the
// buffer is full; Done is closed just before it is queued.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed once the client has shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the client shut down, or nil while it runs or after Close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.shutdownErr
	default:
		return nil
	}
}

// State returns the current session state.
func (c *Client) State() game.State { return c.machine.State() }

// InputEnabled reports whether the user may send right now.
func (c *Client) InputEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// OpponentConnected reports whether an opponent is present.
func (c *Client) OpponentConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opponent
}

// Address returns the server address the client dials.
func (c *Client) Address() string { return c.cfg.Address }

// Close ends the session and waits for the connection loops to stop.
// Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()

	c.shutdown(nil)
	if s != nil {
		s.wg.Wait()
	}
	return nil
}

// begin starts a new generation on conn. It reports false if the client was
// closed in the meantime.
func (c *Client) begin(conn *Conn) bool {
	ctx, cancel := context.WithCancel(c.ctx)
	s := &session{conn: conn, ctx: ctx, cancel: cancel}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		c.manager.Close(conn)
		return false
	}
	c.active = s
	c.mu.Unlock()

	// The handshake token drives the machine like any other token.
	if !c.handle(s, conn.greeting) {
		return true
	}

	s.wg.Add(2)
	go c.readLoop(s)
	go c.keepAlive(s)
	return true
}

// handle decodes one line and applies it. It reports false when the
// session must not read any further.
func (c *Client) handle(s *session, line string) bool {
	token := strings.TrimSpace(strings.ToValidUTF8(line, "\uFFFD"))
	msg := protocol.Decode(token)
	c.metrics.TokenReceived(msg.Kind.String())

	switch msg.Kind {
	case protocol.KindMalformedGuess:
		c.logger.Warn("malformed guess response", "conn_id", s.conn.id, "token", token, "err", msg.Err)
	case protocol.KindUnknown:
		c.logger.Info("unknown token", "conn_id", s.conn.id, "token", token)
	default:
		c.logger.Debug("token", "conn_id", s.conn.id, "kind", msg.Kind)
	}

	prev, next, effect := c.machine.Apply(msg)
	c.publish(prev, next, effect)

	if effect.Close {
		c.terminate(s, fmt.Errorf("%w: %q", ErrWrongFormat, token))
		return false
	}
	return true
}

// publish turns a transition into events. Every event carries the flags as
// they are after the whole effect.
func (c *Client) publish(prev, next game.State, e game.Effect) {
	c.mu.Lock()
	c.input = e.Input.Apply(c.input)
	c.opponent = e.Opponent.Apply(c.opponent)
	snapshot := Event{State: next, InputEnabled: c.input, OpponentConnected: c.opponent}
	c.mu.Unlock()

	if prev != next {
		c.metrics.SetState(int(next))
		ev := snapshot
		ev.Type = EventState
		c.emit(ev)
	}
	if e.Input != game.Unchanged {
		ev := snapshot
		ev.Type = EventInput
		c.emit(ev)
	}
	if e.Opponent != game.Unchanged {
		ev := snapshot
		ev.Type = EventOpponent
		c.emit(ev)
	}
	if e.Notice != "" {
		ev := snapshot
		ev.Type = EventNotice
		ev.Text = e.Notice
		c.emit(ev)
	}
}

func (c *Client) emit(ev Event) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()

	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// fail ends generation s after a stream error. Only the first caller per
// generation gets through, so one failure means one reconnect decision.
func (c *Client) fail(s *session, source string, cause error) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	c.manager.Close(s.conn)
	if c.isClosed() {
		return
	}

	c.metrics.StreamFailure(source)
	c.logger.Warn("connection lost", "source", source, "conn_id", s.conn.id, "err", cause)

	state := c.machine.State()
	c.publish(state, state, game.Effect{Input: game.Off, Opponent: game.Off})

	go c.coordinate(s, cause)
}

// terminate ends the client from inside a session without asking for a
// reconnect.
func (c *Client) terminate(s *session, cause error) {
	s.ended.Store(true)
	s.cancel()
	c.manager.Close(s.conn)
	c.shutdown(cause)
}

func (c *Client) shutdown(cause error) {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.input = false
		s := c.active
		c.mu.Unlock()

		c.cancel()
		if s != nil {
			s.ended.Store(true)
			s.cancel()
			c.manager.Close(s.conn)
		}

		if cause != nil {
			c.logger.Warn("session ended", "err", cause)
		} else {
			c.logger.Info("session ended")
		}

		c.shutdownErr = cause
		close(c.done)

		c.emitMu.Lock()
		defer c.emitMu.Unlock()
		ev := Event{Type: EventShutdown, State: c.machine.State(), Err: cause}
		select {
		case c.events <- ev:
		default:
			// Buffer full: deliver once the consumer makes room.
			go func() { c.events <- ev }()
		}
	})
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func noticeEffect(text string) game.Effect {
	return game.Effect{Notice: text}
}

func joinAbandoned(cause error) error {
	return fmt.Errorf("%w: %w", ErrAbandoned, cause)
}
