package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/omochice/bullscows-client/internal/metrics"
	"github.com/omochice/bullscows-client/pkg/protocol"
)

const (
	opConnect   = "connect"
	opReconnect = "reconnect"
)

// Manager opens, replaces and closes connections. It holds at most one
// current connection; opening a new one releases the previous one.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu      sync.Mutex
	current *Conn
}

// NewManager creates a Manager. m may be nil.
func NewManager(cfg Config, logger *slog.Logger, m *metrics.Metrics, tracer trace.Tracer) *Manager {
	return &Manager{
		cfg:     cfg.WithDefaults(),
		logger:  logger,
		metrics: m,
		tracer:  tracer,
	}
}

// Connect dials address and waits for the server's connection token.
func (m *Manager) Connect(ctx context.Context, address string) (*Conn, error) {
	return m.open(ctx, opConnect, address)
}

// Reconnect closes the current connection, if any, and opens a fresh one.
func (m *Manager) Reconnect(ctx context.Context, address string) (*Conn, error) {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	m.Close(prev)
	return m.open(ctx, opReconnect, address)
}

// Close releases c. It is safe to call on a nil or already closed connection.
func (m *Manager) Close(c *Conn) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		m.logger.Debug("close connection", "conn_id", c.id, "err", err)
	}

	m.mu.Lock()
	if m.current == c {
		m.current = nil
	}
	m.mu.Unlock()
}

// Current returns the open connection, or nil.
func (m *Manager) Current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) open(ctx context.Context, op, address string) (*Conn, error) {
	ctx, span := m.tracer.Start(ctx, "client."+op, trace.WithAttributes(
		attribute.String("server.address", address),
	))
	defer span.End()

	start := time.Now()
	conn, err := dial(ctx, address, m.cfg.DialTimeout)
	if err != nil {
		result := metrics.ResultRefused
		if ctx.Err() != nil {
			result = metrics.ResultCancelled
		}
		err = fmt.Errorf("%w: %s: %w", ErrConnectRefused, address, err)
		m.failed(span, op, result, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("conn.id", conn.id))

	// Cancelling ctx closes the connection so a pending handshake read
	// returns at once instead of at the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	err = m.handshake(conn)
	if !stop() {
		err = fmt.Errorf("%s cancelled: %w", op, context.Cause(ctx))
	}
	if err != nil {
		_ = conn.Close()
		result := metrics.ResultMismatch
		switch {
		case ctx.Err() != nil:
			result = metrics.ResultCancelled
		case errors.Is(err, ErrHandshakeTimeout):
			result = metrics.ResultTimeout
		}
		m.failed(span, op, result, err)
		return nil, err
	}

	m.metrics.ObserveHandshake(time.Since(start))
	m.metrics.ConnectAttempt(op, metrics.ResultOK)
	m.logger.Info("connected", "op", op, "addr", address, "conn_id", conn.id)

	m.mu.Lock()
	prev := m.current
	m.current = conn
	m.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return conn, nil
}

func (m *Manager) failed(span trace.Span, op, result string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, result)
	m.metrics.ConnectAttempt(op, result)
	m.logger.Warn("connect failed", "op", op, "result", result, "err", err)
}

// handshake reads until the first complete line and requires it to be the
// connection token. Anything that arrived after it stays on the Conn for the
// reader.
func (m *Manager) handshake(c *Conn) error {
	deadline := time.Now().Add(m.cfg.HandshakeTimeout)
	f := &protocol.Framer{}
	buf := make([]byte, readBufferSize)

	for {
		n, err := c.read(buf, deadline)
		if n > 0 {
			if lines := f.Feed(buf[:n]); len(lines) > 0 {
				token := strings.TrimSpace(lines[0])
				if token != protocol.SuccessfulConnection {
					return fmt.Errorf("%w: got %q", ErrHandshakeMismatch, token)
				}
				c.greeting = token
				c.backlog = lines[1:]
				c.framer = f
				return nil
			}
			// No need to wait out the deadline once the partial line can no
			// longer become the token.
			if partial := strings.TrimSpace(string(f.Remainder())); !strings.HasPrefix(protocol.SuccessfulConnection, partial) {
				return fmt.Errorf("%w: got %q", ErrHandshakeMismatch, partial)
			}
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return fmt.Errorf("%w after %s", ErrHandshakeTimeout, m.cfg.HandshakeTimeout)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: connection closed before handshake", ErrHandshakeMismatch)
		default:
			return fmt.Errorf("%w: %w", ErrHandshakeMismatch, err)
		}
	}
}
