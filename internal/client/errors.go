package client

import "errors"

var (
	ErrConnectRefused    = errors.New("client: connection refused")
	ErrHandshakeTimeout  = errors.New("client: handshake timed out")
	ErrHandshakeMismatch = errors.New("client: unexpected handshake")
	ErrStreamClosed      = errors.New("client: connection closed by server")
	ErrWrongFormat       = errors.New("client: server rejected message format")
	ErrAbandoned         = errors.New("client: reconnect abandoned")
	ErrNotConnected      = errors.New("client: not connected to server")
	ErrClosed            = errors.New("client: closed")
	ErrAlreadyStarted    = errors.New("client: already started")
)
