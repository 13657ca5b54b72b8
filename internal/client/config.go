package client

import "time"

const readBufferSize = 1024

// Config defines connection and session timing for the engine.
type Config struct {
	// Address is host:port for TCP or a ws:// URL for the WebSocket transport.
	Address           string
	DialTimeout       time.Duration
	HandshakeTimeout  time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatPayload  string
	EventBuffer       int
}

// DefaultConfig returns the protocol's standard timings.
func DefaultConfig() Config {
	return Config{
		DialTimeout:       5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		PollInterval:      time.Second,
		HeartbeatInterval: 3 * time.Second,
		HeartbeatPayload:  "PING",
		EventBuffer:       64,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatPayload == "" {
		c.HeartbeatPayload = d.HeartbeatPayload
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}
