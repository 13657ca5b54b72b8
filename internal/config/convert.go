package config

import (
	"time"

	"github.com/omochice/bullscows-client/internal/client"
)

// Client converts the file settings into the engine's Config.
func (c *Config) Client() client.Config {
	return client.Config{
		Address:           c.Address(),
		DialTimeout:       ms(c.DialTimeoutMS),
		HandshakeTimeout:  ms(c.HandshakeTimeoutMS),
		PollInterval:      ms(c.PollIntervalMS),
		HeartbeatInterval: ms(c.HeartbeatIntervalMS),
		HeartbeatPayload:  c.HeartbeatPayload,
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
