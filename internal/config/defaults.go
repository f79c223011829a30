package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultFeedBufferSize     = 10000
	DefaultFlushDelay         = 60 * time.Second
	DefaultNightCutoff        = 5 * time.Hour
	DefaultSettlementCutoff   = 5 * time.Hour
	DefaultHealthPort         = 8080
	DefaultHealthPath         = "/health"
)

func (c *WatcherConfig) applyDefaults() {
	// Feed defaults
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Watcher defaults
	if c.Watcher.FlushDelay == 0 {
		c.Watcher.FlushDelay = DefaultFlushDelay
	}
	if c.Watcher.NightCutoff == 0 {
		c.Watcher.NightCutoff = DefaultNightCutoff
	}
	if c.Watcher.SettlementCutoff == 0 {
		c.Watcher.SettlementCutoff = DefaultSettlementCutoff
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}
