package config

import "time"

// WatcherConfig is the root configuration for a watcher instance.
type WatcherConfig struct {
	Instance InstanceConfig  `yaml:"instance"`
	Feed     FeedConfig      `yaml:"feed"`
	Database DBConfig        `yaml:"database"`
	Watcher  WatcherSettings `yaml:"watcher"`
	Sessions SessionsConfig  `yaml:"sessions"`
	Calendar CalendarConfig  `yaml:"calendar"`
	Health   HealthConfig    `yaml:"health"`
}

// InstanceConfig identifies this watcher.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds market-data feed connection settings.
type FeedConfig struct {
	URL                string        `yaml:"url"`
	BrokerID           string        `yaml:"broker_id"`
	UserID             string        `yaml:"user_id"`
	Password           string        `yaml:"password"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// DBConfig holds the tick-store database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WatcherSettings holds tick validation and flush behavior.
type WatcherSettings struct {
	SaveTicks        bool          `yaml:"save_ticks"`
	SubscribeList    []string      `yaml:"subscribe_list"`
	FlushDelay       time.Duration `yaml:"flush_delay"`       // after session close
	NightCutoff      time.Duration `yaml:"night_cutoff"`      // overnight continuation boundary
	SettlementCutoff time.Duration `yaml:"settlement_cutoff"` // Saturday settlement window end
}

// SessionsConfig points at the per-product session table.
type SessionsConfig struct {
	Path string `yaml:"path"`
}

// CalendarConfig points at the trading-calendar holiday list.
type CalendarConfig struct {
	HolidaysPath string `yaml:"holidays_path"`
}

// HealthConfig holds the health/stats HTTP endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
