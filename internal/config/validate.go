package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *WatcherConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Feed.URL == "" {
		return errors.New("feed.url is required")
	}
	if c.Feed.BrokerID == "" {
		return errors.New("feed.broker_id is required")
	}
	if c.Feed.UserID == "" {
		return errors.New("feed.user_id is required")
	}
	if c.Feed.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}

	if len(c.Watcher.SubscribeList) == 0 {
		return errors.New("watcher.subscribe_list must not be empty")
	}
	if c.Watcher.FlushDelay < 0 {
		return errors.New("watcher.flush_delay must not be negative")
	}
	if c.Watcher.NightCutoff < 0 || c.Watcher.NightCutoff >= 24*time.Hour {
		return fmt.Errorf("watcher.night_cutoff must be within one day, got %v", c.Watcher.NightCutoff)
	}
	if c.Watcher.SettlementCutoff < 0 || c.Watcher.SettlementCutoff >= 24*time.Hour {
		return fmt.Errorf("watcher.settlement_cutoff must be within one day, got %v", c.Watcher.SettlementCutoff)
	}

	// The database is only touched when ticks are persisted.
	if c.Watcher.SaveTicks {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
