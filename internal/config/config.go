package config

import (
	"fmt"

	"github.com/npezzotti/go-linechat/internal/database"
)

type Config struct {
	ServerAddr     string
	HTTPAddr       string
	Store          string
	UsersDSN       string
	ChannelsDSN    string
	SyncWrites     bool
	ReplayOnJoin   bool
	AdminConsole   bool
	AllowedOrigins []string
}

func validDriver(driver string) bool {
	switch driver {
	case database.DriverSQLite, database.DriverPostgres, database.DriverMemory:
		return true
	}
	return false
}

// NewConfig validates the listener address and store settings. The
// remaining fields are optional and set by the caller.
func NewConfig(serverAddr, store, usersDSN, channelsDSN string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if !validDriver(store) {
		return nil, fmt.Errorf("unsupported store %q", store)
	}
	if store != database.DriverMemory {
		if usersDSN == "" {
			return nil, fmt.Errorf("users DSN cannot be empty")
		}
		if channelsDSN == "" {
			return nil, fmt.Errorf("channels DSN cannot be empty")
		}
	}

	return &Config{
		ServerAddr:  serverAddr,
		Store:       store,
		UsersDSN:    usersDSN,
		ChannelsDSN: channelsDSN,
	}, nil
}

// SharedStore reports whether both tables live in the same database.
func (c *Config) SharedStore() bool {
	return c.Store != database.DriverMemory && c.UsersDSN == c.ChannelsDSN
}
