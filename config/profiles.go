package config

import (
	"fmt"
	"time"

	"starkit/adapters/sqlx"
)

// LoadProfile returns the named preset. Profiles set a starting point; the
// environment still overrides them in Load.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name

	switch name {
	case "development":
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case "testing":
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "warn"
		cfg.Server.Address = "127.0.0.1:0"
		cfg.Server.ShutdownTimeout = 5 * time.Second
	case "staging":
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Security.EnableRateLimit = true
	case "production":
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "sql"
		cfg.Storage.SQL = sqlx.DefaultConfig(sqlx.DriverPostgres)
		cfg.Server.CORSOrigin = ""
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 120
		cfg.Security.RateLimit.BurstSize = 20
		cfg.Gamification.AsyncEvents = true
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", name, err)
	}
	return cfg, nil
}
