package config

import (
	"fmt"
	"net/url"
)

// DatabaseURL returns the connection string for the configured database.
// An explicit URL always wins.
func DatabaseURL(cfg DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	switch cfg.Type {
	case "postgres":
		return buildPostgresURL(cfg)
	default:
		return cfg.DatabasePath
	}
}

// buildPostgresURL builds a PostgreSQL connection URL from config
func buildPostgresURL(cfg DatabaseConfig) string {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.Username == "" {
		cfg.Username = "loopforge"
	}
	if cfg.Database == "" {
		cfg.Database = "loopforge"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	} else {
		u.User = url.User(cfg.Username)
	}

	return u.String()
}
