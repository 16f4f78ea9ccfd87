// Package config holds the runtime settings shared by the berth commands.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr         = ":9090"
	defaultHealthAddr         = ":7000"
	defaultDatabaseURL        = "sqlite:///tmp/berth.db"
	defaultAllowedOrigin      = "http://localhost:8000"
	defaultSessionIssuer      = "tauth"
	defaultSessionCookie      = "app_session"
	defaultTimezone           = "UTC"
	defaultRequestTimeout     = 3 * time.Second
	defaultClaimTimeout       = 10 * time.Second
	defaultHealthPollInterval = 15 * time.Second
	defaultCalendarHorizon    = 30
)

// Config aggregates runtime settings for the berth server.
type Config struct {
	ListenAddr         string
	HealthAddr         string
	DatabaseURL        string
	AllowedOrigins     []string
	SessionSigningKey  string
	SessionIssuer      string
	SessionCookieName  string
	Timezone           string
	RequestTimeout     time.Duration
	ClaimTimeout       time.Duration
	HealthPollInterval time.Duration
	CalendarHorizon    int
	Debug              bool

	location *time.Location
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.HealthAddr = defaultIfEmpty(cfg.HealthAddr, defaultHealthAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.Timezone = defaultIfEmpty(cfg.Timezone, defaultTimezone)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = defaultClaimTimeout
	}
	if cfg.HealthPollInterval <= 0 {
		cfg.HealthPollInterval = defaultHealthPollInterval
	}
	if cfg.CalendarHorizon <= 0 {
		cfg.CalendarHorizon = defaultCalendarHorizon
	}

	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("session signing key is required")
	}
	location, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone))
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	cfg.location = location
	return nil
}

// Location returns the marina time zone; valid after Validate.
func (cfg Config) Location() *time.Location {
	if cfg.location == nil {
		return time.UTC
	}
	return cfg.location
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
