// Package config holds runtime settings, populated from defaults and the
// environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/layer-3/cerberus/core"
	"github.com/layer-3/cerberus/service"
)

// Config holds runtime settings for the cerberus server and admin tooling.
type Config struct {
	ListenAddr    string        // HTTP bind address
	MongoURI      string        // identity store connection string
	MongoDatabase string        // identity store database name
	RedisURL      string        // revocation event stream; empty disables publishing
	CookieDomain  string        // registrable domain the session cookie is scoped to
	Issuer        string        // issuer name in TOTP provisioning URIs
	SessionTTL    time.Duration // sliding inactivity window
	ReapInterval  time.Duration // minimum spacing between expiry sweeps
}

// LoadDefaults populates development defaults.
func (c *Config) LoadDefaults() {
	c.ListenAddr = ":3080"
	c.MongoURI = "mongodb://localhost:27017"
	c.MongoDatabase = "cerberus"
	c.RedisURL = ""
	c.CookieDomain = ""
	c.Issuer = "cerberus"
	c.SessionTTL = core.SessionTTL
	c.ReapInterval = service.DefaultReapInterval
}

// Load builds a Config from defaults overlaid with environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	setString(&cfg.ListenAddr, "CERBERUS_LISTEN")
	setString(&cfg.MongoURI, "CERBERUS_MONGO_URI")
	setString(&cfg.MongoDatabase, "CERBERUS_MONGO_DB")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.CookieDomain, "CERBERUS_COOKIE_DOMAIN")
	setString(&cfg.Issuer, "CERBERUS_ISSUER")

	if err := setDuration(&cfg.SessionTTL, "CERBERUS_SESSION_TTL"); err != nil {
		return nil, err
	}
	if err := setDuration(&cfg.ReapInterval, "CERBERUS_REAP_INTERVAL"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
