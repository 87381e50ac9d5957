// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

// Package config loads server configuration from a YAML file with
// command-line flag overrides layered on top.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	flag "github.com/spf13/pflag"

	"github.com/playrelay/playrelay/internal/session"
)

// Defaults applied when the config file or flags do not override them.
const (
	DefaultListenAddr   = ":8080"
	DefaultMetricsAddr  = "127.0.0.1:9101"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultTickInterval = 200 * time.Millisecond
)

// SeedUser is a default account registered at startup when no persisted
// session already claims its username.
type SeedUser struct {
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	Moderator bool   `koanf:"moderator"`
}

// Security holds the duplicate-identity rules. Duplicate session IDs are
// always rejected by the registry; allow_duplicate_id is accepted in the
// file for compatibility but has no effect.
type Security struct {
	AllowDuplicateUsername  bool `koanf:"allow_duplicate_username"`
	WarnOnDuplicateUsername bool `koanf:"warn_on_duplicate_username"`
	AllowDuplicateID        bool `koanf:"allow_duplicate_id"`
	WarnOnDuplicateID       bool `koanf:"warn_on_duplicate_id"`
}

// Config is the fully resolved server configuration.
type Config struct {
	ListenAddr   string        `koanf:"listen_addr"`
	MetricsAddr  string        `koanf:"metrics_addr"`
	LogLevel     string        `koanf:"log_level"`
	LogFormat    string        `koanf:"log_format"`
	Secret       string        `koanf:"secret"`
	TickInterval time.Duration `koanf:"tick_interval"`
	DataFile     string        `koanf:"data_file"`
	Security     Security      `koanf:"security"`
	Users        []SeedUser    `koanf:"users"`
}

// Default returns the configuration written to a freshly created config
// file. The signing secret is randomly generated per call.
func Default() Config {
	return Config{
		ListenAddr:   DefaultListenAddr,
		MetricsAddr:  DefaultMetricsAddr,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		Secret:       randomSecret(),
		TickInterval: DefaultTickInterval,
		Security: Security{
			AllowDuplicateUsername:  true,
			WarnOnDuplicateUsername: true,
			WarnOnDuplicateID:       true,
		},
		Users: []SeedUser{
			{Username: "admin", Password: "changeme", Moderator: true},
		},
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

// Policy maps the security rules onto the registry's duplicate-username
// policy. Allow without warn admits silently; allow with warn logs each
// duplicate; disallow rejects.
func (s Security) Policy() session.Policy {
	var p session.DuplicatePolicy
	switch {
	case !s.AllowDuplicateUsername:
		p = session.DuplicateReject
	case s.WarnOnDuplicateUsername:
		p = session.DuplicateWarn
	default:
		p = session.DuplicateAllow
	}
	return session.Policy{Username: p}
}

// Load reads configuration from path, creating the file with defaults
// when it does not exist, then layers flag overrides on top. A malformed
// file is an error: silently recreating it would discard the signing
// secret and invalidate every outstanding token.
func Load(path string, flags *flag.FlagSet) (Config, error) {
	if err := ensureFile(path); err != nil {
		return Config{}, err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, oops.Code("CONFIG_MALFORMED").
			With("path", path).
			Wrap(err)
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_MALFORMED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_MALFORMED").
			With("path", path).
			Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ensureFile writes a default config when path does not exist. The
// generated secret lands on disk first and is read back by the caller,
// so the file is always the source of truth.
func ensureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return oops.With("path", path).Wrap(err)
	}

	cfg := Default()
	data, err := yaml.Parser().Marshal(map[string]any{
		"listen_addr":   cfg.ListenAddr,
		"metrics_addr":  cfg.MetricsAddr,
		"log_level":     cfg.LogLevel,
		"log_format":    cfg.LogFormat,
		"secret":        cfg.Secret,
		"tick_interval": cfg.TickInterval.String(),
		"data_file":     cfg.DataFile,
		"security": map[string]any{
			"allow_duplicate_username":   cfg.Security.AllowDuplicateUsername,
			"warn_on_duplicate_username": cfg.Security.WarnOnDuplicateUsername,
			"allow_duplicate_id":         cfg.Security.AllowDuplicateID,
			"warn_on_duplicate_id":       cfg.Security.WarnOnDuplicateID,
		},
		"users": []map[string]any{
			{"username": "admin", "password": "changeme", "moderator": true},
		},
	})
	if err != nil {
		return oops.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	return nil
}

// Validate checks the resolved configuration for values the server
// cannot run with.
func (c Config) Validate() error {
	if c.Secret == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("secret must not be empty")
	}
	if c.ListenAddr == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("listen_addr must not be empty")
	}
	if c.TickInterval < 0 {
		return oops.Code("CONFIG_INVALID").
			With("tick_interval", c.TickInterval.String()).
			Errorf("tick_interval must not be negative")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.LogFormat).
			Errorf("log_format must be json or text")
	}
	for _, u := range c.Users {
		if u.Username == "" || u.Password == "" {
			return oops.Code("CONFIG_INVALID").
				With("username", u.Username).
				Errorf("seed users need both username and password")
		}
	}
	return nil
}
