package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pinpoint/internal/services/conversation"
	"pinpoint/internal/services/session"
)

const (
	// ConfigFile is read from the home directory when present.
	ConfigFile = "config.yaml"
	// EnvFile is loaded into the environment before overrides are applied.
	EnvFile = ".env"

	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Environment overrides.
const (
	EnvHome          = "PINPOINT_HOME"
	EnvRelayURL      = "PINPOINT_RELAY_URL"
	EnvUser          = "PINPOINT_USER"
	EnvPassphrase    = "PINPOINT_PASSPHRASE"
	EnvLogLevel      = "PINPOINT_LOG_LEVEL"
	EnvStorageDriver = "PINPOINT_STORAGE_DRIVER"
)

// Config holds runtime options for building the app.
type Config struct {
	Home       string `yaml:"-"` // config directory, e.g. $HOME/.pinpoint
	Passphrase string `yaml:"-"` // never read from the config file

	User         string             `yaml:"user"`
	Relay        RelayConfig        `yaml:"relay"`
	Storage      StorageConfig      `yaml:"storage"`
	Crypto       CryptoConfig       `yaml:"crypto"`
	Conversation ConversationConfig `yaml:"conversation"`
	Log          LogConfig          `yaml:"log"`
}

type RelayConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
}

type CryptoConfig struct {
	MaxSkip            int    `yaml:"max_skip"`
	MaxCache           int    `yaml:"max_cache"`
	OneTimePrekeyCount int    `yaml:"one_time_prekey_count"`
	Info               string `yaml:"info"`
}

type ConversationConfig struct {
	ResendResetTimeout time.Duration `yaml:"resend_reset_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	sc := session.DefaultConfig()
	return Config{
		Relay:   RelayConfig{Timeout: 15 * time.Second},
		Storage: StorageConfig{Driver: DriverFile},
		Crypto: CryptoConfig{
			MaxSkip:            sc.MaxSkip,
			MaxCache:           sc.MaxCache,
			OneTimePrekeyCount: sc.OneTimePrekeyCount,
			Info:               sc.Info,
		},
		Conversation: ConversationConfig{ResendResetTimeout: conversation.DefaultResendResetTimeout},
		Log:          LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration for home, or for $PINPOINT_HOME or
// ~/.pinpoint when home is empty. Sources, lowest precedence first: defaults,
// <home>/config.yaml, <home>/.env, the process environment.
func Load(home string) (Config, error) {
	if home == "" {
		home = os.Getenv(EnvHome)
	}
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return Config{}, err
		}
		home = filepath.Join(dir, ".pinpoint")
	}

	cfg := Default()
	cfg.Home = home

	raw, err := os.ReadFile(filepath.Join(home, ConfigFile))
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse %s: %w", ConfigFile, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, err
	}

	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(filepath.Join(home, EnvFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", EnvFile, err)
	}
	cfg.applyEnv()

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Relay.URL, EnvRelayURL)
	set(&c.User, EnvUser)
	set(&c.Passphrase, EnvPassphrase)
	set(&c.Log.Level, EnvLogLevel)
	set(&c.Storage.Driver, EnvStorageDriver)
}

// Validate rejects values the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Crypto.MaxSkip <= 0 {
		errs = append(errs, errors.New("crypto.max_skip must be positive"))
	}
	if c.Crypto.MaxCache <= 0 {
		errs = append(errs, errors.New("crypto.max_cache must be positive"))
	}
	if c.Crypto.OneTimePrekeyCount <= 0 {
		errs = append(errs, errors.New("crypto.one_time_prekey_count must be positive"))
	}
	if c.Crypto.Info == "" {
		errs = append(errs, errors.New("crypto.info must not be empty"))
	}
	if c.Conversation.ResendResetTimeout <= 0 {
		errs = append(errs, errors.New("conversation.resend_reset_timeout must be positive"))
	}
	if c.Relay.Timeout < 0 {
		errs = append(errs, errors.New("relay.timeout must not be negative"))
	}
	switch strings.ToLower(c.Storage.Driver) {
	case DriverFile, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of %s, %s", c.Storage.Driver, DriverFile, DriverSQLite))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SessionConfig maps the crypto section onto the middleware's tunables.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		MaxSkip:            c.Crypto.MaxSkip,
		MaxCache:           c.Crypto.MaxCache,
		Info:               c.Crypto.Info,
		OneTimePrekeyCount: c.Crypto.OneTimePrekeyCount,
	}
}
