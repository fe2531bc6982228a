// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

// Package config loads process configuration from a .env file, an optional
// YAML file, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Defaults used when nothing else provides a value.
const (
	DefaultMongoDatabase   = "cchanitur_db_user"
	DefaultMongoCollection = "USUARIOS"
	DefaultListenAddr      = ":5000"
	DefaultMetricsAddr     = "127.0.0.1:9100"
	DefaultLogFormat       = "json"
	DefaultLogLevel        = "info"
	DefaultSessionTTL      = 24 * time.Hour
	DefaultSMTPPort        = 587
	DefaultUserStore       = StoreMongo

	// DevelopmentSecret signs sessions and tokens when SECRET_KEY is unset.
	DevelopmentSecret = "advpjsh"
)

// User store backends.
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// envKeys maps environment variable names to configuration keys.
var envKeys = map[string]string{
	"USER_STORE":            "user-store",
	"MONGO_URI":             "mongo-uri",
	"MONGO_DB_NAME":         "mongo-database",
	"MONGO_COLLECTION_NAME": "mongo-collection",
	"SECRET_KEY":            "secret-key",
	"SENDGRID_API_KEY":      "sendgrid-api-key",
	"SENDGRID_FROM_EMAIL":   "mail-from",
	"SMTP_HOST":             "smtp-host",
	"SMTP_PORT":             "smtp-port",
	"SMTP_USERNAME":         "smtp-username",
	"SMTP_PASSWORD":         "smtp-password",
	"LISTEN_ADDR":           "listen-addr",
	"BASE_URL":              "base-url",
	"TRUST_PROXY":           "trust-proxy",
	"METRICS_ADDR":          "metrics-addr",
	"LOG_FORMAT":            "log-format",
	"LOG_LEVEL":             "log-level",
	"SESSION_TTL":           "session-ttl",
	"COOKIE_SECURE":         "cookie-secure",
}

// Config holds the resolved process configuration.
type Config struct {
	UserStore       string `koanf:"user-store"`
	MongoURI        string `koanf:"mongo-uri"`
	MongoDatabase   string `koanf:"mongo-database"`
	MongoCollection string `koanf:"mongo-collection"`

	SecretKey string `koanf:"secret-key"`

	SendGridAPIKey string `koanf:"sendgrid-api-key"`
	MailFrom       string `koanf:"mail-from"`
	SMTPHost       string `koanf:"smtp-host"`
	SMTPPort       int    `koanf:"smtp-port"`
	SMTPUsername   string `koanf:"smtp-username"`
	SMTPPassword   string `koanf:"smtp-password"`

	ListenAddr  string `koanf:"listen-addr"`
	BaseURL     string `koanf:"base-url"`
	TrustProxy  bool   `koanf:"trust-proxy"`
	MetricsAddr string `koanf:"metrics-addr"`

	LogFormat string `koanf:"log-format"`
	LogLevel  string `koanf:"log-level"`

	SessionTTL   time.Duration `koanf:"session-ttl"`
	CookieSecure bool          `koanf:"cookie-secure"`
}

// RegisterFlags defines one flag per configuration key on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("user-store", DefaultUserStore, "user store backend (mongo or memory)")
	fs.String("mongo-uri", "", "MongoDB connection URI (default: local instance)")
	fs.String("mongo-database", "", "MongoDB database name (default: "+DefaultMongoDatabase+")")
	fs.String("mongo-collection", "", "MongoDB collection holding users (default: "+DefaultMongoCollection+")")
	fs.String("secret-key", "", "secret for session cookies and reset tokens")
	fs.String("sendgrid-api-key", "", "SendGrid API key")
	fs.String("mail-from", "", "sender address for outgoing email")
	fs.String("smtp-host", "", "SMTP relay host, used when SendGrid is not configured")
	fs.Int("smtp-port", DefaultSMTPPort, "SMTP relay port")
	fs.String("smtp-username", "", "SMTP username")
	fs.String("smtp-password", "", "SMTP password")
	fs.String("listen-addr", DefaultListenAddr, "HTTP listen address")
	fs.String("base-url", "", "external base URL for links in email (default: request host)")
	fs.Bool("trust-proxy", false, "honour X-Forwarded-Proto when deriving links from the request")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.Duration("session-ttl", DefaultSessionTTL, "session lifetime")
	fs.Bool("cookie-secure", false, "mark the session cookie Secure")
}

// Options controls where Load looks for configuration.
type Options struct {
	// Flags must have been set up with RegisterFlags and parsed.
	Flags *pflag.FlagSet
	// ConfigFile is an optional YAML file. It must exist when set.
	ConfigFile string
	// DotEnvFile is an optional .env file. A missing file is ignored.
	DotEnvFile string
}

// Load resolves the configuration. Later sources win: .env file, YAML file,
// environment, explicitly set flags. Flag defaults fill what is left.
// The returned warnings describe fallbacks that were applied.
func Load(opts Options) (*Config, []string, error) {
	k := koanf.New(".")

	if opts.DotEnvFile != "" {
		if _, err := os.Stat(opts.DotEnvFile); err == nil {
			if err := k.Load(file.Provider(opts.DotEnvFile), dotenv.ParserEnv("", ".", envKey)); err != nil {
				return nil, nil, oops.Code("CONFIG_LOAD_FAILED").
					With("file", opts.DotEnvFile).
					Wrap(err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, oops.Code("CONFIG_LOAD_FAILED").
				With("file", opts.DotEnvFile).
				Wrap(err)
		}
	}

	if opts.ConfigFile != "" {
		if err := k.Load(file.Provider(opts.ConfigFile), yaml.Parser()); err != nil {
			return nil, nil, oops.Code("CONFIG_LOAD_FAILED").
				With("file", opts.ConfigFile).
				Wrap(err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.Provider(opts.Flags, ".", k), nil); err != nil {
			return nil, nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	warnings := cfg.applyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// envKey maps an environment variable name to its key, or "" to skip it.
func envKey(name string) string {
	return envKeys[name]
}

// applyFallbacks fills values that have a development fallback and reports
// each one used.
func (c *Config) applyFallbacks() []string {
	var warnings []string

	if c.UserStore == "" {
		c.UserStore = DefaultUserStore
	}
	mongo := c.UserStore == StoreMongo
	if c.MongoDatabase == "" {
		c.MongoDatabase = DefaultMongoDatabase
		if mongo {
			warnings = append(warnings, fmt.Sprintf("MONGO_DB_NAME is not set, using %q", c.MongoDatabase))
		}
	}
	if c.MongoCollection == "" {
		c.MongoCollection = DefaultMongoCollection
		if mongo {
			warnings = append(warnings, fmt.Sprintf("MONGO_COLLECTION_NAME is not set, using %q", c.MongoCollection))
		}
	}
	if c.MongoURI == "" && mongo {
		c.MongoURI = "mongodb://localhost:27017/" + c.MongoDatabase
		warnings = append(warnings, fmt.Sprintf("MONGO_URI is not set, using local MongoDB instance (%s)", c.MongoURI))
	}
	if c.SecretKey == "" {
		c.SecretKey = DevelopmentSecret
		warnings = append(warnings, "SECRET_KEY is not set, using the development secret")
	}
	if !c.MailConfigured() {
		warnings = append(warnings, "no email provider configured (set SENDGRID_API_KEY and SENDGRID_FROM_EMAIL, or SMTP_HOST), reset emails will not be sent")
	} else if c.BaseURL == "" {
		warnings = append(warnings, "BASE_URL is not set, reset links will use the request Host header")
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	return warnings
}

// MailConfigured reports whether some email provider has enough settings.
func (c *Config) MailConfigured() bool {
	if c.MailFrom == "" {
		return false
	}
	return c.SendGridAPIKey != "" || c.SMTPHost != ""
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.UserStore != StoreMongo && c.UserStore != StoreMemory {
		return oops.Code("CONFIG_INVALID").
			With("user_store", c.UserStore).
			Errorf("user-store must be 'mongo' or 'memory', got %q", c.UserStore)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.LogFormat).
			Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.ListenAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("listen-addr is required")
	}
	if c.SessionTTL <= 0 {
		return oops.Code("CONFIG_INVALID").
			With("session_ttl", c.SessionTTL.String()).
			Errorf("session-ttl must be positive")
	}
	if c.SMTPHost != "" && (c.SMTPPort < 1 || c.SMTPPort > 65535) {
		return oops.Code("CONFIG_INVALID").
			With("smtp_port", c.SMTPPort).
			Errorf("smtp-port must be between 1 and 65535")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return oops.Code("CONFIG_INVALID").
				With("base_url", c.BaseURL).
				Errorf("base-url must be an absolute http(s) URL")
		}
	}
	return nil
}
