// Package config loads server settings. Sources are layered, each overriding
// the previous one: built-in defaults, an optional YAML file, environment
// variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/codeGROOVE-dev/hookfeed/pkg/store"
)

// PlaceholderSecret is the sample secret shipped in old example configs. It
// is treated the same as no secret at all.
const PlaceholderSecret = "your-webhook-secret-key"

// TextCodeInvalidConfig marks configuration validation errors.
const TextCodeInvalidConfig = "INVALID_CONFIG"

// Config holds every server setting.
type Config struct {
	StoreURI              string        `yaml:"store_uri"`
	Database              string        `yaml:"database"`
	Collection            string        `yaml:"collection"`
	WebhookSecret         string        `yaml:"webhook_secret"`
	LECacheDir            string        `yaml:"le_cache_dir"`
	LEEmail               string        `yaml:"le_email"`
	AllowedOrigins        []string      `yaml:"allowed_origins"`
	LEDomains             []string      `yaml:"le_domains"`
	StoreTimeout          time.Duration `yaml:"store_timeout"`
	MaxPayloadSize        int64         `yaml:"max_payload_size"`
	Port                  int           `yaml:"port"`
	RateLimit             int           `yaml:"rate_limit"`
	MaxConnsPerIP         int           `yaml:"max_conns_per_ip"`
	MaxConnsTotal         int           `yaml:"max_conns_total"`
	AllowUnsignedWebhooks bool          `yaml:"allow_unsigned_webhooks"`
	Debug                 bool          `yaml:"debug"`
	GitHubIPCheck         bool          `yaml:"github_ip_check"`
	LetsEncrypt           bool          `yaml:"letsencrypt"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		StoreURI:       "sqlite://",
		Database:       "hookfeed",
		Collection:     "github_events",
		Port:           5000,
		StoreTimeout:   5 * time.Second,
		MaxPayloadSize: 25 << 20,
		RateLimit:      100,
		MaxConnsPerIP:  10,
		MaxConnsTotal:  1000,
		LECacheDir:     "./.letsencrypt",
	}
}

// Load builds the configuration from args (without the program name) and
// the environment. It returns pflag.ErrHelp when help was requested.
func Load(args []string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	// First pass only discovers the config file path.
	probe := Default()
	configPath := getenv("CONFIG_FILE")
	if err := probe.newFlagSet(&configPath).Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.newFlagSet(&configPath).Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Usage prints flag help to stderr.
func Usage() {
	cfg := Default()
	var path string
	fs := cfg.newFlagSet(&path)
	fmt.Fprintln(os.Stderr, "Usage of hookfeed:")
	fs.PrintDefaults()
}

func (c *Config) newFlagSet(configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("hookfeed", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.Usage = func() {}

	fs.StringVar(configPath, "config", *configPath, "YAML configuration file (env CONFIG_FILE)")
	fs.StringVar(&c.StoreURI, "store-uri", c.StoreURI, "event store: memory://, sqlite://<path>, file:<dsn> or postgres://... (env STORE_URI)")
	fs.StringVar(&c.Database, "database", c.Database, "database name when the store URI has none (env DATABASE_NAME)")
	fs.StringVar(&c.Collection, "collection", c.Collection, "table holding event records (env COLLECTION_NAME)")
	fs.StringVar(&c.WebhookSecret, "webhook-secret", c.WebhookSecret, "GitHub webhook secret (env WEBHOOK_SECRET)")
	fs.BoolVar(&c.AllowUnsignedWebhooks, "allow-unsigned-webhooks", c.AllowUnsignedWebhooks, "accept webhooks without a valid signature; development only (env ALLOW_UNSIGNED_WEBHOOKS)")
	fs.IntVar(&c.Port, "port", c.Port, "listen port (env PORT)")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "debug logging (env DEBUG)")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", c.StoreTimeout, "bound for each store call (env STORE_TIMEOUT)")
	fs.Int64Var(&c.MaxPayloadSize, "max-payload-size", c.MaxPayloadSize, "largest accepted webhook body in bytes (env MAX_PAYLOAD_SIZE)")
	fs.IntVar(&c.RateLimit, "rate-limit", c.RateLimit, "maximum requests per minute per IP, 0 disables (env RATE_LIMIT)")
	fs.IntVar(&c.MaxConnsPerIP, "max-conns-per-ip", c.MaxConnsPerIP, "maximum live feed connections per IP (env MAX_CONNS_PER_IP)")
	fs.IntVar(&c.MaxConnsTotal, "max-conns-total", c.MaxConnsTotal, "maximum live feed connections (env MAX_CONNS_TOTAL)")
	fs.StringSliceVar(&c.AllowedOrigins, "allowed-origins", c.AllowedOrigins, "CORS and live feed origin allowlist (env ALLOWED_ORIGINS)")
	fs.BoolVar(&c.GitHubIPCheck, "github-ip-check", c.GitHubIPCheck, "only accept webhooks from GitHub hook addresses (env GITHUB_IP_CHECK)")
	fs.BoolVar(&c.LetsEncrypt, "letsencrypt", c.LetsEncrypt, "serve TLS with Let's Encrypt certificates (env LETSENCRYPT)")
	fs.StringSliceVar(&c.LEDomains, "le-domains", c.LEDomains, "domains for Let's Encrypt certificates (env LE_DOMAINS)")
	fs.StringVar(&c.LECacheDir, "le-cache-dir", c.LECacheDir, "Let's Encrypt certificate cache directory (env LE_CACHE_DIR)")
	fs.StringVar(&c.LEEmail, "le-email", c.LEEmail, "Let's Encrypt contact email (env LE_EMAIL)")
	return fs
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from set environment variables. The first name
// listed for a field wins over its aliases.
func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []error
	lookup := func(names ...string) (string, bool) {
		for _, name := range names {
			if v := strings.TrimSpace(getenv(name)); v != "" {
				return v, true
			}
		}
		return "", false
	}
	setString := func(dst *string, names ...string) {
		if v, ok := lookup(names...); ok {
			*dst = v
		}
	}
	setList := func(dst *[]string, name string) {
		if v, ok := lookup(name); ok {
			*dst = splitList(v)
		}
	}
	setBool := func(dst *bool, name string) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	setInt := func(dst *int, name string) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	setString(&c.StoreURI, "STORE_URI", "MONGO_URI")
	setString(&c.Database, "DATABASE_NAME")
	setString(&c.Collection, "COLLECTION_NAME")
	setString(&c.WebhookSecret, "WEBHOOK_SECRET", "GITHUB_WEBHOOK_SECRET")
	setBool(&c.AllowUnsignedWebhooks, "ALLOW_UNSIGNED_WEBHOOKS")
	setInt(&c.Port, "PORT")
	setBool(&c.Debug, "DEBUG")
	if v, ok := lookup("STORE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("STORE_TIMEOUT: %w", err))
		} else {
			c.StoreTimeout = d
		}
	}
	if v, ok := lookup("MAX_PAYLOAD_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_PAYLOAD_SIZE: %w", err))
		} else {
			c.MaxPayloadSize = n
		}
	}
	setInt(&c.RateLimit, "RATE_LIMIT")
	setInt(&c.MaxConnsPerIP, "MAX_CONNS_PER_IP")
	setInt(&c.MaxConnsTotal, "MAX_CONNS_TOTAL")
	setList(&c.AllowedOrigins, "ALLOWED_ORIGINS")
	setBool(&c.GitHubIPCheck, "GITHUB_IP_CHECK")
	setBool(&c.LetsEncrypt, "LETSENCRYPT")
	setList(&c.LEDomains, "LE_DOMAINS")
	setString(&c.LECacheDir, "LE_CACHE_DIR")
	setString(&c.LEEmail, "LE_EMAIL")

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var fields []goerrors.FieldError
	add := func(field, message string, value any) {
		fields = append(fields, goerrors.FieldError{Field: field, Message: message, Value: value})
	}

	if c.Port < 1 || c.Port > 65535 {
		add("port", "must be between 1 and 65535", c.Port)
	}
	if strings.TrimSpace(c.Collection) == "" {
		add("collection", "must not be empty", c.Collection)
	}
	if err := store.CheckURI(c.StoreURI); err != nil {
		add("store_uri", err.Error(), c.StoreURI)
	}
	if c.StoreTimeout < 0 {
		add("store_timeout", "must not be negative", c.StoreTimeout.String())
	}
	if c.MaxPayloadSize <= 0 {
		add("max_payload_size", "must be positive", c.MaxPayloadSize)
	}
	if c.RateLimit < 0 {
		add("rate_limit", "must not be negative", c.RateLimit)
	}
	if c.MaxConnsPerIP < 1 || c.MaxConnsTotal < 1 {
		add("max_conns", "connection limits must be positive", nil)
	}
	if !c.AllowUnsignedWebhooks {
		switch c.WebhookSecret {
		case "":
			add("webhook_secret", "is required unless unsigned webhooks are explicitly allowed", nil)
		case PlaceholderSecret:
			add("webhook_secret", "is the sample placeholder; set a real secret", nil)
		}
	}
	if c.LetsEncrypt && len(c.LEDomains) == 0 {
		add("le_domains", "required when letsencrypt is enabled", nil)
	}

	if len(fields) == 0 {
		return nil
	}
	return goerrors.NewValidation("config: validation failed", fields...).
		WithTextCode(TextCodeInvalidConfig)
}

// Addr is the listen address for plain HTTP.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// StoreOptions maps the settings onto store.Options.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		URI:             c.StoreURI,
		Database:        c.Database,
		Table:           c.Collection,
		Debug:           c.Debug,
		PingTimeout:     c.StoreTimeout,
		ConnectAttempts: 5,
	}
}
