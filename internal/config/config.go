// Package config provides YAML-based configuration loading for signalbox.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/zulandar/signalbox/internal/i18n"
	"gopkg.in/yaml.v3"
)

// Config is the top-level signalbox configuration, loaded from signalbox.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	USSD     USSDConfig     `yaml:"ussd"`
	Database DatabaseConfig `yaml:"database"`
	Rates    RatesConfig    `yaml:"rates"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the carrier-facing HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// RatePerMinute and Burst bound requests per phone number.
	RatePerMinute int `yaml:"rate_per_minute"`
	Burst         int `yaml:"burst"`
}

// SessionConfig selects the session backend and its expiry policy.
type SessionConfig struct {
	Backend       string        `yaml:"backend"` // "memory" or "redis"
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds connection settings for the Redis session backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// USSDConfig holds dialogue policy.
type USSDConfig struct {
	ServiceCode         string        `yaml:"service_code"`
	Language            string        `yaml:"language"` // BCP 47, e.g. "sw-KE"
	CountryCode         string        `yaml:"country_code"`
	DefaultCurrency     string        `yaml:"default_currency"`
	Currencies          []string      `yaml:"currencies"`
	MaxPINAttempts      int           `yaml:"max_pin_attempts"`
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
	AccountKey          string        `yaml:"account_key"`
}

// DatabaseConfig holds connection settings for the sandbox ledger database.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file, ":memory:" allowed
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// RatesConfig is a USD-pivot rate table: USD[c] units of c buy one USD.
type RatesConfig struct {
	USD    map[string]float64 `yaml:"usd"`
	BTCUSD float64            `yaml:"btc_usd"`
}

// AlertsConfig enables operational notifications. Empty means disabled.
type AlertsConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied,
// suitable for local simulation without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"SIGNALBOX_DB_PASSWORD", &c.Database.Password},
		{"SIGNALBOX_REDIS_PASSWORD", &c.Session.Redis.Password},
		{"SIGNALBOX_SLACK_WEBHOOK", &c.Alerts.SlackWebhook},
		{"SIGNALBOX_DISCORD_TOKEN", &c.Alerts.DiscordToken},
		{"SIGNALBOX_ACCOUNT_KEY", &c.USSD.AccountKey},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RatePerMinute == 0 {
		c.Server.RatePerMinute = 30
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 10
	}

	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = 5 * time.Minute
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = time.Minute
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = "sb:session:"
	}

	if c.USSD.ServiceCode == "" {
		c.USSD.ServiceCode = "*384*22948#"
	}
	c.USSD.Language = i18n.Match(c.USSD.Language)
	if c.USSD.CountryCode == "" {
		c.USSD.CountryCode = "256"
	}
	if len(c.USSD.Currencies) == 0 {
		c.USSD.Currencies = []string{"UGX", "KES", "TZS", "NGN", "USD"}
	}
	for i, cur := range c.USSD.Currencies {
		c.USSD.Currencies[i] = strings.ToUpper(cur)
	}
	if c.USSD.DefaultCurrency == "" {
		c.USSD.DefaultCurrency = c.USSD.Currencies[0]
	}
	c.USSD.DefaultCurrency = strings.ToUpper(c.USSD.DefaultCurrency)
	if c.USSD.MaxPINAttempts == 0 {
		c.USSD.MaxPINAttempts = 3
	}
	if c.USSD.CollaboratorTimeout == 0 {
		c.USSD.CollaboratorTimeout = 10 * time.Second
	}
	if c.USSD.AccountKey == "" {
		c.USSD.AccountKey = "signalbox-dev"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "signalbox.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "signalbox"
		}
	}

	if len(c.Rates.USD) == 0 {
		c.Rates.USD = map[string]float64{
			"UGX": 3700,
			"KES": 129,
			"TZS": 2600,
			"NGN": 1550,
			"USD": 1,
		}
	}
	if c.Rates.BTCUSD == 0 {
		c.Rates.BTCUSD = 60000
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.Redis.Addr == "" {
			errs = append(errs, "session.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("session.backend %q must be memory or redis", c.Session.Backend))
	}
	if c.Session.IdleTimeout < 0 {
		errs = append(errs, "session.idle_timeout must be positive")
	}
	if c.Session.SweepInterval < 0 {
		errs = append(errs, "session.sweep_interval must be positive")
	}
	if strings.Trim(c.USSD.CountryCode, "0123456789") != "" {
		errs = append(errs, fmt.Sprintf("ussd.country_code %q must be digits", c.USSD.CountryCode))
	}
	if !slices.Contains(c.USSD.Currencies, c.USSD.DefaultCurrency) {
		errs = append(errs, fmt.Sprintf("ussd.default_currency %s is not in ussd.currencies", c.USSD.DefaultCurrency))
	}
	for _, cur := range c.USSD.Currencies {
		if c.Rates.USD[cur] <= 0 {
			errs = append(errs, fmt.Sprintf("rates.usd.%s is required", cur))
		}
	}
	if c.USSD.MaxPINAttempts < 1 {
		errs = append(errs, "ussd.max_pin_attempts must be at least 1")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Alerts.DiscordToken != "" && c.Alerts.DiscordChannel == "" {
		errs = append(errs, "alerts.discord_channel is required with alerts.discord_token")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
