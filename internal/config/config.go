package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultBaseURL is the subscriber portal root.
const DefaultBaseURL = "https://control-center.1und1.de"

var guestTokenPattern = regexp.MustCompile(`/mc/([^/?#]+)`)

// AuthMode selects how the portal session is obtained.
type AuthMode int

const (
	AuthNone AuthMode = iota
	// AuthCredentials logs in with username and password.
	AuthCredentials
	// AuthGuestLink opens a personal guest link.
	AuthGuestLink
)

func (m AuthMode) String() string {
	switch m {
	case AuthCredentials:
		return "credentials"
	case AuthGuestLink:
		return "guest_link"
	default:
		return "none"
	}
}

// MarshalYAML renders the mode by name.
func (m AuthMode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// ConfigError is an unrecoverable configuration problem found at startup.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config holds all application configuration.
type Config struct {
	Auth      AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Contracts []string       `mapstructure:"contracts" yaml:"contracts"`
	Portal    PortalConfig   `mapstructure:"portal" yaml:"portal"`
	Monitor   MonitorConfig  `mapstructure:"monitor" yaml:"monitor"`
	Logging   LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Redis     RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Metrics   MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Telegram  TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

type AuthConfig struct {
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"password"`
	GuestURL string   `mapstructure:"guest_url" yaml:"guest_url"`
	Mode     AuthMode `mapstructure:"-" yaml:"mode"`
}

// GuestToken extracts the token part of the guest link.
func (a AuthConfig) GuestToken() string {
	m := guestTokenPattern.FindStringSubmatch(a.GuestURL)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// DefaultWebshareURL lists the proxies of a Webshare account.
const DefaultWebshareURL = "https://proxy.webshare.io/api/v2/proxy/list/?mode=direct&page=1&page_size=100"

type PortalConfig struct {
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Proxy          string  `mapstructure:"proxy" yaml:"proxy"`
	// ProxyFile lists one proxy per line as ip:port[:user:pass]. Each request
	// picks one at random.
	ProxyFile      string `mapstructure:"proxy_file" yaml:"proxy_file"`
	UseWebshare    bool   `mapstructure:"use_webshare" yaml:"use_webshare"`
	WebshareAPIKey string `mapstructure:"webshare_api_key" yaml:"webshare_api_key"`
	WebshareURL    string `mapstructure:"webshare_url" yaml:"webshare_url"`
}

// Timeout bounds every call to the portal.
func (p PortalConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type MonitorConfig struct {
	ThresholdGB                   float64 `mapstructure:"threshold_gb" yaml:"threshold_gb"`
	CheckIntervalSeconds          int     `mapstructure:"check_interval_seconds" yaml:"check_interval_seconds"`
	FastIntervalSeconds           int     `mapstructure:"fast_interval_seconds" yaml:"fast_interval_seconds"`
	MaxIntervalSeconds            int     `mapstructure:"max_interval_seconds" yaml:"max_interval_seconds"`
	DynamicInterval               bool    `mapstructure:"dynamic_interval" yaml:"dynamic_interval"`
	InitialDynamicIntervalSeconds int     `mapstructure:"initial_dynamic_interval_seconds" yaml:"initial_dynamic_interval_seconds"`
	GrowthFactor                  float64 `mapstructure:"growth_factor" yaml:"growth_factor"`
	ComfortFactor                 float64 `mapstructure:"comfort_factor" yaml:"comfort_factor"`
	SafetyFactor                  float64 `mapstructure:"safety_factor" yaml:"safety_factor"`
	RetryBackoffSeconds           int     `mapstructure:"retry_backoff_seconds" yaml:"retry_backoff_seconds"`
	MaxConsecutiveFailures        int     `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
}

func (m MonitorConfig) CheckInterval() time.Duration {
	return time.Duration(m.CheckIntervalSeconds) * time.Second
}

func (m MonitorConfig) FastInterval() time.Duration {
	return time.Duration(m.FastIntervalSeconds) * time.Second
}

func (m MonitorConfig) MaxInterval() time.Duration {
	return time.Duration(m.MaxIntervalSeconds) * time.Second
}

func (m MonitorConfig) InitialInterval() time.Duration {
	return time.Duration(m.InitialDynamicIntervalSeconds) * time.Second
}

func (m MonitorConfig) RetryBackoff() time.Duration {
	return time.Duration(m.RetryBackoffSeconds) * time.Second
}

type LoggingConfig struct {
	Level                string        `mapstructure:"level" yaml:"level"`
	Format               string        `mapstructure:"format" yaml:"format"`
	UseColors            bool          `mapstructure:"use_colors" yaml:"use_colors"`
	Dir                  string        `mapstructure:"dir" yaml:"dir"`
	RetentionHours       float64       `mapstructure:"retention_hours" yaml:"retention_hours"`
	Store                string        `mapstructure:"store" yaml:"store"`
	StorePath            string        `mapstructure:"store_path" yaml:"store_path"`
	HousekeepingInterval time.Duration `mapstructure:"housekeeping_interval" yaml:"housekeeping_interval"`
}

// Retention is the age after which log files and records are pruned.
func (l LoggingConfig) Retention() time.Duration {
	return time.Duration(l.RetentionHours * float64(time.Hour))
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID   string `mapstructure:"chat_id" yaml:"chat_id"`
}

// Enabled reports whether operator notifications are configured.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Load reads the optional config file and applies environment overrides.
// A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, &ConfigError{Field: "file", Reason: "read " + path, Err: err}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Field: "file", Reason: "decode", Err: err}
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.base_url", DefaultBaseURL)
	v.SetDefault("portal.timeout_seconds", 30)
	v.SetDefault("portal.rate_limit", 2.0)
	v.SetDefault("portal.use_webshare", false)
	v.SetDefault("portal.webshare_url", DefaultWebshareURL)

	v.SetDefault("monitor.threshold_gb", 1.0)
	v.SetDefault("monitor.check_interval_seconds", 60)
	v.SetDefault("monitor.fast_interval_seconds", 5)
	v.SetDefault("monitor.max_interval_seconds", 300)
	v.SetDefault("monitor.dynamic_interval", true)
	v.SetDefault("monitor.initial_dynamic_interval_seconds", 60)
	v.SetDefault("monitor.growth_factor", 1.5)
	v.SetDefault("monitor.comfort_factor", 3.0)
	v.SetDefault("monitor.safety_factor", 0.7)
	v.SetDefault("monitor.retry_backoff_seconds", 10)
	v.SetDefault("monitor.max_consecutive_failures", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.use_colors", false)
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.retention_hours", 12)
	v.SetDefault("logging.store", "sqlite")
	v.SetDefault("logging.store_path", "data/sentinel.db")
	v.SetDefault("logging.housekeeping_interval", "5m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
}

func bindEnv(v *viper.Viper) {
	bindings := map[string]string{
		"auth.username":                            "CONTROL_CENTER_USERNAME",
		"auth.password":                            "CONTROL_CENTER_PASSWORD",
		"auth.guest_url":                           "GUEST_URL",
		"contracts":                                "CONTROL_CENTER_CONTRACT_IDS",
		"portal.base_url":                          "PORTAL_BASE_URL",
		"portal.timeout_seconds":                   "API_TIMEOUT",
		"portal.rate_limit":                        "PORTAL_RATE_LIMIT",
		"portal.proxy":                             "HTTPS_PROXY",
		"portal.proxy_file":                        "PROXY_FILE",
		"portal.use_webshare":                      "USE_WEBSHARE",
		"portal.webshare_api_key":                  "API_KEY_WEBSHARE",
		"portal.webshare_url":                      "WEBSHARE_URL",
		"monitor.threshold_gb":                     "MONITOR_THRESHOLD_GB",
		"monitor.check_interval_seconds":           "MONITOR_CHECK_INTERVAL_SECONDS",
		"monitor.fast_interval_seconds":            "MONITOR_FAST_CHECK_INTERVAL_SECONDS",
		"monitor.max_interval_seconds":             "MONITOR_MAX_CHECK_INTERVAL_SECONDS",
		"monitor.dynamic_interval":                 "MONITOR_DYNAMIC_INTERVAL",
		"monitor.initial_dynamic_interval_seconds": "MONITOR_INITIAL_DYNAMIC_INTERVAL_SECONDS",
		"monitor.growth_factor":                    "MONITOR_GROWTH_FACTOR",
		"monitor.comfort_factor":                   "MONITOR_COMFORT_FACTOR",
		"monitor.safety_factor":                    "MONITOR_SAFETY_FACTOR",
		"monitor.retry_backoff_seconds":            "MONITOR_RETRY_BACKOFF_SECONDS",
		"monitor.max_consecutive_failures":         "MONITOR_MAX_CONSECUTIVE_FAILURES",
		"logging.level":                            "LOG_LEVEL",
		"logging.format":                           "LOG_FORMAT",
		"logging.use_colors":                       "LOGGER_USE_COLORS",
		"logging.dir":                              "LOG_DIR",
		"logging.retention_hours":                  "MONITOR_LOG_RETENTION_HOURS",
		"logging.store":                            "LOG_STORE",
		"logging.store_path":                       "LOG_STORE_PATH",
		"logging.housekeeping_interval":            "HOUSEKEEPING_INTERVAL",
		"redis.addr":                               "REDIS_ADDR",
		"redis.password":                           "REDIS_PASSWORD",
		"redis.db":                                 "REDIS_DB",
		"metrics.addr":                             "METRICS_ADDR",
		"telegram.bot_token":                       "TELEGRAM_BOT_TOKEN",
		"telegram.chat_id":                         "TELEGRAM_CHAT_ID",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

func (c *Config) normalize() {
	var ids []string
	for _, raw := range c.Contracts {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	c.Contracts = ids

	c.Auth.Username = strings.TrimSpace(c.Auth.Username)
	c.Auth.GuestURL = strings.TrimSpace(c.Auth.GuestURL)
	c.Portal.BaseURL = strings.TrimRight(c.Portal.BaseURL, "/")
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Store = strings.ToLower(strings.TrimSpace(c.Logging.Store))

	// The guest link wins when both are present.
	switch {
	case c.Auth.GuestURL != "":
		c.Auth.Mode = AuthGuestLink
	case c.Auth.Username != "" && c.Auth.Password != "":
		c.Auth.Mode = AuthCredentials
	default:
		c.Auth.Mode = AuthNone
	}
}

// Validate checks that all required fields are set and the bounds are consistent.
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case AuthNone:
		return &ConfigError{Field: "auth", Reason: "set CONTROL_CENTER_USERNAME and CONTROL_CENTER_PASSWORD, or GUEST_URL"}
	case AuthCredentials:
		if len(c.Contracts) == 0 {
			return &ConfigError{Field: "contracts", Reason: "CONTROL_CENTER_CONTRACT_IDS is required with credentials"}
		}
	case AuthGuestLink:
		if c.Auth.GuestToken() == "" {
			return &ConfigError{Field: "auth.guest_url", Reason: "expected a link of the form https://.../mc/<token>"}
		}
		if len(c.Contracts) > 1 {
			return &ConfigError{Field: "contracts", Reason: "a guest link covers a single contract"}
		}
	}

	if _, err := url.ParseRequestURI(c.Portal.BaseURL); err != nil {
		return &ConfigError{Field: "portal.base_url", Reason: "invalid URL", Err: err}
	}
	if c.Portal.Proxy != "" {
		if _, err := url.Parse(c.Portal.Proxy); err != nil {
			return &ConfigError{Field: "portal.proxy", Reason: "invalid URL", Err: err}
		}
	}
	if c.Portal.UseWebshare && c.Portal.WebshareAPIKey == "" {
		return &ConfigError{Field: "portal.webshare_api_key", Reason: "API_KEY_WEBSHARE is required with USE_WEBSHARE"}
	}
	if c.Portal.TimeoutSeconds <= 0 {
		return &ConfigError{Field: "portal.timeout_seconds", Reason: "must be positive"}
	}
	if c.Portal.RateLimit < 0 {
		return &ConfigError{Field: "portal.rate_limit", Reason: "must not be negative"}
	}

	m := c.Monitor
	if m.ThresholdGB < 0 {
		return &ConfigError{Field: "monitor.threshold_gb", Reason: "must not be negative"}
	}
	if m.CheckIntervalSeconds <= 0 || m.FastIntervalSeconds <= 0 || m.MaxIntervalSeconds <= 0 {
		return &ConfigError{Field: "monitor", Reason: "check, fast and max intervals must be positive"}
	}
	if m.FastIntervalSeconds > m.MaxIntervalSeconds {
		return &ConfigError{Field: "monitor.fast_interval_seconds", Reason: fmt.Sprintf("fast interval %ds exceeds max interval %ds", m.FastIntervalSeconds, m.MaxIntervalSeconds)}
	}
	if m.InitialDynamicIntervalSeconds <= 0 {
		return &ConfigError{Field: "monitor.initial_dynamic_interval_seconds", Reason: "must be positive"}
	}
	if m.GrowthFactor < 1 {
		return &ConfigError{Field: "monitor.growth_factor", Reason: "must be at least 1"}
	}
	if m.ComfortFactor <= 0 {
		return &ConfigError{Field: "monitor.comfort_factor", Reason: "must be positive"}
	}
	if m.SafetyFactor <= 0 || m.SafetyFactor > 1 {
		return &ConfigError{Field: "monitor.safety_factor", Reason: "must be in (0, 1]"}
	}
	if m.RetryBackoffSeconds <= 0 {
		return &ConfigError{Field: "monitor.retry_backoff_seconds", Reason: "must be positive"}
	}
	if m.MaxConsecutiveFailures < 1 {
		return &ConfigError{Field: "monitor.max_consecutive_failures", Reason: "must be at least 1"}
	}

	l := c.Logging
	if l.RetentionHours <= 0 {
		return &ConfigError{Field: "logging.retention_hours", Reason: "must be positive"}
	}
	switch l.Format {
	case "text", "json":
	default:
		return &ConfigError{Field: "logging.format", Reason: fmt.Sprintf("unknown format %q", l.Format)}
	}
	switch l.Store {
	case "sqlite", "bolt":
		if l.StorePath == "" {
			return &ConfigError{Field: "logging.store_path", Reason: "required for " + l.Store}
		}
	case "redis":
		if c.Redis.Addr == "" {
			return &ConfigError{Field: "redis.addr", Reason: "required for the redis store"}
		}
	case "none", "":
	default:
		return &ConfigError{Field: "logging.store", Reason: fmt.Sprintf("unknown store %q", l.Store)}
	}
	if l.HousekeepingInterval < 0 {
		return &ConfigError{Field: "logging.housekeeping_interval", Reason: "must not be negative"}
	}
	return nil
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Contracts = append([]string(nil), c.Contracts...)
	c.Auth.Password = mask(c.Auth.Password)
	if tok := c.Auth.GuestToken(); tok != "" {
		c.Auth.GuestURL = strings.Replace(c.Auth.GuestURL, tok, mask(tok), 1)
	}
	c.Portal.WebshareAPIKey = mask(c.Portal.WebshareAPIKey)
	if u, err := url.Parse(c.Portal.Proxy); err == nil && u.User != nil {
		c.Portal.Proxy = u.Redacted()
	}
	c.Redis.Password = mask(c.Redis.Password)
	c.Telegram.BotToken = mask(c.Telegram.BotToken)
	return c
}
