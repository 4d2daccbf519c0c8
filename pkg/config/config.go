// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	AccountAPI AccountAPIConfig `mapstructure:"account_api"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Alert      AlertConfig      `mapstructure:"alert"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig locates the throttle counter store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AccountAPIConfig locates the third-party account/session API.
type AccountAPIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// BrowserConfig configures the headless browser sessions workers own.
type BrowserConfig struct {
	Headless          bool   `mapstructure:"headless"`
	ProfileRoot       string `mapstructure:"profile_root"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	// UserAgent overrides the browser's user agent when non-empty.
	UserAgent string `mapstructure:"user_agent"`
}

// SupervisorConfig governs the reconcile and connectivity cycles.
type SupervisorConfig struct {
	ReconcileSeconds      int `mapstructure:"reconcile_seconds"`
	ConnectivitySeconds   int `mapstructure:"connectivity_seconds"`
	HeartbeatStaleSeconds int `mapstructure:"heartbeat_stale_seconds"`
	StopGraceSeconds      int `mapstructure:"stop_grace_seconds"`
	KillGraceSeconds      int `mapstructure:"kill_grace_seconds"`
	RestartPauseSeconds   int `mapstructure:"restart_pause_seconds"`
	OpsPort               int `mapstructure:"ops_port"`
}

// ThrottleConfig holds admission-control limits.
type ThrottleConfig struct {
	GlobalLimit         int `mapstructure:"global_limit"`
	GlobalWindowSeconds int `mapstructure:"global_window_seconds"`
	HighIntervalSeconds int `mapstructure:"high_interval_seconds"`
	LowIntervalSeconds  int `mapstructure:"low_interval_seconds"`
}

// NotifyConfig controls downstream callback delivery.
type NotifyConfig struct {
	TimeoutSeconds    int `mapstructure:"timeout_seconds"`
	MaxAttempts       int `mapstructure:"max_attempts"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
}

// AlertConfig locates the operator alert webhook.
type AlertConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// ArtifactsConfig sets the bucket and prefix for profile archives.
type ArtifactsConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every key Viper should know about. Keys without a
// meaningful default still get an empty one so AutomaticEnv can resolve them
// during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("account_api.base_url", "")
	v.SetDefault("account_api.timeout_seconds", 180)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_root", "./chrome_profile_dir")
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("supervisor.reconcile_seconds", 60)
	v.SetDefault("supervisor.connectivity_seconds", 120)
	v.SetDefault("supervisor.heartbeat_stale_seconds", 300)
	v.SetDefault("supervisor.stop_grace_seconds", 30)
	v.SetDefault("supervisor.kill_grace_seconds", 5)
	v.SetDefault("supervisor.restart_pause_seconds", 2)
	v.SetDefault("supervisor.ops_port", 8080)
	v.SetDefault("throttle.global_limit", 60)
	v.SetDefault("throttle.global_window_seconds", 3600)
	v.SetDefault("throttle.high_interval_seconds", 60)
	v.SetDefault("throttle.low_interval_seconds", 3600)
	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("notify.max_attempts", 5)
	v.SetDefault("notify.retry_delay_seconds", 5)
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.prefix", "chrome-profiles")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.AccountAPI.BaseURL == "" {
		return fmt.Errorf("account_api.base_url is required")
	}
	if c.Supervisor.ReconcileSeconds <= 0 {
		return fmt.Errorf("supervisor.reconcile_seconds must be > 0")
	}
	if c.Supervisor.OpsPort <= 0 {
		return fmt.Errorf("supervisor.ops_port must be > 0")
	}
	if c.Throttle.GlobalLimit <= 0 {
		return fmt.Errorf("throttle.global_limit must be > 0")
	}
	if c.Notify.MaxAttempts <= 0 {
		return fmt.Errorf("notify.max_attempts must be > 0")
	}
	return nil
}

// NavTimeout converts the browser navigation budget into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}
