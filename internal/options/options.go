// Package options maps spec.md §6's configuration surface into a typed
// Options struct, loaded with viper exactly as the teacher's
// config.LoadConfig does: a viper.SetDefault cascade, AutomaticEnv with a
// "."->"_" env-key replacer, and an optional YAML file layered on top —
// trimmed from the teacher's deployment-profile sections (server,
// database, redis, LLM, webhook) down to this SDK's own sections.
package options

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NetworkOptions configures the HTTP transport, per spec.md §6.
type NetworkOptions struct {
	ConnectionTimeoutMs int `mapstructure:"connection_timeout_ms"`
	ReadTimeoutMs       int `mapstructure:"read_timeout_ms"`
}

// PollingOptions configures the Config Manager's scheduler.
type PollingOptions struct {
	SdkSettingsCheckIntervalMs   int  `mapstructure:"sdk_settings_check_interval_ms"`
	BackgroundPollingIntervalMs  int  `mapstructure:"background_polling_interval_ms"`
	ReducedPollingIntervalMs     int  `mapstructure:"reduced_polling_interval_ms"`
	DisableBackgroundPolling     bool `mapstructure:"disable_background_polling"`
	UseReducedPollingWhenBatteryLow bool `mapstructure:"use_reduced_polling_when_battery_low"`
}

// CacheOptions configures the Config Cache's policy.
type CacheOptions struct {
	LocalStorageEnabled      bool `mapstructure:"local_storage_enabled"`
	ConfigCacheTTLSeconds    int64 `mapstructure:"config_cache_ttl_seconds"`
	PersistCacheAcrossRestarts bool `mapstructure:"persist_cache_across_restarts"`
	UseStaleWhileRevalidate  bool `mapstructure:"use_stale_while_revalidate"`
	MaxCacheSizeMB           int  `mapstructure:"max_cache_size_mb"`
}

// QueueOptions configures the Persistent Background Queue's retry
// schedule, shared by the events and summaries pipelines.
type QueueOptions struct {
	MaxRetryAttempts      int     `mapstructure:"max_retry_attempts"`
	RetryInitialDelayMs   int     `mapstructure:"retry_initial_delay_ms"`
	RetryMaxDelayMs       int     `mapstructure:"retry_max_delay_ms"`
	RetryBackoffMultiplier float64 `mapstructure:"retry_backoff_multiplier"`
	RetryJitterFraction   float64 `mapstructure:"retry_jitter_fraction"`
	EventsQueueSize       int     `mapstructure:"events_queue_size"`
	SummariesQueueSize    int     `mapstructure:"summaries_queue_size"`
	EventsFlushTimeSeconds    int `mapstructure:"events_flush_time_seconds"`
	SummariesFlushTimeSeconds int `mapstructure:"summaries_flush_time_seconds"`
}

// SessionOptions configures the Session Manager's rotation triggers.
type SessionOptions struct {
	MaxSessionDurationMs  int64 `mapstructure:"max_session_duration_ms"`
	BackgroundThresholdMs int64 `mapstructure:"background_threshold_ms"`
	MinSessionDurationMs  int64 `mapstructure:"min_session_duration_ms"`
	RotateOnAppRestart    bool  `mapstructure:"rotate_on_app_restart"`
	RotateOnAuthChange    bool  `mapstructure:"rotate_on_auth_change"`
}

// Options is the whole SDK configuration surface from spec.md §6.
type Options struct {
	ClientKey               string `mapstructure:"client_key"`
	OfflineMode             bool   `mapstructure:"offline_mode"`
	SdkSettingsBaseURL      string `mapstructure:"sdk_settings_base_url"`
	SdkSettingsPath         string `mapstructure:"sdk_settings_path"`
	DimensionID             string `mapstructure:"dimension_id"`
	BaseAPIURL              string `mapstructure:"base_api_url"`
	UserConfigsPath         string `mapstructure:"user_configs_path"`
	EventsURL               string `mapstructure:"events_url"`
	SummariesURL            string `mapstructure:"summaries_url"`
	StorageDir              string `mapstructure:"storage_dir"`
	AutoEnvAttributesEnabled bool  `mapstructure:"auto_env_attributes_enabled"`
	LogLevel                string `mapstructure:"log_level"`
	LogFormat               string `mapstructure:"log_format"`
	LogOutput               string `mapstructure:"log_output"`

	Network NetworkOptions `mapstructure:"network"`
	Polling PollingOptions `mapstructure:"polling"`
	Cache   CacheOptions   `mapstructure:"cache"`
	Queue   QueueOptions   `mapstructure:"queue"`
	Session SessionOptions `mapstructure:"session"`
}

// Load reads configPath (if non-empty) over a default cascade plus
// environment variables (CF_SDK_* / nested "." replaced with "_"), matching
// the teacher's LoadConfig shape.
func Load(configPath string) (*Options, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("cf_sdk")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("options: failed to read config file: %w", err)
			}
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("options: failed to unmarshal: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("options: validation failed: %w", err)
	}
	return &opts, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("offline_mode", false)
	v.SetDefault("sdk_settings_path", "/v1/config/{dimension_id}")
	v.SetDefault("user_configs_path", "/v1/users/configs")
	v.SetDefault("storage_dir", "./cf-sdk-data")
	v.SetDefault("auto_env_attributes_enabled", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_output", "stdout")

	v.SetDefault("network.connection_timeout_ms", 10_000)
	v.SetDefault("network.read_timeout_ms", 10_000)

	v.SetDefault("polling.sdk_settings_check_interval_ms", 60_000)
	v.SetDefault("polling.background_polling_interval_ms", 300_000)
	v.SetDefault("polling.reduced_polling_interval_ms", 120_000)
	v.SetDefault("polling.disable_background_polling", false)
	v.SetDefault("polling.use_reduced_polling_when_battery_low", true)

	v.SetDefault("cache.local_storage_enabled", true)
	v.SetDefault("cache.config_cache_ttl_seconds", 86_400)
	v.SetDefault("cache.persist_cache_across_restarts", true)
	v.SetDefault("cache.use_stale_while_revalidate", true)
	v.SetDefault("cache.max_cache_size_mb", 10)

	v.SetDefault("queue.max_retry_attempts", 5)
	v.SetDefault("queue.retry_initial_delay_ms", 500)
	v.SetDefault("queue.retry_max_delay_ms", 30_000)
	v.SetDefault("queue.retry_backoff_multiplier", 2.0)
	v.SetDefault("queue.retry_jitter_fraction", 0.2)
	v.SetDefault("queue.events_queue_size", 50)
	v.SetDefault("queue.summaries_queue_size", 50)
	v.SetDefault("queue.events_flush_time_seconds", 60)
	v.SetDefault("queue.summaries_flush_time_seconds", 60)

	v.SetDefault("session.max_session_duration_ms", int64(time.Hour/time.Millisecond))
	v.SetDefault("session.background_threshold_ms", int64(15*time.Minute/time.Millisecond))
	v.SetDefault("session.min_session_duration_ms", int64(5*time.Minute/time.Millisecond))
	v.SetDefault("session.rotate_on_app_restart", true)
	v.SetDefault("session.rotate_on_auth_change", true)
}

// Validate applies the handful of explicit range/required-string checks
// this SDK's few numeric/required options need, matching the teacher's
// CacheConfig.Validate() style rather than pulling in a struct-tag
// validator for a surface this small (see DESIGN.md's dropped-deps entry
// for go-playground/validator).
func (o *Options) Validate() error {
	if o.ClientKey == "" {
		return fmt.Errorf("client_key is required")
	}
	if o.Network.ConnectionTimeoutMs <= 0 {
		return fmt.Errorf("network.connection_timeout_ms must be positive")
	}
	if o.Network.ReadTimeoutMs <= 0 {
		return fmt.Errorf("network.read_timeout_ms must be positive")
	}
	if o.Polling.SdkSettingsCheckIntervalMs <= 0 {
		return fmt.Errorf("polling.sdk_settings_check_interval_ms must be positive")
	}
	if o.Queue.RetryBackoffMultiplier < 1.0 {
		return fmt.Errorf("queue.retry_backoff_multiplier must be >= 1.0")
	}
	if o.Queue.RetryJitterFraction < 0 || o.Queue.RetryJitterFraction > 1 {
		return fmt.Errorf("queue.retry_jitter_fraction must be in [0,1]")
	}
	return nil
}
