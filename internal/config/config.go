// Package config provides configuration management for abrplay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/jmylchreest/abrplay/internal/version"
	"github.com/jmylchreest/abrplay/pkg/duration"
)

// Default configuration values.
const (
	defaultServerPort        = 8088
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 5
	defaultMaxIdleConns      = 2
	defaultHistoryRetention  = 30 * 24 * time.Hour
	defaultBreakerThreshold  = 5
	defaultBreakerTimeout    = 30 * time.Second
	defaultBreakerHalfOpen   = 1
	defaultMaxResponseSize   = 256 * 1024 * 1024
	defaultRetryAttempts     = 2
	defaultRetryBaseDelay    = time.Second
	defaultRetryBackoff      = 2.0
	defaultRetryFuzz         = 0.5
	defaultSegmentTimeout    = 30 * time.Second
	defaultManifestTimeout   = 30 * time.Second
	defaultStallTimeout      = 5 * time.Second
	defaultConnectTimeout    = 10 * time.Second
	defaultBufferingGoal     = 10 * time.Second
	defaultRebufferingGoal   = 2 * time.Second
	defaultBufferBehind      = 30 * time.Second
	defaultGapThreshold      = 500 * time.Millisecond
	defaultSafeSeekOffset    = 5 * time.Second
	defaultIdleInterval      = time.Second
	defaultMinSeekRange      = 10 * time.Second
	defaultUpgradeTarget     = 1.15
	defaultDowngradeTarget   = 0.9
	defaultSwitchInterval    = 8 * time.Second
	defaultStartupInterval   = 2 * time.Second
	defaultBandwidthEstimate = 1_000_000
	defaultFastHalfLife      = 2 * time.Second
	defaultSlowHalfLife      = 5 * time.Second
	defaultMinTotalBytes     = 128_000
	defaultMinSampleBytes    = 16_000
	defaultMinSampleDuration = 5 * time.Millisecond
)

// Config holds all configuration for the player.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Network   NetworkConfig   `mapstructure:"network"`
	Manifest  ManifestConfig  `mapstructure:"manifest"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	ABR       ABRConfig       `mapstructure:"abr"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// Redact lists URL query parameters and attribute names masked in logs.
	Redact []string `mapstructure:"redact"`
}

// NetworkConfig holds settings shared by every request.
type NetworkConfig struct {
	UserAgent       string               `mapstructure:"user_agent"`
	HTTP2           bool                 `mapstructure:"http2"`
	MaxResponseSize ByteSize             `mapstructure:"max_response_size"`
	CircuitBreaker  CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// CircuitBreakerConfig configures the per-host breakers.
type CircuitBreakerConfig struct {
	Threshold   int           `mapstructure:"threshold"`
	Timeout     time.Duration `mapstructure:"timeout"`
	HalfOpenMax int           `mapstructure:"half_open_max"`
}

// RetryConfig controls how one logical request is retried.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	FuzzFactor        float64       `mapstructure:"fuzz_factor"`
	Timeout           time.Duration `mapstructure:"timeout"`
	StallTimeout      time.Duration `mapstructure:"stall_timeout"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

// ManifestConfig holds manifest loading configuration.
type ManifestConfig struct {
	Retry RetryConfig `mapstructure:"retry"`
	// DefaultPresentationDelay applies when the manifest does not suggest one
	// (0 = three target durations for HLS).
	DefaultPresentationDelay time.Duration `mapstructure:"default_presentation_delay"`
	// MinSeekRange is the smallest live seek range kept after the delay.
	MinSeekRange time.Duration `mapstructure:"min_seek_range"`
	// UpdatePeriod overrides the manifest refresh cadence (0 = manifest value).
	UpdatePeriod time.Duration `mapstructure:"update_period"`
	// AvailabilityWindowOverride replaces the manifest's window (0 = manifest value).
	AvailabilityWindowOverride time.Duration `mapstructure:"availability_window_override"`
}

// StreamingConfig holds streaming engine configuration.
type StreamingConfig struct {
	Retry                    RetryConfig   `mapstructure:"retry"`
	BufferingGoal            time.Duration `mapstructure:"buffering_goal"`
	RebufferingGoal          time.Duration `mapstructure:"rebuffering_goal"`
	BufferBehind             time.Duration `mapstructure:"buffer_behind"`
	GapDetectionThreshold    time.Duration `mapstructure:"gap_detection_threshold"`
	SafeSeekOffset           time.Duration `mapstructure:"safe_seek_offset"`
	MaxLiveLag               time.Duration `mapstructure:"max_live_lag"` // 0 = unlimited
	IdleInterval             time.Duration `mapstructure:"idle_interval"`
	IgnoreTextStreamFailures bool          `mapstructure:"ignore_text_stream_failures"`
	SkipCorruptSegments      bool          `mapstructure:"skip_corrupt_segments"`
	AlwaysStreamText         bool          `mapstructure:"always_stream_text"`
	// BufferQuota caps buffered bytes across all content types (0 = derived from free memory).
	BufferQuota ByteSize `mapstructure:"buffer_quota"`
}

// ABRConfig holds adaptation configuration.
type ABRConfig struct {
	Enabled                  bool               `mapstructure:"enabled"`
	BandwidthUpgradeTarget   float64            `mapstructure:"bandwidth_upgrade_target"`
	BandwidthDowngradeTarget float64            `mapstructure:"bandwidth_downgrade_target"`
	SwitchInterval           time.Duration      `mapstructure:"switch_interval"`
	StartupInterval          time.Duration      `mapstructure:"startup_interval"`
	DefaultBandwidthEstimate Bitrate            `mapstructure:"default_bandwidth_estimate"`
	ClearBufferSwitch        bool               `mapstructure:"clear_buffer_switch"`
	SafeMarginSwitch         time.Duration      `mapstructure:"safe_margin_switch"`
	UpgradeBufferThreshold   time.Duration      `mapstructure:"upgrade_buffer_threshold"`
	PreferredAudioLanguage   string             `mapstructure:"preferred_audio_language"`
	Restrictions             RestrictionsConfig `mapstructure:"restrictions"`
	Estimator                EstimatorConfig    `mapstructure:"estimator"`
}

// RestrictionsConfig limits the variants ABR may choose. Zero maximums are unbounded.
type RestrictionsConfig struct {
	MinWidth     int     `mapstructure:"min_width"`
	MaxWidth     int     `mapstructure:"max_width"`
	MinHeight    int     `mapstructure:"min_height"`
	MaxHeight    int     `mapstructure:"max_height"`
	MinPixels    int     `mapstructure:"min_pixels"`
	MaxPixels    int     `mapstructure:"max_pixels"`
	MinFrameRate float64 `mapstructure:"min_frame_rate"`
	MaxFrameRate float64 `mapstructure:"max_frame_rate"`
	MinBandwidth Bitrate `mapstructure:"min_bandwidth"`
	MaxBandwidth Bitrate `mapstructure:"max_bandwidth"`
}

// EstimatorConfig tunes the bandwidth estimator.
type EstimatorConfig struct {
	FastHalfLife  time.Duration `mapstructure:"fast_half_life"`
	SlowHalfLife  time.Duration `mapstructure:"slow_half_life"`
	MinTotalBytes ByteSize      `mapstructure:"min_total_bytes"`
	MinBytes      ByteSize      `mapstructure:"min_bytes"`
	MinDuration   time.Duration `mapstructure:"min_duration"`
}

// DatabaseConfig holds the bandwidth history store configuration.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	// HistoryRetention is how long bandwidth samples are kept.
	HistoryRetention time.Duration `mapstructure:"history_retention"`
	// PruneSchedule is a cron expression (or @daily style descriptor) for pruning.
	PruneSchedule string `mapstructure:"prune_schedule"`
}

// ServerConfig holds the control API configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// decodeHook parses human-readable sizes, rates and durations.
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		stringToDurationHook,
		mapstructure.StringToSliceHookFunc(","),
	))
}

// stringToDurationHook accepts Go durations as well as day and week units
// such as "1d12h".
func stringToDurationHook(f, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String || t != reflect.TypeFor[time.Duration]() {
		return data, nil
	}
	return duration.Parse(data.(string))
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with ABRPLAY_ and use underscores for nesting.
// Example: ABRPLAY_STREAMING_BUFFERING_GOAL=30s.
// Unknown keys in the configuration file are rejected.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("abrplay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.abrplay")
	}

	v.SetEnvPrefix("ABRPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.UnmarshalExact(&cfg, decodeHook()); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

func setRetryDefaults(v *viper.Viper, prefix string, timeout time.Duration) {
	v.SetDefault(prefix+".max_attempts", defaultRetryAttempts)
	v.SetDefault(prefix+".base_delay", defaultRetryBaseDelay)
	v.SetDefault(prefix+".backoff_factor", defaultRetryBackoff)
	v.SetDefault(prefix+".fuzz_factor", defaultRetryFuzz)
	v.SetDefault(prefix+".timeout", timeout)
	v.SetDefault(prefix+".stall_timeout", defaultStallTimeout)
	v.SetDefault(prefix+".connection_timeout", defaultConnectTimeout)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact", []string{"token", "signature", "sig", "key", "auth", "password"})

	// Network defaults
	v.SetDefault("network.user_agent", version.UserAgent())
	v.SetDefault("network.http2", true)
	v.SetDefault("network.max_response_size", defaultMaxResponseSize)
	v.SetDefault("network.circuit_breaker.threshold", defaultBreakerThreshold)
	v.SetDefault("network.circuit_breaker.timeout", defaultBreakerTimeout)
	v.SetDefault("network.circuit_breaker.half_open_max", defaultBreakerHalfOpen)

	// Manifest defaults
	setRetryDefaults(v, "manifest.retry", defaultManifestTimeout)
	v.SetDefault("manifest.default_presentation_delay", time.Duration(0))
	v.SetDefault("manifest.min_seek_range", defaultMinSeekRange)
	v.SetDefault("manifest.update_period", time.Duration(0))
	v.SetDefault("manifest.availability_window_override", time.Duration(0))

	// Streaming defaults
	setRetryDefaults(v, "streaming.retry", defaultSegmentTimeout)
	v.SetDefault("streaming.buffering_goal", defaultBufferingGoal)
	v.SetDefault("streaming.rebuffering_goal", defaultRebufferingGoal)
	v.SetDefault("streaming.buffer_behind", defaultBufferBehind)
	v.SetDefault("streaming.gap_detection_threshold", defaultGapThreshold)
	v.SetDefault("streaming.safe_seek_offset", defaultSafeSeekOffset)
	v.SetDefault("streaming.max_live_lag", time.Duration(0))
	v.SetDefault("streaming.idle_interval", defaultIdleInterval)
	v.SetDefault("streaming.ignore_text_stream_failures", false)
	v.SetDefault("streaming.skip_corrupt_segments", false)
	v.SetDefault("streaming.always_stream_text", false)
	v.SetDefault("streaming.buffer_quota", 0)

	// ABR defaults
	v.SetDefault("abr.enabled", true)
	v.SetDefault("abr.bandwidth_upgrade_target", defaultUpgradeTarget)
	v.SetDefault("abr.bandwidth_downgrade_target", defaultDowngradeTarget)
	v.SetDefault("abr.switch_interval", defaultSwitchInterval)
	v.SetDefault("abr.startup_interval", defaultStartupInterval)
	v.SetDefault("abr.default_bandwidth_estimate", defaultBandwidthEstimate)
	v.SetDefault("abr.clear_buffer_switch", false)
	v.SetDefault("abr.safe_margin_switch", time.Duration(0))
	v.SetDefault("abr.upgrade_buffer_threshold", defaultRebufferingGoal)
	v.SetDefault("abr.preferred_audio_language", "")
	for _, key := range []string{"min_width", "max_width", "min_height", "max_height", "min_pixels", "max_pixels"} {
		v.SetDefault("abr.restrictions."+key, 0)
	}
	v.SetDefault("abr.restrictions.min_frame_rate", 0.0)
	v.SetDefault("abr.restrictions.max_frame_rate", 0.0)
	v.SetDefault("abr.restrictions.min_bandwidth", 0)
	v.SetDefault("abr.restrictions.max_bandwidth", 0)
	v.SetDefault("abr.estimator.fast_half_life", defaultFastHalfLife)
	v.SetDefault("abr.estimator.slow_half_life", defaultSlowHalfLife)
	v.SetDefault("abr.estimator.min_total_bytes", defaultMinTotalBytes)
	v.SetDefault("abr.estimator.min_bytes", defaultMinSampleBytes)
	v.SetDefault("abr.estimator.min_duration", defaultMinSampleDuration)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "abrplay.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.history_retention", defaultHistoryRetention)
	v.SetDefault("database.prune_schedule", "@daily")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
}

func (r RetryConfig) validate(prefix string) error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%s.max_attempts must be at least 1", prefix)
	}
	if r.BackoffFactor < 1 {
		return fmt.Errorf("%s.backoff_factor must be at least 1", prefix)
	}
	if r.FuzzFactor < 0 || r.FuzzFactor > 1 {
		return fmt.Errorf("%s.fuzz_factor must be between 0 and 1", prefix)
	}
	if r.BaseDelay < 0 || r.Timeout < 0 || r.StallTimeout < 0 || r.ConnectionTimeout < 0 {
		return fmt.Errorf("%s durations must not be negative", prefix)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Network validation
	if err := c.Manifest.Retry.validate("manifest.retry"); err != nil {
		return err
	}
	if err := c.Streaming.Retry.validate("streaming.retry"); err != nil {
		return err
	}
	if c.Network.CircuitBreaker.Threshold < 1 {
		return fmt.Errorf("network.circuit_breaker.threshold must be at least 1")
	}

	// Streaming validation
	s := c.Streaming
	if s.BufferingGoal <= 0 {
		return fmt.Errorf("streaming.buffering_goal must be positive")
	}
	if s.RebufferingGoal < 0 || s.RebufferingGoal > s.BufferingGoal {
		return fmt.Errorf("streaming.rebuffering_goal must be between 0 and streaming.buffering_goal")
	}
	if s.BufferBehind < 0 || s.GapDetectionThreshold < 0 || s.SafeSeekOffset < 0 || s.MaxLiveLag < 0 {
		return fmt.Errorf("streaming durations must not be negative")
	}
	if s.IdleInterval <= 0 {
		return fmt.Errorf("streaming.idle_interval must be positive")
	}
	if s.BufferQuota < 0 {
		return fmt.Errorf("streaming.buffer_quota must not be negative")
	}

	// ABR validation
	a := c.ABR
	if a.BandwidthDowngradeTarget <= 0 || a.BandwidthDowngradeTarget > 1 {
		return fmt.Errorf("abr.bandwidth_downgrade_target must be in (0, 1]")
	}
	if a.BandwidthUpgradeTarget < 1 {
		return fmt.Errorf("abr.bandwidth_upgrade_target must be at least 1")
	}
	if a.SwitchInterval <= 0 {
		return fmt.Errorf("abr.switch_interval must be positive")
	}
	if a.DefaultBandwidthEstimate <= 0 {
		return fmt.Errorf("abr.default_bandwidth_estimate must be positive")
	}
	r := a.Restrictions
	if (r.MaxWidth > 0 && r.MinWidth > r.MaxWidth) ||
		(r.MaxHeight > 0 && r.MinHeight > r.MaxHeight) ||
		(r.MaxBandwidth > 0 && r.MinBandwidth > r.MaxBandwidth) {
		return fmt.Errorf("abr.restrictions minimums must not exceed maximums")
	}
	if a.Estimator.FastHalfLife <= 0 || a.Estimator.SlowHalfLife <= 0 {
		return fmt.Errorf("abr.estimator half lives must be positive")
	}

	// Database validation
	if c.Database.Enabled {
		validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
		if !validDrivers[c.Database.Driver] {
			return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required")
		}
		if c.Database.HistoryRetention <= 0 {
			return fmt.Errorf("database.history_retention must be positive")
		}
		if _, err := cron.ParseStandard(c.Database.PruneSchedule); err != nil {
			return fmt.Errorf("database.prune_schedule: %w", err)
		}
	}

	// Server validation
	const maxPort = 65535
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > maxPort) {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
