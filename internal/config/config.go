// Package config loads probe configuration from the environment,
// optionally overlaid with a YAML config file, using viper, following
// the load pattern in
// _examples/jroosing-HydraDNS/internal/config/config.go: defaults set
// first, then env vars and an optional config file bind over them,
// then the result is normalized and validated.
package config

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every environment-driven knob named in the external
// interfaces section: worker count, sampling, alert thresholds and
// sinks, AWS scoping, and logging.
type Config struct {
	Workers    int
	SampleRate float64

	SNSTopicARN     string
	SlackWebhookURL string

	AlertThresholdBPS float64
	AlertThresholdPPS float64
	AlertCooldownSec  float64
	AlertHostBPS      float64
	AlertHostPPS      float64

	AWSRegion string
	VPCID     string

	LogLevel  string
	LogFormat string
	LogFile   string

	MetricsAddr string
}

// Load reads configuration from the environment, optionally overlaid
// with a YAML config file providing non-secret defaults, applying the
// clamps named in spec.md §6. Unparsable or out-of-range values are
// warned about and replaced with their default rather than rejected.
// Environment variables always take precedence over the file, matching
// _examples/jroosing-HydraDNS/internal/config/config.go's initConfig
// priority order.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Workers:    v.GetInt("probe_workers"),
		SampleRate: v.GetFloat64("probe_sample_rate"),

		SNSTopicARN:     v.GetString("sns_topic_arn"),
		SlackWebhookURL: v.GetString("slack_webhook_url"),

		AlertThresholdBPS: v.GetFloat64("alert_threshold_bps"),
		AlertThresholdPPS: v.GetFloat64("alert_threshold_pps"),
		AlertCooldownSec:  v.GetFloat64("alert_cooldown_sec"),
		AlertHostBPS:      v.GetFloat64("alert_host_bps"),
		AlertHostPPS:      v.GetFloat64("alert_host_pps"),

		AWSRegion: v.GetString("aws_region"),
		VPCID:     v.GetString("vpc_id"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		LogFile:   v.GetString("log_file"),

		MetricsAddr: v.GetString("metrics_addr"),
	}

	// GetFloat64 reads an unparsable value as zero, which normalize
	// would clamp to the sampling floor; use the default instead.
	if raw := v.GetString("probe_sample_rate"); raw != "" {
		if _, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err != nil {
			slog.Warn("unparsable PROBE_SAMPLE_RATE, using default", "value", raw)
			cfg.SampleRate = 1.0
		}
	}

	normalize(cfg)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("probe_workers", 0)
	v.SetDefault("probe_sample_rate", 1.0)
	v.SetDefault("sns_topic_arn", "")
	v.SetDefault("slack_webhook_url", "")
	v.SetDefault("alert_threshold_bps", 1e9)
	v.SetDefault("alert_threshold_pps", 1e6)
	v.SetDefault("alert_cooldown_sec", 300.0)
	v.SetDefault("alert_host_bps", 0.0)
	v.SetDefault("alert_host_pps", 0.0)
	v.SetDefault("aws_region", "")
	v.SetDefault("vpc_id", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
	v.SetDefault("metrics_addr", ":9469")
}

// normalize applies the clamps and fallbacks spec.md §6 requires: a
// non-positive worker count means "auto-detect" (logical CPU count),
// and the sample rate is clamped into [0.0001, 1.0].
func normalize(cfg *Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	if cfg.SampleRate < 0.0001 || cfg.SampleRate > 1.0 {
		slog.Warn("invalid PROBE_SAMPLE_RATE, clamping", "value", cfg.SampleRate)
		cfg.SampleRate = clamp(cfg.SampleRate, 0.0001, 1.0)
	}

	if cfg.AlertThresholdBPS <= 0 {
		slog.Warn("invalid ALERT_THRESHOLD_BPS, using default")
		cfg.AlertThresholdBPS = 1e9
	}
	if cfg.AlertThresholdPPS <= 0 {
		slog.Warn("invalid ALERT_THRESHOLD_PPS, using default")
		cfg.AlertThresholdPPS = 1e6
	}
	if cfg.AlertCooldownSec <= 0 {
		slog.Warn("invalid ALERT_COOLDOWN_SEC, using default")
		cfg.AlertCooldownSec = 300.0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo || v == 0 {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
