package qobserve

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// AdmissionPolicy decides what happens when work arrives at a busy device.
type AdmissionPolicy string

const (
	// AdmitQueue queues units FIFO per device.
	AdmitQueue AdmissionPolicy = "queue"
	// AdmitReject fails with DeviceBusyError while the device has work.
	AdmitReject AdmissionPolicy = "reject"
)

// ExecutionMode selects how term groups are submitted by EvaluateDistributed.
type ExecutionMode string

const (
	Sequential ExecutionMode = "sequential"
	Parallel   ExecutionMode = "parallel"
)

type Config struct {
	PoolSize          int             `mapstructure:"pool_size"`
	Admission         AdmissionPolicy `mapstructure:"admission"`
	QueueDepth        int             `mapstructure:"queue_depth"`
	SchedulingTimeout time.Duration   `mapstructure:"scheduling_timeout"`
	EvaluationTimeout time.Duration   `mapstructure:"evaluation_timeout"`
	ResolveTimeout    time.Duration   `mapstructure:"resolve_timeout"`
	ExecutionMode     ExecutionMode   `mapstructure:"execution_mode"`
	Breaker           BreakerConfig   `mapstructure:"breaker"`
	RateLimit         RateLimitConfig `mapstructure:"rate_limit"`
	Log               LogConfig       `mapstructure:"log"`
}

// BreakerConfig configures the per-device circuit breaker. A zero
// Threshold disables breakers.
type BreakerConfig struct {
	Threshold    int           `mapstructure:"threshold"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMax  int           `mapstructure:"half_open_max"`
}

// RateLimitConfig throttles submissions per device with a token bucket.
// Zero Tokens disables throttling.
type RateLimitConfig struct {
	Tokens int           `mapstructure:"tokens"`
	Refill time.Duration `mapstructure:"refill"`
}

func NewConfig() *Config {
	return &Config{
		PoolSize:          4,
		Admission:         AdmitQueue,
		QueueDepth:        1024,
		SchedulingTimeout: 10 * time.Second,
		EvaluationTimeout: 30 * time.Second,
		ResolveTimeout:    0,
		ExecutionMode:     Parallel,
		Breaker: BreakerConfig{
			Threshold:    0,
			ResetTimeout: time.Minute,
			HalfOpenMax:  1,
		},
		RateLimit: RateLimitConfig{
			Tokens: 0,
			Refill: 100 * time.Millisecond,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/qobserve.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
	}
}

/*
LoadConfig reads configuration from path (if non-empty), otherwise from
qobserve.yaml in the working directory, ./configs or ~/.qobserve. Missing
files are fine; defaults and QOBSERVE_* environment variables still apply.
Example: QOBSERVE_POOL_SIZE=8 QOBSERVE_BREAKER_THRESHOLD=3
*/
func LoadConfig(path string) (*Config, error) {
	return loadConfig(viper.New(), path)
}

// LoadConfigWith is LoadConfig on a caller-supplied viper instance, so flags
// bound by a CLI take part in the merge.
func LoadConfigWith(v *viper.Viper, path string) (*Config, error) {
	return loadConfig(v, path)
}

func loadConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := NewConfig()

	v.SetConfigType("yaml")
	v.SetEnvPrefix("QOBSERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("pool_size", cfg.PoolSize)
	v.SetDefault("admission", string(cfg.Admission))
	v.SetDefault("queue_depth", cfg.QueueDepth)
	v.SetDefault("scheduling_timeout", cfg.SchedulingTimeout)
	v.SetDefault("evaluation_timeout", cfg.EvaluationTimeout)
	v.SetDefault("resolve_timeout", cfg.ResolveTimeout)
	v.SetDefault("execution_mode", string(cfg.ExecutionMode))
	v.SetDefault("breaker.threshold", cfg.Breaker.Threshold)
	v.SetDefault("breaker.reset_timeout", cfg.Breaker.ResetTimeout)
	v.SetDefault("breaker.half_open_max", cfg.Breaker.HalfOpenMax)
	v.SetDefault("rate_limit.tokens", cfg.RateLimit.Tokens)
	v.SetDefault("rate_limit.refill", cfg.RateLimit.Refill)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv("QOBSERVE_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("qobserve")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".qobserve"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes the configuration and rejects values the pool cannot run with.
func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return errors.Errorf("invalid pool_size %d: need at least one device", c.PoolSize)
	}

	c.Admission = AdmissionPolicy(strings.ToLower(strings.TrimSpace(string(c.Admission))))
	switch c.Admission {
	case "":
		c.Admission = AdmitQueue
	case AdmitQueue, AdmitReject:
	default:
		return errors.Errorf("invalid admission policy %q", c.Admission)
	}

	c.ExecutionMode = ExecutionMode(strings.ToLower(strings.TrimSpace(string(c.ExecutionMode))))
	switch c.ExecutionMode {
	case "":
		c.ExecutionMode = Parallel
	case Sequential, Parallel:
	default:
		return errors.Errorf("invalid execution_mode %q", c.ExecutionMode)
	}

	if c.QueueDepth < 1 {
		c.QueueDepth = 1
	}
	if c.Breaker.HalfOpenMax < 1 {
		c.Breaker.HalfOpenMax = 1
	}
	if c.RateLimit.Tokens < 0 {
		return errors.Errorf("invalid rate_limit.tokens %d", c.RateLimit.Tokens)
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return errors.Errorf("invalid log.level %q", c.Log.Level)
	}
	return nil
}

func (c *Config) schedulingTimeout() time.Duration {
	if c != nil && c.SchedulingTimeout > 0 {
		return c.SchedulingTimeout
	}
	return 5 * time.Second
}
