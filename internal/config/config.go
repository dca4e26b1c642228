package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is shared by the relay server and the headless client. Each reads
// the keys it needs.
type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	// Relay.
	Port         int           `mapstructure:"port"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	Backpressure string        `mapstructure:"backpressure"`

	// Client.
	RelayURL    string        `mapstructure:"relay_url"`
	ICEServers  []string      `mapstructure:"ice_servers"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
	MaxReoffers int           `mapstructure:"max_reoffers"`
	Audio       bool          `mapstructure:"audio"`
	Video       bool          `mapstructure:"video"`
}

// New returns a viper instance with every key defaulted and VOICE_*
// environment overrides enabled. Callers may bind flags on it before
// calling FromViper.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_interval", "1s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("backpressure", "kick")
	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("join_timeout", "10s")
	v.SetDefault("max_reoffers", 1)
	v.SetDefault("audio", true)
	v.SetDefault("video", false)
	return v
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev when unset). A missing
// file is not an error: defaults and environment still apply.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v := New()
	v.SetConfigFile(fileName)
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
	return FromViper(v)
}

// LoadFile reads the given YAML file. Unlike Load, the file must exist.
func LoadFile(path string) (*Config, error) {
	v := New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromViper(v)
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("mode %q: want debug, release or test", c.Mode))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit must be positive"))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	if c.RateLimit <= 0 || c.RateInterval <= 0 {
		errs = append(errs, errors.New("rate_limit and rate_interval must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	switch c.Backpressure {
	case "kick", "drop":
	default:
		errs = append(errs, fmt.Errorf("backpressure %q: want kick or drop", c.Backpressure))
	}
	if c.MaxReoffers < 0 {
		errs = append(errs, errors.New("max_reoffers must not be negative"))
	}
	if c.JoinTimeout < 0 {
		errs = append(errs, errors.New("join_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Level is the parsed log_level, info when it does not parse.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// PongWait is how long a relay connection may stay silent.
func (c *Config) PongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}
