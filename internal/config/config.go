package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// ReadLimit bounds a single inbound frame; IdleTimeout is the
	// liveness deadline, PingPeriod how often we probe before it.
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// SendBuffer is the bounded per-connection outbound queue.
	SendBuffer int `mapstructure:"send_buffer"`

	// GracePeriod keeps an emptied session's state around to survive
	// rapid reconnects; 0 evicts immediately.
	GracePeriod time.Duration `mapstructure:"grace_period"`

	// RateLimit caps inbound frames per connection per RateWindow.
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`

	Secret string `mapstructure:"secret"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("host", "")
	v.SetDefault("port", 1234)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("grace_period", "30s")
	v.SetDefault("rate_limit", 200)
	v.SetDefault("rate_window", "1s")
	v.SetDefault("secret", "syncrelay-dev")

	// HOST and PORT keep the env contract of the original deployment.
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.PingPeriod >= cfg.IdleTimeout {
		// Probe must fire before the deadline it is meant to refresh.
		cfg.PingPeriod = cfg.IdleTimeout * 9 / 10
	}
	return &cfg, nil
}
