package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	CanvasThrottle  time.Duration `mapstructure:"canvas_throttle"`
	CodeDebounce    time.Duration `mapstructure:"code_debounce"`
	CursorDebounce  time.Duration `mapstructure:"cursor_debounce"`
	DefaultLanguage string        `mapstructure:"default_language"`

	MessageRateLimit    int           `mapstructure:"message_rate_limit"`
	MessageRateInterval time.Duration `mapstructure:"message_rate_interval"`
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
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "peerboard-dev-secret")
	v.SetDefault("read_limit", 262144)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("canvas_throttle", "200ms")
	v.SetDefault("code_debounce", "300ms")
	v.SetDefault("cursor_debounce", "100ms")
	v.SetDefault("default_language", "javascript")
	v.SetDefault("message_rate_limit", 120)
	v.SetDefault("message_rate_interval", "1s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
