package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	RoomTTL       time.Duration `mapstructure:"room_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// QueueBackend selects the matchmaking store: "memory" or "redis".
	QueueBackend string        `mapstructure:"queue_backend"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisTimeout time.Duration `mapstructure:"redis_timeout"`

	// Pairing selects the compatibility rule: "any" or "distinct".
	Pairing string `mapstructure:"pairing"`
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
	v.SetDefault("secret", "change-me-in-production")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("room_ttl", "1h")
	v.SetDefault("sweep_interval", "1m")
	v.SetDefault("queue_backend", "memory")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_timeout", "2s")
	v.SetDefault("pairing", "any")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Queue: %s\n", cfg.Mode, cfg.Port, cfg.QueueBackend)
	return &cfg, nil
}
