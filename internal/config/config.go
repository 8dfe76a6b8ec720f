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
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Workers int `mapstructure:"workers"`

	RingTimeout       time.Duration `mapstructure:"ring_timeout"`
	CallSweepInterval time.Duration `mapstructure:"call_sweep_interval"`
	CallStaleAfter    time.Duration `mapstructure:"call_stale_after"`

	ShareRequestTTL  time.Duration `mapstructure:"share_request_ttl"`
	ShareApprovalTTL time.Duration `mapstructure:"share_approval_ttl"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
}

// ICEServer is one STUN/TURN entry handed to clients verbatim.
type ICEServer struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
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
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("workers", 0)
	v.SetDefault("ring_timeout", "30s")
	v.SetDefault("call_sweep_interval", "60s")
	v.SetDefault("call_stale_after", "120s")
	v.SetDefault("share_request_ttl", "30s")
	v.SetDefault("share_approval_ttl", "30s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &cfg, nil
}
