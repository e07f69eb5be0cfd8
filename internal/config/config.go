package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type RestCfg struct {
	BaseURL                string `mapstructure:"base_url"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	RetryMaxElapsedSeconds int    `mapstructure:"retry_max_elapsed_seconds"`
}

// RealtimeCfg addresses the realtime service independently of the REST base
// URL; the two are separate services that happen to share a host in most
// deployments.
type RealtimeCfg struct {
	ChatURL               string `mapstructure:"chat_url"`
	NotifyURL             string `mapstructure:"notify_url"`
	DialTimeoutSeconds    int    `mapstructure:"dial_timeout_seconds"`
	ReconnectAttempts     int    `mapstructure:"reconnect_attempts"`
	ReconnectDelaySeconds int    `mapstructure:"reconnect_delay_seconds"`
}

type ChatCfg struct {
	SendTimeoutSeconds    int `mapstructure:"send_timeout_seconds"`
	TypingExpirySeconds   int `mapstructure:"typing_expiry_seconds"`
	TypingThrottleSeconds int `mapstructure:"typing_throttle_seconds"`
	TypingIdleSeconds     int `mapstructure:"typing_idle_seconds"`
	PageSize              int `mapstructure:"page_size"`
}

type NotifyCfg struct {
	StorePath string `mapstructure:"store_path"`
}

type Config struct {
	Rest     RestCfg     `mapstructure:"rest"`
	Realtime RealtimeCfg `mapstructure:"realtime"`
	Chat     ChatCfg     `mapstructure:"chat"`
	Notify   NotifyCfg   `mapstructure:"notify"`
	Debug    bool        `mapstructure:"debug"`

	// Derived
	RestTimeout     time.Duration
	RestRetryMax    time.Duration
	DialTimeout     time.Duration
	ReconnectDelay  time.Duration
	SendTimeout     time.Duration
	TypingExpiry    time.Duration
	TypingThrottle  time.Duration
	TypingIdle      time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("rest.base_url", "http://localhost:9090")
	v.SetDefault("rest.timeout_seconds", 15)
	v.SetDefault("rest.retry_max_elapsed_seconds", 20)
	v.SetDefault("realtime.chat_url", "http://localhost:9092/rt/chat")
	v.SetDefault("realtime.notify_url", "http://localhost:9092/rt/notifications")
	v.SetDefault("realtime.dial_timeout_seconds", 10)
	v.SetDefault("realtime.reconnect_attempts", 5)
	v.SetDefault("realtime.reconnect_delay_seconds", 3)
	v.SetDefault("chat.send_timeout_seconds", 10)
	v.SetDefault("chat.typing_expiry_seconds", 6)
	v.SetDefault("chat.typing_throttle_seconds", 2)
	v.SetDefault("chat.typing_idle_seconds", 3)
	v.SetDefault("chat.page_size", 30)
	v.SetDefault("notify.store_path", ".mallchat/notification.json")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.RestTimeout = time.Duration(cfg.Rest.TimeoutSeconds) * time.Second
	cfg.RestRetryMax = time.Duration(cfg.Rest.RetryMaxElapsedSeconds) * time.Second
	cfg.DialTimeout = time.Duration(cfg.Realtime.DialTimeoutSeconds) * time.Second
	cfg.ReconnectDelay = time.Duration(cfg.Realtime.ReconnectDelaySeconds) * time.Second
	cfg.SendTimeout = time.Duration(cfg.Chat.SendTimeoutSeconds) * time.Second
	cfg.TypingExpiry = time.Duration(cfg.Chat.TypingExpirySeconds) * time.Second
	cfg.TypingThrottle = time.Duration(cfg.Chat.TypingThrottleSeconds) * time.Second
	cfg.TypingIdle = time.Duration(cfg.Chat.TypingIdleSeconds) * time.Second
	return &cfg, nil
}
