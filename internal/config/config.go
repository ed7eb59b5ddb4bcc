package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type AuthConfig struct {
	MagicLinkTTL         time.Duration `mapstructure:"magic_link_ttl"`
	SessionTTL           time.Duration `mapstructure:"session_ttl"`
	GuestSessionTTL      time.Duration `mapstructure:"guest_session_ttl"`
	OTPTTL               time.Duration `mapstructure:"otp_ttl"`
	MagicLinkURLTemplate string        `mapstructure:"magic_link_url_template"`
	OrgInviteURLTemplate string        `mapstructure:"org_invite_url_template"`
	SecureCookies        bool          `mapstructure:"secure_cookies"`
}

type EmailConfig struct {
	From     string `mapstructure:"from"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type RateLimitPolicy struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

type RateLimitConfig struct {
	MagicLink RateLimitPolicy `mapstructure:"magic_link"`
	OTP       RateLimitPolicy `mapstructure:"otp"`
}

type RetentionConfig struct {
	AccessLogDays int           `mapstructure:"access_log_days"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type Config struct {
	DatabaseURL string          `mapstructure:"database_url"`
	ServerPort  string          `mapstructure:"server_port"`
	RedisAddr   string          `mapstructure:"redis_addr"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Email       EmailConfig     `mapstructure:"email"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Retention   RetentionConfig `mapstructure:"retention"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.DatabaseURL == "" {
		log.Fatal("database_url must be set in the config file")
	}

	if config.Auth.MagicLinkTTL == 0 {
		config.Auth.MagicLinkTTL = 15 * time.Minute
	}
	if config.Auth.SessionTTL == 0 {
		config.Auth.SessionTTL = 7 * 24 * time.Hour
	}
	if config.Auth.GuestSessionTTL == 0 {
		config.Auth.GuestSessionTTL = 24 * time.Hour
	}
	if config.Auth.OTPTTL == 0 {
		config.Auth.OTPTTL = 10 * time.Minute
	}
	if config.Auth.MagicLinkURLTemplate == "" {
		config.Auth.MagicLinkURLTemplate = "https://app.gatherly.events/auth/verify?token=%s"
	}
	if config.Auth.OrgInviteURLTemplate == "" {
		config.Auth.OrgInviteURLTemplate = "https://app.gatherly.events/invites/accept?token=%s"
	}

	if config.Email.SMTPPort == 0 {
		config.Email.SMTPPort = 587
	}

	if config.RateLimit.MagicLink.Window == 0 {
		config.RateLimit.MagicLink.Window = 10 * time.Minute
	}
	if config.RateLimit.MagicLink.MaxRequests == 0 {
		config.RateLimit.MagicLink.MaxRequests = 5
	}
	if config.RateLimit.OTP.Window == 0 {
		config.RateLimit.OTP.Window = 10 * time.Minute
	}
	if config.RateLimit.OTP.MaxRequests == 0 {
		config.RateLimit.OTP.MaxRequests = 10
	}

	if config.Retention.AccessLogDays == 0 {
		config.Retention.AccessLogDays = 365
	}
	if config.Retention.SweepInterval == 0 {
		config.Retention.SweepInterval = time.Hour
	}

	return &config
}
