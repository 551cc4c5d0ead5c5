// Package config loads application configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAppName  = "Telehealth"
	defaultAppEnv   = "development"
	defaultPort     = "8080"
	defaultLogLevel = "info"

	minJWTSecretLen = 32
)

// Config captures application runtime configuration.
type Config struct {
	AppName        string        `mapstructure:"APP_NAME"`
	AppEnv         string        `mapstructure:"APP_ENV"`
	Port           string        `mapstructure:"PORT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	LogFormat      string        `mapstructure:"LOG_FORMAT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	ShutdownPeriod time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	// AutoMigrate applies pending migrations before the API starts serving.
	AutoMigrate bool `mapstructure:"AUTO_MIGRATE"`

	// JWTSecret is the HMAC key for session tokens.
	JWTSecret  string        `mapstructure:"JWT_SECRET"`
	JWTIssuer  string        `mapstructure:"JWT_ISSUER"`
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`
	BcryptCost int           `mapstructure:"BCRYPT_COST"`

	LockoutThreshold int           `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutDuration  time.Duration `mapstructure:"LOCKOUT_DURATION"`

	OTPTTL          time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts  int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPDeliveryWait time.Duration `mapstructure:"OTP_DELIVERY_WAIT"`
	OTPSendTimeout  time.Duration `mapstructure:"OTP_SEND_TIMEOUT"`
	// OTPEcho returns issued codes to the caller. It only has an effect in
	// binaries built with the devotp tag and is rejected in production.
	OTPEcho bool `mapstructure:"OTP_ECHO"`

	SMSGatewayURL string `mapstructure:"SMS_GATEWAY_URL"`
	SMSGatewayKey string `mapstructure:"SMS_GATEWAY_KEY"`
	SMSSender     string `mapstructure:"SMS_SENDER"`

	LoginRateLimitPerMin int           `mapstructure:"LOGIN_RATE_LIMIT_PER_MIN"`
	IdempotencyTTL       time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	ProfileCacheSize     int           `mapstructure:"PROFILE_CACHE_SIZE"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Environment variables override .env values.
func Load() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "telehealth-auth")
	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "2h")
	v.SetDefault("OTP_TTL", "3m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_DELIVERY_WAIT", "300ms")
	v.SetDefault("OTP_SEND_TIMEOUT", "10s")
	v.SetDefault("OTP_ECHO", false)
	v.SetDefault("SMS_GATEWAY_URL", "")
	v.SetDefault("SMS_GATEWAY_KEY", "")
	v.SetDefault("SMS_SENDER", "")
	v.SetDefault("LOGIN_RATE_LIMIT_PER_MIN", 20)
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("PROFILE_CACHE_SIZE", 1024)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: PORT must be set")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.LockoutThreshold <= 0 {
		return errors.New("config: LOCKOUT_THRESHOLD must be positive")
	}
	if c.LockoutDuration <= 0 {
		return errors.New("config: LOCKOUT_DURATION must be positive")
	}
	if c.OTPTTL <= 0 {
		return errors.New("config: OTP_TTL must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}
	if c.OTPEcho && c.IsProduction() {
		return errors.New("config: OTP_ECHO must not be true when APP_ENV=production")
	}
	if c.IsDev() {
		return nil
	}
	if len(c.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("config: JWT_SECRET must be at least %d bytes when APP_ENV=%s", minJWTSecretLen, c.AppEnv)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("config: REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// IsProduction reports whether APP_ENV names production.
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.AppEnv) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
