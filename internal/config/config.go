// Package config provides application configuration management using Viper.
// It supports loading from environment variables, config files, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AI        AIConfig
	Email     EmailConfig
	Notify    NotifyConfig
	Webhook   WebhookConfig
	CORS      CORSConfig
	App       AppConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Estimate  EstimateLimitConfig
	Session   SessionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string
	Port        int
	Environment string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host                  string
	Port                  int
	User                  string
	Password              string
	Name                  string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// ConnectionString returns a PostgreSQL connection string.
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds the widget config cache settings. An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// AIConfig selects and configures the hosted estimate model.
type AIConfig struct {
	// Provider is the primary provider: gemini, openai or anthropic.
	Provider  string
	Timeout   time.Duration
	Gemini    ProviderConfig
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Retry     RetryConfig
}

// ProviderConfig holds credentials for one AI provider.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// RetryConfig holds estimate retry settings.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
}

// EmailConfig selects the transactional email transport.
type EmailConfig struct {
	// Transport is "resend" or "ses".
	Transport     string
	ResendURL     string
	SESRegion     string
	DefaultSender string
	FromAddress   string
	Timeout       time.Duration
}

// NotifyConfig holds the optional SNS lead-event channel.
type NotifyConfig struct {
	TopicARN string
	Region   string
}

// WebhookConfig holds outbound webhook settings.
type WebhookConfig struct {
	Timeout time.Duration
}

// CORSConfig holds the origins allowed to call the public widget API.
type CORSConfig struct {
	AllowedOrigins []string
}

// AppConfig holds general application settings.
type AppConfig struct {
	PublicURL string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// EstimateLimitConfig caps AI spend across all widgets.
type EstimateLimitConfig struct {
	PerMinute     int
	PerHour       int
	PerDay        int
	MaxConcurrent int

	// PerWidgetPerMinute stops one embed from using the whole budget.
	PerWidgetPerMinute int
}

// SessionConfig holds widget session settings.
type SessionConfig struct {
	TTL time.Duration
}

// Load reads configuration from environment variables and config files.
// Environment variables take precedence over config file values.
func Load() (*Config, error) {
	v, err := read()
	if err != nil {
		return nil, err
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAI reads only the AI section. Tools that call a provider directly
// use it so they do not need database or email settings.
func LoadAI() (*AIConfig, error) {
	v, err := read()
	if err != nil {
		return nil, err
	}

	ai := fromViper(v).AI
	if err := ai.Validate(); err != nil {
		return nil, err
	}
	return &ai, nil
}

func read() (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/estimatebot")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFoundErr) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Host:        v.GetString("server.host"),
			Port:        v.GetInt("server.port"),
			Environment: v.GetString("server.env"),
		},
		Database: DatabaseConfig{
			Host:                  v.GetString("database.host"),
			Port:                  v.GetInt("database.port"),
			User:                  v.GetString("database.user"),
			Password:              v.GetString("database.password"),
			Name:                  v.GetString("database.name"),
			SSLMode:               v.GetString("database.sslmode"),
			MaxConnections:        v.GetInt("database.max_connections"),
			MaxIdleConnections:    v.GetInt("database.max_idle_connections"),
			ConnectionMaxLifetime: v.GetDuration("database.connection_max_lifetime"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		AI: AIConfig{
			Provider: strings.ToLower(v.GetString("ai.provider")),
			Timeout:  v.GetDuration("ai.timeout"),
			Gemini: ProviderConfig{
				APIKey:  v.GetString("ai.gemini.api_key"),
				Model:   v.GetString("ai.gemini.model"),
				BaseURL: v.GetString("ai.gemini.base_url"),
			},
			OpenAI: ProviderConfig{
				APIKey:  v.GetString("ai.openai.api_key"),
				Model:   v.GetString("ai.openai.model"),
				BaseURL: v.GetString("ai.openai.base_url"),
			},
			Anthropic: ProviderConfig{
				APIKey:  v.GetString("ai.anthropic.api_key"),
				Model:   v.GetString("ai.anthropic.model"),
				BaseURL: v.GetString("ai.anthropic.base_url"),
			},
			Retry: RetryConfig{
				InitialDelay: v.GetDuration("ai.retry.initial_delay"),
				MaxDelay:     v.GetDuration("ai.retry.max_delay"),
				Multiplier:   v.GetFloat64("ai.retry.multiplier"),
				MaxRetries:   v.GetInt("ai.retry.max_retries"),
			},
		},
		Email: EmailConfig{
			Transport:     strings.ToLower(v.GetString("email.transport")),
			ResendURL:     v.GetString("email.resend_url"),
			SESRegion:     v.GetString("email.ses_region"),
			DefaultSender: v.GetString("email.default_sender"),
			FromAddress:   v.GetString("email.from_address"),
			Timeout:       v.GetDuration("email.timeout"),
		},
		Notify: NotifyConfig{
			TopicARN: v.GetString("notify.topic_arn"),
			Region:   v.GetString("notify.region"),
		},
		Webhook: WebhookConfig{
			Timeout: v.GetDuration("webhook.timeout"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("cors.allowed_origins")),
		},
		App: AppConfig{
			PublicURL: strings.TrimRight(v.GetString("app.public_url"), "/"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("rate_limit.requests"),
			Window:   v.GetDuration("rate_limit.window"),
		},
		Estimate: EstimateLimitConfig{
			PerMinute:     v.GetInt("estimate_limit.per_minute"),
			PerHour:       v.GetInt("estimate_limit.per_hour"),
			PerDay:        v.GetInt("estimate_limit.per_day"),
			MaxConcurrent: v.GetInt("estimate_limit.max_concurrent"),

			PerWidgetPerMinute: v.GetInt("estimate_limit.per_widget_per_minute"),
		},
		Session: SessionConfig{
			TTL: v.GetDuration("session.ttl"),
		},
	}
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "estimatebot")
	v.SetDefault("database.name", "estimatebot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_connections", 5)
	v.SetDefault("database.connection_max_lifetime", "5m")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5m")

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.gemini.model", "gemini-3-flash-preview")
	v.SetDefault("ai.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("ai.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("ai.retry.initial_delay", "3s")
	v.SetDefault("ai.retry.max_delay", "1m")
	v.SetDefault("ai.retry.multiplier", 2.0)
	v.SetDefault("ai.retry.max_retries", 3)

	v.SetDefault("email.transport", "resend")
	v.SetDefault("email.resend_url", "https://api.resend.com/emails")
	v.SetDefault("email.ses_region", "us-east-1")
	v.SetDefault("email.default_sender", "HandyBot")
	v.SetDefault("email.from_address", "onboarding@resend.dev")
	v.SetDefault("email.timeout", "10s")

	v.SetDefault("notify.region", "us-east-1")

	v.SetDefault("webhook.timeout", "10s")

	v.SetDefault("cors.allowed_origins", "*")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("estimate_limit.per_minute", 30)
	v.SetDefault("estimate_limit.per_hour", 500)
	v.SetDefault("estimate_limit.per_day", 3000)
	v.SetDefault("estimate_limit.max_concurrent", 10)
	v.SetDefault("estimate_limit.per_widget_per_minute", 10)

	v.SetDefault("session.ttl", "30m")
}

// Validate checks that all required configuration values are present.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.Password == "" {
		missing = append(missing, "DATABASE_PASSWORD")
	}

	if err := c.AI.Validate(); err != nil {
		var m missingError
		if !errors.As(err, &m) {
			return err
		}
		missing = append(missing, m...)
	}

	switch c.Email.Transport {
	case "resend", "ses":
	default:
		return fmt.Errorf("unsupported email.transport %q (want resend or ses)", c.Email.Transport)
	}

	if c.App.PublicURL == "" {
		missing = append(missing, "APP_PUBLIC_URL")
	}

	if len(missing) > 0 {
		return missingError(missing)
	}

	return nil
}

// Validate checks that the selected provider is known and has a key.
func (c *AIConfig) Validate() error {
	var key string
	switch c.Provider {
	case "gemini":
		key = c.Gemini.APIKey
	case "openai":
		key = c.OpenAI.APIKey
	case "anthropic":
		key = c.Anthropic.APIKey
	default:
		return fmt.Errorf("unsupported ai.provider %q (want gemini, openai or anthropic)", c.Provider)
	}
	if key == "" {
		return missingError{"AI_" + strings.ToUpper(c.Provider) + "_API_KEY"}
	}
	return nil
}

type missingError []string

func (e missingError) Error() string {
	return "missing required configuration: " + strings.Join(e, ", ")
}

// Address returns the host:port the HTTP server listens on.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
