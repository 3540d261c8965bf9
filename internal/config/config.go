package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "jwt-secret", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"APP_ENV" envDefault:"development"`

	JWTSecret   string `env:"JWT_SECRET,required"`
	JWTTTLHours int    `env:"JWT_TTL_HOURS" envDefault:"720"`

	LLMAPIKey     string `env:"LLM_API_KEY"`
	LLMBaseURL    string `env:"LLM_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	ChatModel     string `env:"CHAT_MODEL" envDefault:"llama-3.1-8b-instant"`
	CreativeModel string `env:"CREATIVE_MODEL" envDefault:"llama-3.3-70b-versatile"`

	EmbeddingAPIKey     string `env:"EMBEDDING_API_KEY"`
	EmbeddingBaseURL    string `env:"EMBEDDING_BASE_URL"`
	EmbeddingModel      string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDimensions int    `env:"EMBEDDING_DIMENSIONS" envDefault:"384"`

	MatrixHomeserver     string `env:"MATRIX_HOMESERVER"`
	EncryptionKey        string `env:"ENCRYPTION_KEY"`
	WatchdogIntervalSecs int    `env:"WATCHDOG_INTERVAL_SECONDS" envDefault:"5"`
	BotRepliesPerMinute  int    `env:"BOT_REPLIES_PER_MINUTE" envDefault:"20"`

	SMTPHost                 string `env:"SMTP_HOST"`
	SMTPPort                 int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername             string `env:"SMTP_USERNAME"`
	SMTPPassword             string `env:"SMTP_PASSWORD"`
	MailFrom                 string `env:"MAIL_FROM" envDefault:"EchoPersona <no-reply@echopersona.app>"`
	PublicBaseURL            string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	RequireEmailVerification bool   `env:"REQUIRE_EMAIL_VERIFICATION" envDefault:"false"`

	SerpAPIKey     string `env:"SERPAPI_KEY"`
	SerpAPIURL     string `env:"SERPAPI_URL" envDefault:"https://serpapi.com/search.json"`
	MintServiceURL string `env:"MINT_SERVICE_URL"`

	MigrateOnStart bool `env:"MIGRATE_ON_START" envDefault:"true"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLHours) * time.Hour
}

func (c *Config) WatchdogInterval() time.Duration {
	if c.WatchdogIntervalSecs <= 0 {
		return DefaultWatchdogInterval
	}
	return time.Duration(c.WatchdogIntervalSecs) * time.Second
}

// EmbeddingKey falls back to the generation key when no separate embedding
// provider is configured.
func (c *Config) EmbeddingKey() string {
	if c.EmbeddingAPIKey != "" {
		return c.EmbeddingAPIKey
	}
	return c.LLMAPIKey
}

func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

func (c *Config) Validate(isProduction bool) error {
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		}
	}

	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if !c.MailEnabled() {
			log.Warn().Msg("SMTP_HOST is empty in production: verification emails will not be sent")
		}
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: bot registrations will not survive restarts")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

// Load reads an optional .env file and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
