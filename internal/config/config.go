package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const defaultSecretKey = "your-secret-key-change-this-in-production"

type Config struct {
	Environment     string
	DatabasePath    string
	Port            string
	SecretKey       string
	SessionDuration time.Duration
	LogLevel        string
	AllowedOrigins  []string

	RedisAddr          string
	RedisPassword      string
	RedisChannelPrefix string

	MailgunDomain      string
	MailgunAPIKey      string
	MailgunSenderEmail string
	MailgunSenderName  string
	ReportRecipient    string
	PublicBaseURL      string

	AdminUsername string
	AdminPassword string
}

func Load() *Config {
	cfg := &Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		DatabasePath:    getEnv("DATABASE_PATH", "verifmatos.db"),
		Port:            getEnv("PORT", "8080"),
		SecretKey:       getEnv("SECRET_KEY", defaultSecretKey),
		SessionDuration: getEnvDuration("SESSION_DURATION", 8*time.Hour),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", "http://localhost:8080"),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "verif:events"),

		MailgunDomain:      getEnv("MAILGUN_DOMAIN", ""),
		MailgunAPIKey:      getEnv("MAILGUN_API_KEY", ""),
		MailgunSenderEmail: getEnv("MAILGUN_SENDER_EMAIL", ""),
		MailgunSenderName:  getEnv("MAILGUN_SENDER_NAME", "Verif Matos"),
		ReportRecipient:    getEnv("REPORT_RECIPIENT", ""),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin"),
	}
	return cfg
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Environment, validation.Required, validation.In("development", "dev", "production", "staging")),
		validation.Field(&c.DatabasePath, validation.Required),
		validation.Field(&c.Port, validation.Required, is.Port),
		validation.Field(&c.SecretKey,
			validation.Required,
			validation.When(!c.IsDevelopment(),
				validation.Length(32, 0),
				validation.NotIn(defaultSecretKey).Error("must be changed outside development"),
			),
		),
		validation.Field(&c.SessionDuration, validation.Min(time.Minute)),
		validation.Field(&c.LogLevel, validation.In("DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error")),
		validation.Field(&c.ReportRecipient, validation.When(c.MailgunDomain != "", validation.Required, is.EmailFormat)),
		validation.Field(&c.PublicBaseURL, is.URL),
		validation.Field(&c.AllowedOrigins, validation.Required, validation.Each(validation.By(validOrigin))),
		validation.Field(&c.AdminUsername, validation.Required, validation.RuneLength(3, 50)),
		validation.Field(&c.AdminPassword, validation.Required),
	)
}

// validOrigin accepts what the CORS middleware accepts: a wildcard pattern
// or an http(s) origin.
func validOrigin(value interface{}) error {
	origin, _ := value.(string)
	if strings.Contains(origin, "*") {
		return nil
	}
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return errors.New("must be * or an http(s) origin")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if hours, err := strconv.Atoi(value); err == nil {
		return time.Duration(hours) * time.Hour
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
