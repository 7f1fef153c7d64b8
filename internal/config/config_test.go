package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("PORT", "")
	t.Setenv("SESSION_DURATION", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := Load()
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 8*time.Hour, cfg.SessionDuration)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.False(t, cfg.RedisEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SESSION_DURATION", "12")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.org, ,https://b.example.org")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PUBLIC_BASE_URL", "https://verif.example.org/")

	cfg := Load()
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 12*time.Hour, cfg.SessionDuration)
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, cfg.AllowedOrigins)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, "https://verif.example.org", cfg.PublicBaseURL)
}

func TestValidateRejectsDefaultSecretInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SECRET_KEY", "")
	assert.Error(t, Load().Validate())

	t.Setenv("SECRET_KEY", "0123456789abcdef0123456789abcdef")
	assert.NoError(t, Load().Validate())
}

func TestValidateRequiresRecipientWithMailgun(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("MAILGUN_DOMAIN", "mg.example.org")
	t.Setenv("REPORT_RECIPIENT", "")
	assert.Error(t, Load().Validate())

	t.Setenv("REPORT_RECIPIENT", "stock@example.org")
	assert.NoError(t, Load().Validate())
}

func TestValidatePort(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("PORT", "eighty")
	assert.Error(t, Load().Validate())
}

func TestValidateAllowedOrigins(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	t.Setenv("ALLOWED_ORIGINS", ",,")
	assert.Error(t, Load().Validate(), "empty origin list")

	t.Setenv("ALLOWED_ORIGINS", "example.org")
	assert.Error(t, Load().Validate(), "origin without scheme")

	t.Setenv("ALLOWED_ORIGINS", "https://a.example.org,*")
	assert.NoError(t, Load().Validate())
}
