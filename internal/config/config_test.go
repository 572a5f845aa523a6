package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respira-triage/internal/triage"
)

func TestLoad_DefaultsAndEnvOverride(t *testing.T) {
	t.Setenv("RESPIRA_DATABASE_URL", "postgres://localhost:5432/respira?sslmode=disable")
	t.Setenv("RESPIRA_HTTP_PORT", "9090")
	t.Setenv("RESPIRA_TRIAGE_ALPHA", "0.8")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, "postgres://localhost:5432/respira?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 0.8, cfg.Alpha())
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.ChatModel)
	assert.Equal(t, "+62", cfg.Triage.DefaultCountryCode)
	assert.Equal(t, 7, cfg.Triage.FollowUpDays)
}

func TestLoad_EnvOnlySecrets(t *testing.T) {
	t.Setenv("RESPIRA_DATABASE_URL", "postgres://localhost:5432/respira")
	t.Setenv("RESPIRA_TELEGRAM_TOKEN", "123456:token")
	t.Setenv("RESPIRA_OPENAI_API_KEY", "sk-test")
	t.Setenv("RESPIRA_STORAGE_BUCKET", "sputum-images")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "123456:token", cfg.Telegram.Token)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "sputum-images", cfg.Storage.Bucket)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestSeverityThresholds(t *testing.T) {
	cfg := &Config{Triage: Triage{Thresholds: "0.3|0.8"}}
	assert.Equal(t, [2]float64{0.3, 0.8}, cfg.SeverityThresholds())

	cfg.Triage.Thresholds = "0.8|0.3"
	assert.Equal(t, triage.DefaultThresholds, cfg.SeverityThresholds())

	cfg.Triage.Thresholds = "garbage"
	assert.Equal(t, triage.DefaultThresholds, cfg.SeverityThresholds())
}

func TestAlpha_ClampsOutOfRange(t *testing.T) {
	cfg := &Config{Triage: Triage{Alpha: 3}}
	assert.Equal(t, 1.0, cfg.Alpha())
}
