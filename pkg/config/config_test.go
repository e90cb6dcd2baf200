package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, ModeLive, cfg.Mode)
	assert.Equal(t, IngestInline, cfg.IngestMode)
	assert.Equal(t, 0.50, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 3, cfg.Detection.ConfidenceTriggerCount)
	assert.Equal(t, 3, cfg.Detection.ClarificationTriggerCount)
	assert.Equal(t, 24*60*60, cfg.Detection.SignalTTLSeconds)
	assert.NotEmpty(t, cfg.PodID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6380")
	t.Setenv("HANDOFF_MODE", ModeEvaluate)
	t.Setenv("CONFIDENCE_THRESHOLD", "0.4")
	t.Setenv("EMAIL_TIMEOUT_MS", "2500")
	t.Setenv("HANDOFF_KEYWORDS", "human, agent ,refund")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://cache:6380", cfg.RedisURL)
	assert.Equal(t, ModeEvaluate, cfg.Mode)
	assert.Equal(t, 0.4, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, int64(2500), cfg.Notification.EmailTimeoutMS)
	assert.Equal(t, []string{"human", "agent", "refund"}, cfg.Detection.Keywords)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handoff.yaml")
	contents := `
port: "9000"
database:
  driver: sqlite3
  dsn: /tmp/handoff.db
detection:
  confidence_trigger_count: 5
notification:
  business_hours:
    start_hour: 9
    end_hour: 17
    timezone: UTC
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	t.Setenv("HANDOFF_CONFIG", path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Detection.ConfidenceTriggerCount)
	// Untouched defaults survive the file
	assert.Equal(t, 3, cfg.Detection.ClarificationTriggerCount)
	assert.Equal(t, 9, cfg.Notification.BusinessHours.StartHour)
	assert.Equal(t, 17, cfg.Notification.BusinessHours.EndHour)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "shadow" }},
		{"unknown ingest mode", func(c *Config) { c.IngestMode = "kafka" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"zero threshold", func(c *Config) { c.Detection.ConfidenceThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.Detection.ConfidenceThreshold = 1.5 }},
		{"zero trigger count", func(c *Config) { c.Detection.ConfidenceTriggerCount = 0 }},
		{"bad timezone", func(c *Config) { c.Notification.BusinessHours.Timezone = "Mars/Olympus" }},
		{"hour out of range", func(c *Config) { c.Notification.BusinessHours.StartHour = 25 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
