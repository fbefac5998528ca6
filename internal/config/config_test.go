package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "scanmerge", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Ingest.Shards)
	assert.Equal(t, "@hourly", cfg.Rules.Schedule)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, "host=localhost port=5432 user=scanmerge password=secret dbname=scanmerge sslmode=disable", cfg.Database.DSN())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("INGEST_SHARDS", "8")
	t.Setenv("INGEST_JOB_TIMEOUT", "90s")
	t.Setenv("RULES_SCHEDULE_ENABLED", "true")
	t.Setenv("RULES_SCHEDULE", "*/5 * * * *")
	t.Setenv("REDIS_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Ingest.Shards)
	assert.Equal(t, 90*time.Second, cfg.Ingest.JobTimeout)
	assert.True(t, cfg.Rules.ScheduleEnabled)
	assert.Equal(t, "*/5 * * * *", cfg.Rules.Schedule)
	assert.Equal(t, 6379, cfg.Redis.Port, "malformed values fall back to the default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, "invalid log level"},
		{"bad port", map[string]string{"SERVER_PORT": "70000"}, "invalid server port"},
		{"alerts without redis", map[string]string{"ALERTS_ENABLED": "true", "NOTIFY_WEBHOOK_URL": "http://hook"}, "REDIS_ENABLED"},
		{"alerts without channel", map[string]string{"ALERTS_ENABLED": "true", "REDIS_ENABLED": "true"}, "NOTIFY_WEBHOOK_URL"},
		{"archive without bucket", map[string]string{"ARCHIVE_ENABLED": "true"}, "ARCHIVE_BUCKET"},
		{"default password in production", map[string]string{"APP_ENV": "production"}, "DB_PASSWORD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
