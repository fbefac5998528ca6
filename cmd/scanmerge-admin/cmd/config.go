package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/openctemio/scanmerge/internal/config"
)

const envPrefix = "SCANMERGE"

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scanmerge")
}

// loadConfig starts from the server configuration (plain environment
// variables) and overlays the admin config file and SCANMERGE_* variables.
// Keys use dots in the file and underscores in the environment:
// database.host is SCANMERGE_DATABASE_HOST.
func loadConfig(v *viper.Viper, file string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("admin")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	applyOverrides(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyOverrides(v *viper.Viper, cfg *config.Config) {
	overrideString(v, "log.level", &cfg.Log.Level)
	overrideString(v, "log.format", &cfg.Log.Format)

	overrideString(v, "database.host", &cfg.Database.Host)
	overrideInt(v, "database.port", &cfg.Database.Port)
	overrideString(v, "database.user", &cfg.Database.User)
	overrideString(v, "database.password", &cfg.Database.Password)
	overrideString(v, "database.name", &cfg.Database.Name)
	overrideString(v, "database.sslmode", &cfg.Database.SSLMode)

	overrideString(v, "redis.host", &cfg.Redis.Host)
	overrideInt(v, "redis.port", &cfg.Redis.Port)
	overrideString(v, "redis.password", &cfg.Redis.Password)
	overrideInt(v, "redis.db", &cfg.Redis.DB)
	overrideString(v, "redis.events_channel", &cfg.Redis.EventsChannel)

	overrideString(v, "archive.bucket", &cfg.Archive.Bucket)
	overrideString(v, "archive.prefix", &cfg.Archive.Prefix)
	overrideString(v, "archive.region", &cfg.Archive.Region)
	overrideString(v, "archive.endpoint", &cfg.Archive.Endpoint)
	overrideString(v, "archive.access_key_id", &cfg.Archive.AccessKeyID)
	overrideString(v, "archive.secret_access_key", &cfg.Archive.SecretAccessKey)
	overrideString(v, "archive.role_arn", &cfg.Archive.RoleARN)
	overrideBool(v, "archive.use_path_style", &cfg.Archive.UsePathStyle)

	overrideString(v, "rules.file", &cfg.Rules.File)

	overrideString(v, "notify.webhook_url", &cfg.Notify.WebhookURL)
	overrideString(v, "notify.slack_webhook_url", &cfg.Notify.SlackWebhookURL)
	overrideString(v, "notify.slack_channel", &cfg.Notify.SlackChannel)
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func overrideInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func overrideBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}
