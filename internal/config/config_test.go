package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"FINSTAT_DB_DRIVER", "SQLITE_PATH", "DATABASE_URL", "ANTHROPIC_API_KEY",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "HTTPS_PROXY", "LOG_LEVEL",
		"CRON_PIPELINE", "LLM_BANK_LIMIT",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/finstat.db", cfg.Database.SQLitePath)
	assert.Equal(t, "configs/rules.yaml", cfg.Paths.RulesFile)
	assert.True(t, cfg.StrictFormulas())
	assert.Equal(t, 6, cfg.AI.Months)
	assert.Equal(t, 2, cfg.AI.MaxRetries)
	assert.Equal(t, "0 0 6 * * *", cfg.Schedule.PipelineCron)
	assert.False(t, cfg.TelegramEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database:
  driver: postgres
  postgres_dsn: postgres://file
formulas:
  strict: false
changes:
  indicators: [QN9, A1]
ai:
  enabled: true
  bank_limit: 50
log:
  level: debug
`)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("LLM_BANK_LIMIT", "5")
	t.Setenv("LOG_LEVEL", "WARN")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Database.PostgresDSN)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
	assert.Equal(t, 5, cfg.AI.BankLimit)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.StrictFormulas())
	assert.Equal(t, []string{"QN9", "A1"}, cfg.Changes.Indicators)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvBankLimitOnlyTightens(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "ai:\n  bank_limit: 3\n")
	t.Setenv("LLM_BANK_LIMIT", "10")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.AI.BankLimit)
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "database: [unclosed"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown driver", "database:\n  driver: mysql\n", "Driver"},
		{"postgres without dsn", "database:\n  driver: postgres\n", "postgres_dsn"},
		{"ai without key", "ai:\n  enabled: true\n", "api_key"},
		{"telegram without chat", "telegram:\n  bot_token: abc\n", "chat_id"},
		{"bad log level", "log:\n  level: loud\n", "Level"},
		{"negative bank limit", "ai:\n  bank_limit: -1\n", "BankLimit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load(writeConfig(t, tt.body))
			require.NoError(t, err)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_OfflineAIneedsNoKey(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "ai:\n  enabled: true\n  dry_run: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.AI.Offline())
	require.NoError(t, cfg.Validate())
}
