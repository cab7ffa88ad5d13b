package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, name := range []string{
		"THANK_YOU_ENV", "THANK_YOU_DAO", "THANK_YOU_SQLITE_PATH",
		"THANK_YOU_POSTGRES_HOST", "THANK_YOU_POSTGRES_PORT", "THANK_YOU_POSTGRES_DB",
		"THANK_YOU_POSTGRES_USER", "THANK_YOU_POSTGRES_PASSWORD",
		"THANK_YOU_ENCRYPTION_SECRET_KEY", "SLACK_BOT_TOKEN", "SLACK_SIGNING_SECRET",
		"REDIS_URL", "PORT",
	} {
		t.Setenv(name, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDev, cfg.Env)
	assert.Equal(t, DaoSQLite, cfg.Dao)
	assert.Equal(t, defaultSQLitePath, cfg.SQLitePath)
	assert.Equal(t, "8080", cfg.Port)
	// 暗号化キーがないのはエラーではない
	assert.Empty(t, cfg.EncryptionSecretKey)
	assert.False(t, cfg.IsProd())
}

func TestLoad_Postgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("THANK_YOU_DAO", "Postgres")
	t.Setenv("THANK_YOU_POSTGRES_HOST", "db")
	t.Setenv("THANK_YOU_POSTGRES_DB", "thank_you")
	t.Setenv("THANK_YOU_POSTGRES_USER", "admin")
	t.Setenv("THANK_YOU_POSTGRES_PASSWORD", "secret")
	t.Setenv("THANK_YOU_POSTGRES_PORT", "5433")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DaoPostgres, cfg.Dao)
	assert.Equal(t, "host=db port=5433 user=admin password=secret dbname=thank_you sslmode=disable TimeZone=UTC", cfg.PostgresDSN())
}

func TestLoad_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "unknown dao",
			env:  map[string]string{"THANK_YOU_DAO": "mongo"},
		},
		{
			name: "postgres without host",
			env:  map[string]string{"THANK_YOU_DAO": "postgres", "THANK_YOU_POSTGRES_DB": "x", "THANK_YOU_POSTGRES_USER": "x"},
		},
		{
			name: "invalid postgres port",
			env:  map[string]string{"THANK_YOU_POSTGRES_PORT": "abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestRequireSlack(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.RequireSlack(), ErrConfiguration)

	cfg.SlackBotToken = "xoxb-test"
	assert.NoError(t, cfg.RequireSlack())
}
