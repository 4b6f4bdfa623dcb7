package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("COMMAND_TIMEOUT", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("ACTION_LOG_BUFFER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Realtime.CommandTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 1024, cfg.Realtime.ActionLogBuffer)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("COMMAND_TIMEOUT", "5s")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("ALLOW_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Realtime.CommandTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Realtime.AllowedOrigins)
}

func TestLoad_RejectsBadTimeout(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("COMMAND_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
}
