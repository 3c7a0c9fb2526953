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

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, uint(3), cfg.Ledger.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Ledger.RetryInterval)
	assert.Equal(t, 25*time.Second, cfg.Websocket.PingInterval)
	assert.Equal(t, 8, cfg.Websocket.OutboxSize)
	assert.Empty(t, cfg.JWTSecret)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHORE_RPG_ADDR", ":9000")
	t.Setenv("CHORE_RPG_DB_DRIVER", "sqlite")
	t.Setenv("CHORE_RPG_ALLOWED_ORIGINS", "http://localhost:3000,https://rpg-chore-client.onrender.com")
	t.Setenv("CHORE_RPG_LEDGER_MAX_ATTEMPTS", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, []string{"http://localhost:3000", "https://rpg-chore-client.onrender.com"}, cfg.AllowedOrigins)
	assert.Equal(t, uint(1), cfg.Ledger.MaxAttempts)
}

func TestLoad_Error(t *testing.T) {
	t.Setenv("CHORE_RPG_LEDGER_WRITE_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoad_RejectsZeroOutbox(t *testing.T) {
	t.Setenv("CHORE_RPG_WS_OUTBOX_SIZE", "0")

	_, err := Load()
	assert.Error(t, err)
}
