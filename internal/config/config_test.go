package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1500, cfg.Game.StartingCash)
	assert.Equal(t, 4, cfg.Game.MaxPlayers)
	assert.Equal(t, "/ws", cfg.Server.WebSocketPath)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
  shutdown_timeout: 3s
logging:
  level: debug
  format: json
game:
  starting_cash: 2000
  bot_delay: 250ms
replay:
  enabled: true
  dir: /tmp/replays
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/ws", cfg.Server.WebSocketPath, "unset keys keep defaults")
	assert.Equal(t, LoggingConfig{Level: "debug", Format: "json"}, cfg.Logging)
	assert.Equal(t, 2000, cfg.Game.StartingCash)
	assert.Equal(t, 200, cfg.Game.PassStartBonus)
	assert.Equal(t, 250*time.Millisecond, cfg.Game.BotDelay)
	assert.True(t, cfg.Replay.Enabled)
	assert.Equal(t, "/tmp/replays", cfg.Replay.Dir)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "game:\n  max_players: 3\n")
	t.Setenv("ESTATE_GAME_MAX_PLAYERS", "6")
	t.Setenv("ESTATE_REDIS_ENABLED", "true")
	t.Setenv("ESTATE_REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Game.MaxPlayers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "game:\n  min_players: 5\n  max_players: 3\n"))
	assert.ErrorContains(t, err, "below min_players")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"relative websocket path", func(c *Config) { c.Server.WebSocketPath = "ws" }},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }},
		{"database without url", func(c *Config) { c.Database.Enabled = true; c.Database.URL = "" }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"no starting cash", func(c *Config) { c.Game.StartingCash = 0 }},
		{"negative fine", func(c *Config) { c.Game.JailFine = -1 }},
		{"no jail turns", func(c *Config) { c.Game.MaxJailTurns = 0 }},
		{"single player", func(c *Config) { c.Game.MinPlayers = 1 }},
		{"negative supply", func(c *Config) { c.Game.HotelSupply = -1 }},
		{"negative bot delay", func(c *Config) { c.Game.BotDelay = -time.Second }},
		{"replay without dir", func(c *Config) { c.Replay.Enabled = true; c.Replay.Dir = "" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEngineConfig(t *testing.T) {
	g := Default().Game
	g.StartingCash = 1000
	g.JailFine = 75
	g.HouseSupply = 20
	g.DiceSeed = 99

	ec := g.EngineConfig()
	assert.Equal(t, 1000, ec.Constants.StartingCash)
	assert.Equal(t, 75, ec.Constants.JailFine)
	assert.Equal(t, 20, ec.Constants.HouseSupply)
	assert.Equal(t, 3, ec.Constants.MaxDoubles)
	assert.Equal(t, 2, ec.MinPlayers)
	assert.Equal(t, 4, ec.MaxPlayers)
	assert.Equal(t, int64(99), ec.DiceSeed)
}
