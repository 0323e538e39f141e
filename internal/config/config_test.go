package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinger-io/thinger-ota/pkg/errors"
)

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, 443, cfg.Port)
	assert.True(t, cfg.Secure)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.FSMMaxRetries)
	assert.False(t, cfg.FSMEnabled)
	assert.Equal(t, "https://backend.thinger.io:443", cfg.BaseURL())
	assert.NoError(t, cfg.ValidateLocal())
}

func TestLoadTokenClaims(t *testing.T) {
	t.Setenv("THINGER_TOKEN", token(t, jwt.MapClaims{"usr": "alice", "svr": "eu.thinger.io"}))

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.User)
	assert.Equal(t, "eu.thinger.io", cfg.Host)
	assert.NoError(t, cfg.Validate())
}

func TestExplicitSettingsWinOverClaims(t *testing.T) {
	t.Setenv("THINGER_TOKEN", token(t, jwt.MapClaims{"usr": "alice", "svr": "eu.thinger.io"}))
	t.Setenv("THINGER_USER", "bob")
	t.Setenv("THINGER_HOST", "localhost")
	t.Setenv("THINGER_PORT", "8080")
	t.Setenv("THINGER_SECURE", "false")
	t.Setenv("THINGER_CHUNK_SIZE", "4096")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "bob", cfg.User)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL())
	assert.Equal(t, 4096, cfg.ChunkSize)
}

func TestInvalidToken(t *testing.T) {
	t.Setenv("THINGER_TOKEN", "not-a-jwt")

	_, err := load(viper.New())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := load(viper.New())
		require.NoError(t, err)
		cfg.Token, cfg.User = "t", "alice"
		return cfg
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing token", func(c *Config) { c.Token = "" }},
		{"missing user", func(c *Config) { c.User = "" }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"no sqlite path", func(c *Config) { c.SQLitePath = "" }},
		{"fsm without path", func(c *Config) { c.FSMEnabled, c.FSMDBPath = true, "" }},
		{"negative retries", func(c *Config) { c.FSMMaxRetries = -1 }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"inverted chunk bounds", func(c *Config) { c.MinChunkSize, c.MaxChunkSize = 1024, 512 }},
		{"negative chunk size", func(c *Config) { c.ChunkSize = -1 }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfiguration))
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("THINGER_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("THINGER_TEST_DOTENV", "")
	os.Unsetenv("THINGER_TEST_DOTENV")

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("THINGER_TEST_DOTENV"))
}
