package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitializeSilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")

	require.NoError(t, Initialize(""))
	assert.False(t, GetLogger().Core().Enabled(zapcore.ErrorLevel))
}

func TestInitializeFromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")

	require.NoError(t, Initialize(""))
	core := GetLogger().Core()
	assert.True(t, core.Enabled(zapcore.WarnLevel))
	assert.False(t, core.Enabled(zapcore.InfoLevel))
}

func TestInitializeRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Initialize("verbose"))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}
