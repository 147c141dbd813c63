package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigBuildLevels(t *testing.T) {
	config := Config{Level: "warn", Format: "console"}
	l, err := config.Build()
	require.NoError(t, err)

	core := l.Core()
	require.False(t, core.Enabled(zap.DebugLevel))
	require.False(t, core.Enabled(zap.InfoLevel))
	require.True(t, core.Enabled(zap.WarnLevel))
	require.True(t, core.Enabled(zap.ErrorLevel))
}

func TestConfigBuildJSON(t *testing.T) {
	config := Config{Level: "debug", Format: " JSON "}
	l, err := config.Build()
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zap.DebugLevel))
}

func TestConfigBuildInvalid(t *testing.T) {
	_, err := (&Config{Level: "loud", Format: "console"}).Build()
	require.Error(t, err)

	_, err = (&Config{Level: "info", Format: "xml"}).Build()
	require.Error(t, err)
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	require.Same(t, l, OrNop(l))
}
