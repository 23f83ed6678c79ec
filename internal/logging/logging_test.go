package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	l.Debug("calculation complete", zap.String("calculation_id", "abc"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"calculation_id":"abc"`)
	require.Contains(t, string(data), `"timestamp"`)
}

func TestLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(Config{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.False(t, strings.Contains(string(data), "hidden"))
	require.Contains(t, string(data), "shown")
}

func TestInitializeReplacesGlobals(t *testing.T) {
	old := Logger
	t.Cleanup(func() { Logger = old; Sugar = old.Sugar() })

	require.NoError(t, Initialize(Config{Level: "error", Format: "console", Output: "stderr"}))
	require.NotSame(t, old, Logger)
	require.NotNil(t, Sugar)
	require.NotNil(t, Named("ratestore"))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.Error(t, Config{Level: "loud", Format: "json"}.Validate())
	require.Error(t, Config{Level: "info", Format: "xml"}.Validate())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "verbose", Format: "json"})
	require.Error(t, err)

	_, err = New(Config{Level: "info", Format: "json", Output: filepath.Join(t.TempDir(), "missing", "app.log")})
	require.Error(t, err)
}
