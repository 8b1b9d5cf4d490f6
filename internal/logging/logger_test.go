package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBuildsBothPresets(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		logger, err := New(dev, "")
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready", zap.Bool("development", dev))
	}
}

func TestNewAppliesLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(false, "warn")
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New(false, "chatty")
	require.Error(t, err)
}

func TestForRunAddsFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ForRun(zap.New(core).Named("collector"), "run-1", zap.String("version", "v1")).Info("page stored")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "collector", entries[0].LoggerName)
	require.Equal(t, "run-1", entries[0].ContextMap()["run_id"])
	require.Equal(t, "v1", entries[0].ContextMap()["version"])

	require.NotNil(t, ForRun(nil, "x"))
}
