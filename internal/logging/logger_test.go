package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPresets(t *testing.T) {
	t.Parallel()

	dev, err := New(true, "")
	require.NoError(t, err)
	require.True(t, dev.Core().Enabled(zap.DebugLevel))

	prod, err := New(false, "")
	require.NoError(t, err)
	require.False(t, prod.Core().Enabled(zap.DebugLevel))
	require.True(t, prod.Core().Enabled(zap.InfoLevel))
}

func TestNewLevelOverride(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "warn")
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zap.InfoLevel))
	require.True(t, logger.Core().Enabled(zap.WarnLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(false, "loud")
	require.ErrorContains(t, err, "parse log level")
}
