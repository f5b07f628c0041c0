package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
