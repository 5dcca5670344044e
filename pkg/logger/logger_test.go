package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel(LevelInfo) })

	SetLevel("DEBUG")
	assert.True(t, Enabled(zapcore.DebugLevel))

	SetLevel(LevelWarn)
	assert.False(t, Enabled(zapcore.InfoLevel))
	assert.True(t, Enabled(zapcore.WarnLevel))

	SetLevel("bogus")
	assert.True(t, Enabled(zapcore.InfoLevel))
	assert.False(t, Enabled(zapcore.DebugLevel))
}
