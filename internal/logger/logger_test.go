package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	l := New()
	require.NotNil(t, l.Log)

	require.NoError(t, l.Init("Info"))
	assert.True(t, l.Log.Core().Enabled(0))
	assert.False(t, l.Log.Core().Enabled(-1), "debug is off at info")

	require.NoError(t, l.InitConsole("debug"))
	assert.True(t, l.Log.Core().Enabled(-1))

	assert.Error(t, l.Init("loud"))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***@example.com", MaskEmail("ann.lee@example.com"))
	assert.Equal(t, "***", MaskEmail("@example.com"))
	assert.Equal(t, "***", MaskEmail("nope"))
}
