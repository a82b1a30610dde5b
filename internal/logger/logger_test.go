package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewFromZapRecordsFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	log := NewFromZap(zap.New(core)).With(String("kind", "blog-listing"))

	log.Info("crawl finished", Int("entries", 3))
	log.Warn("enrich failed", Error(errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "crawl finished", entries[0].Message)
	assert.Equal(t, "blog-listing", entries[0].ContextMap()["kind"])
	assert.EqualValues(t, 3, entries[0].ContextMap()["entries"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestNewRespectsLevel(t *testing.T) {
	t.Parallel()

	l, err := New(Config{Level: "warn", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	zl, ok := l.(*zapLogger)
	require.True(t, ok)
	assert.False(t, zl.logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, zl.logger.Core().Enabled(zapcore.WarnLevel))
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	t.Parallel()

	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
	assert.Equal(t, zapcore.DebugLevel, parseLevel(" DEBUG "))
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	l := NewNop()
	l.Info("ignored", String("k", "v"))
	assert.Same(t, l, l.With(String("k", "v")))
	assert.NoError(t, l.Sync())
	assert.IsType(t, &NoOpLogger{}, NewFromZap(nil))
}
