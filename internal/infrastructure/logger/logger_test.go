package logger

import (
	"testing"

	"github.com/bizledger/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
	}{
		{"json to stdout", config.LogConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"console to stderr", config.LogConfig{Level: "debug", Format: "console", Output: "stderr"}},
		{"unknown level falls back", config.LogConfig{Level: "verbose", Format: "json", Output: "stdout"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.cfg)
			require.NotNil(t, l)
			l.Info("test entry")
		})
	}
}

func TestNewForEnvironment(t *testing.T) {
	require.NotNil(t, NewForEnvironment("production"))
	require.NotNil(t, NewForEnvironment("development"))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"ERROR", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("warn"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("other"))
}

func TestGormLogger_LogMode(t *testing.T) {
	base := NewGormLogger(NewForEnvironment("development"), gormlogger.Warn)

	silenced := base.LogMode(gormlogger.Silent)

	require.NotSame(t, base, silenced)
	assert.Equal(t, gormlogger.Warn, base.logLevel)
}
