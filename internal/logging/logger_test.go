package logging

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestContextFields_RunCorrelation(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithConversationID(ctx, "conv-9")
	ctx = WithAgent(ctx, "specialist:liquid")

	tl := NewTestLogger()
	tl.Info(ctx, "tool dispatched", zap.String("tool", "read_file"))

	tl.AssertLogged(t, zapcore.InfoLevel, "tool dispatched")
	tl.AssertField(t, "tool dispatched", "run.id", "run-1")
	tl.AssertField(t, "tool dispatched", "conversation.id", "conv-9")
	tl.AssertField(t, "tool dispatched", "agent", "specialist:liquid")
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info(context.Background(), "dropped")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "kept")
	tl.AssertLogged(t, zapcore.WarnLevel, "kept")
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := LevelFromString(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromAppConfig(config.LoggingConfig{Level: "shouting"})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Output = OutputConfig{}
	assert.Error(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{Stderr: true}
	l, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	assert.True(t, l.Enabled(zapcore.InfoLevel))
	assert.False(t, l.Enabled(zapcore.DebugLevel))
	assert.NoError(t, l.Named("test").Sync())
}

func TestLevelFilterCore(t *testing.T) {
	tl := NewTestLogger()
	core := &levelFilterCore{Core: tl.Underlying().Core(), min: zapcore.ErrorLevel, max: zapcore.FatalLevel}
	assert.False(t, core.Enabled(zapcore.WarnLevel))
	assert.True(t, core.Enabled(zapcore.ErrorLevel))
}
