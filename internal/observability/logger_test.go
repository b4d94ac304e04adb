package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/config"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &parsed))
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	assert.Contains(t, buf.String(), "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"debug hidden at info level", "info", slog.LevelDebug, false},
		{"warn logs at info level", "info", slog.LevelWarn, true},
		{"info hidden at error level", "error", slog.LevelInfo, false},
		{"trace logs at trace level", "trace", LevelTrace, true},
		{"trace hidden at debug level", "debug", LevelTrace, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: tt.configLevel, Format: "json"}, &buf)
			logger.Log(context.Background(), tt.logLevel, "level test")

			if tt.shouldLog {
				assert.Contains(t, buf.String(), "level test")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestTraceLevelDisplay(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "trace", Format: "json"}, &buf)
	logger.Log(context.Background(), LevelTrace, "trace message")

	assert.Contains(t, buf.String(), `"level":"TRACE"`)
	assert.NotContains(t, buf.String(), "DEBUG-4")
}

func TestChainedWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	enriched := WithContentType(WithSession(WithComponent(logger, "streaming"), "sess-1"), "video")
	enriched.Info("chained test")

	output := buf.String()
	assert.Contains(t, output, `"component":"streaming"`)
	assert.Contains(t, output, `"session_id":"sess-1"`)
	assert.Contains(t, output, `"content_type":"video"`)
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	WithError(logger, errors.New("segment fetch failed")).Info("oops")
	assert.Contains(t, buf.String(), `"error":"segment fetch failed"`)

	assert.Same(t, logger, WithError(logger, nil))
}

func TestSensitiveAttributeRedaction(t *testing.T) {
	tests := []struct {
		fieldName string
		value     string
	}{
		{"password", "secret123"},
		{"Password", "MyP@ssw0rd"},
		{"token", "jwt-token-abc"},
		{"ApiKey", "AK_67890"},
		{"api_key", "api-key-value"},
		{"credential", "cred-abc"},
	}

	for _, tt := range tests {
		t.Run(tt.fieldName, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
			logger.Info("test message", slog.String(tt.fieldName, tt.value))

			assert.NotContains(t, buf.String(), tt.value)
			assert.Contains(t, buf.String(), redactedValue)
		})
	}
}

func TestSensitiveAttributeRedaction_Group(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("login", slog.Group("credentials",
		slog.String("username", "admin"),
		slog.String("password", "secret123"),
	))

	assert.Contains(t, buf.String(), "admin")
	assert.NotContains(t, buf.String(), "secret123")
}

func TestURLParameterRedaction(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		sensitive string
		param     string
	}{
		{"signed segment", "https://cdn.example.com/v/seg_12.m4s?token=abc123xyz&exp=99", "abc123xyz", "token"},
		{"encoded value", "https://cdn.example.com/master.m3u8?sig=%2A%2A%2A&x=1", "%2A%2A%2A", "sig"},
		{"case insensitive", "https://cdn.example.com/a.ts?PASSWORD=MySecret&user=test", "MySecret", "PASSWORD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
			logger.Info("segment fetched", slog.String("uri", tt.url))

			assert.NotContains(t, buf.String(), tt.sensitive)
			assert.Contains(t, buf.String(), tt.param+"="+redactedValue)
		})
	}
}

func TestURLParameterRedaction_ConfiguredKeys(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json", Redact: []string{"hdnts"}}
	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("manifest", slog.String("uri", "https://cdn.example.com/x.mpd?hdnts=exp~1&token=visible"))

	assert.Contains(t, buf.String(), "hdnts="+redactedValue)
	assert.Contains(t, buf.String(), "token=visible")
}

func TestURLParameterRedaction_PreservesNonSensitiveURL(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("request", slog.String("uri", "https://cdn.example.com/seg.ts?session=john&bitrate=800"))

	assert.Contains(t, buf.String(), "session=john")
	assert.Contains(t, buf.String(), "bitrate=800")
	assert.NotContains(t, buf.String(), redactedValue)
}

type dbSettings struct {
	Driver string
	DSN    string
}

func TestStructFieldRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("store opened", slog.Any("database", dbSettings{Driver: "postgres", DSN: "postgres://u:hunter2@db/abr"}))

	assert.Contains(t, buf.String(), "postgres")
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RequestIDFromContext(ctx))
	assert.Equal(t, slog.Default(), LoggerFromContext(ctx))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx = ContextWithLogger(ContextWithRequestID(ctx, "req-1"), logger)
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Same(t, logger, LoggerFromContext(ctx))
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	var err error
	done := TimedOperation(context.Background(), logger, "load_manifest", &err)
	err = errors.New("404")
	done()

	assert.Contains(t, buf.String(), "operation failed")
	assert.Contains(t, buf.String(), `"operation":"load_manifest"`)
}
