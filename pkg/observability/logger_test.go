package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/coachdeck/coachdeck/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerLevels(t *testing.T) {
	t.Run("info level suppresses debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)

		logger.Debug("hidden")
		assert.Empty(t, buf.String())

		logger.Info("visible")
		entry := parseLogLine(t, &buf)
		assert.Equal(t, "visible", entry["msg"])
		assert.Equal(t, "INFO", entry["level"])
	})

	t.Run("error level suppresses warn", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(ErrorLevel, &buf)

		logger.Warn("hidden")
		assert.Empty(t, buf.String())

		logger.Errorf("boom %d", 42)
		entry := parseLogLine(t, &buf)
		assert.Equal(t, "boom 42", entry["msg"])
	})
}

func TestLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("tier", "gym").WithAccount(7).Info("subscription created")

	entry := parseLogLine(t, &buf)
	assert.Equal(t, "gym", entry["tier"])
	assert.Equal(t, float64(7), entry["account_id"])
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"reason": "capacity_exceeded",
		"limit":  10,
	}).Warn("account restricted")

	entry := parseLogLine(t, &buf)
	assert.Equal(t, "capacity_exceeded", entry["reason"])
	assert.Equal(t, float64(10), entry["limit"])
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("card declined")).Error("payment failed")
	entry := parseLogLine(t, &buf)
	assert.Equal(t, "card declined", entry["error"])

	// nil error is a no-op
	buf.Reset()
	logger.WithError(nil).Info("ok")
	entry = parseLogLine(t, &buf)
	_, hasErr := entry["error"]
	assert.False(t, hasErr)
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), base)
	ctx = contextkeys.WithRequestID(ctx, "req-123")
	ctx = contextkeys.WithAccountID(ctx, 42)

	FromContext(ctx).Info("handled")

	entry := parseLogLine(t, &buf)
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, float64(42), entry["account_id"])
}

func TestGetLoggerFallback(t *testing.T) {
	// A context without a logger still yields a usable logger.
	logger := GetLogger(context.Background())
	require.NotNil(t, logger)
}
