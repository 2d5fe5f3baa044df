package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("debug"))
	require.Equal(t, slog.LevelWarn, parseLevel("warn"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel("info"))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
	require.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestOutputHandlerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(outputHandler(&buf, "json", slog.LevelWarn))

	logger.Info("dropped")
	logger.Warn("kept", slog.String("k", "v"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "kept", record["msg"])
	require.Equal(t, "v", record["k"])
}

func TestWithRequestIDStampsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(outputHandler(&buf, "json", slog.LevelInfo))}

	logger.WithRequestID("req-123").Info("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "req-123", record["request_id"])
}

func TestTeeHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(tee(
		outputHandler(&a, "json", slog.LevelInfo),
		outputHandler(&b, "json", slog.LevelError),
	))

	logger.Info("only a")
	logger.Error("both")

	require.Contains(t, a.String(), "only a")
	require.Contains(t, a.String(), "both")
	require.NotContains(t, b.String(), "only a")
	require.Contains(t, b.String(), "both")
}

func TestContextRoundTrip(t *testing.T) {
	base := &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestIDContext(ctx, "req-456")

	require.Same(t, base, FromContext(ctx))
	require.Equal(t, "req-456", GetRequestID(ctx))

	// A bare context yields the process default and no request ID.
	require.NotNil(t, FromContext(context.Background()).Logger)
	require.Equal(t, "", GetRequestID(context.Background()))
}
