package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/logging"
)

func discardLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestLoggingMiddlewareEchoesRequestID(t *testing.T) {
	var seen string
	handler := LoggingMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/intents", nil)
	req.Header.Set(RequestIDHeader, "caller-supplied")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "caller-supplied", rec.Header().Get(RequestIDHeader))
	require.Equal(t, "caller-supplied", seen)
}

func TestLoggingMiddlewareMintsRequestID(t *testing.T) {
	handler := LoggingMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/intents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	id := rec.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
}

func TestCompletionLevel(t *testing.T) {
	require.Equal(t, slog.LevelInfo, completionLevel(http.StatusOK))
	require.Equal(t, slog.LevelWarn, completionLevel(http.StatusNotFound))
	require.Equal(t, slog.LevelError, completionLevel(http.StatusBadGateway))
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	sr.WriteHeader(http.StatusTeapot)
	sr.WriteHeader(http.StatusOK)
	_, err := sr.Write([]byte("body"))
	require.NoError(t, err)

	require.Equal(t, http.StatusTeapot, sr.status)
	require.Equal(t, http.StatusTeapot, rec.Code)
}
