package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestLogger_RedactsHandshakeToken(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/ws?token=eyJhbGciOiJIUzI1NiJ9.secret", nil)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	logged := buf.String()
	assert.Contains(t, logged, "REDACTED")
	assert.NotContains(t, logged, "eyJhbGciOiJIUzI1NiJ9.secret")
}

func TestRequestLogger_StatusLevels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{name: "success logs info", status: http.StatusOK, level: "INFO"},
		{name: "client error logs warn", status: http.StatusNotFound, level: "WARN"},
		{name: "server error logs error", status: http.StatusInternalServerError, level: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Contains(t, buf.String(), tt.level)
		})
	}
}
