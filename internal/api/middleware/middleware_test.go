package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/metrics", "/metrics"},
		{"/api/consumptions/42", "/api/consumptions/{id}"},
		{"/api/reference/machines/7/usage", "/api/reference/machines/{id}/usage"},
		{"/static/uploads/machines_3_20260310143000_abcd1234.png", "/static/uploads/{name}"},
		{"/api/backups/fabtrack_manual_20260310_143000.db", "/api/backups/{name}"},
		{"/api/backups/settings", "/api/backups/settings"},
		{"/api/backups/restore", "/api/backups/restore"},
		{"/api/stats/summary", "/api/stats/summary"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.path, got, tt.want)
		}
	}
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte("ok"))
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stats/top", nil))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("лог не JSON: %v (%s)", err, buf.String())
		}
		if entry["level"] != tt.level {
			t.Errorf("status %d: level = %v, ожидается %s", tt.status, entry["level"], tt.level)
		}
		if entry["status"] != float64(tt.status) || entry["bytes"] != float64(2) {
			t.Errorf("status %d: запись лога = %v", tt.status, entry)
		}
	}
}
