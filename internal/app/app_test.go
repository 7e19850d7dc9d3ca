package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if cfg.DatabaseURL != unreachableDatabaseURL {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, unreachableDatabaseURL)
	}

	// Verify that slog global logger is configured for JSON output
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Default().Info("suppressed")
	if strings.Contains(buf.String(), "suppressed") {
		t.Errorf("info log should be suppressed at warn level, got: %s", buf.String())
	}

	slog.Default().Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("warn log should be written at warn level, got: %s", buf.String())
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	clearRequiredEnv(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"long url is truncated", "postgres://user:secret@db:5432/expensetracker", "postgres://u***@..."},
		{"short url is fully masked", "postgres://x", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maskDatabaseURL(tt.url)
			if got != tt.want {
				t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
			if strings.Contains(got, "secret") {
				t.Errorf("masked url should not contain password: %q", got)
			}
		})
	}
}
