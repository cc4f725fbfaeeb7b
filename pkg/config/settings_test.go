package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "validio.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSettings(t *testing.T) {
	path := writeSettings(t, `
endpoint: https://validio.example.com
api_key: from-file
namespace: analytics
timeout: 10s
state_path: /tmp/validio.db
lease:
  redis_addr: localhost:6379
  ttl: 2m
policy:
  paths: [policies/]
telemetry:
  logging:
    level: debug
`)
	t.Setenv(EnvAPIKey, "")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error: %v", err)
	}

	if s.Endpoint != "https://validio.example.com" || s.Namespace != "analytics" {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v", s.Timeout)
	}
	if s.Lease.RedisAddr != "localhost:6379" || s.LeaseTTL() != 2*time.Minute {
		t.Errorf("unexpected lease %+v", s.Lease)
	}
	if len(s.Policy.Paths) != 1 {
		t.Errorf("Policy.Paths = %v", s.Policy.Paths)
	}
	if s.Telemetry.Logging.Level != "debug" || s.Telemetry.Logging.Format != "console" {
		t.Errorf("telemetry defaults not merged: %+v", s.Telemetry.Logging)
	}
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	path := writeSettings(t, "api_key: from-file\nnamespace: analytics\n")
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvNamespace, "staging")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error: %v", err)
	}
	if s.APIKey != "from-env" || s.Namespace != "staging" {
		t.Errorf("env not applied: key=%q namespace=%q", s.APIKey, s.Namespace)
	}
}

func TestLoadSettings_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing api key", "namespace: analytics\n", "api_key: is required (set VALIDIO_API_KEY)"},
		{"bad endpoint", "api_key: k\nendpoint: not a url\n", "endpoint"},
		{"bad namespace", "api_key: k\nnamespace: has space\n", "namespace"},
		{"bad redis addr", "api_key: k\nlease:\n  redis_addr: nowhere\n", "lease.redis_addr"},
		{"unknown field", "api_key: k\ncolour: red\n", "colour"},
		{"bad log level", "api_key: k\ntelemetry:\n  logging:\n    level: loud\n", "telemetry.logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvAPIKey, "")
			_, err := LoadSettings(writeSettings(t, tt.content))
			if err == nil {
				t.Fatal("LoadSettings() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSettings_MissingExplicitFile(t *testing.T) {
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadSettings() should fail for a missing explicit file")
	}
}

func TestLoadSettings_SecretNotInError(t *testing.T) {
	_, err := LoadSettings(writeSettings(t, "api_key: super-secret-key\nendpoint: nope\n"))
	if err == nil {
		t.Fatal("LoadSettings() should fail")
	}
	if strings.Contains(err.Error(), "super-secret-key") {
		t.Errorf("error leaks the api key: %v", err)
	}
}
