package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Orchestrator.ConfirmationThreshold != 0.7 {
		t.Fatalf("expected default confirmationThreshold 0.7, got %v", cfg.Orchestrator.ConfirmationThreshold)
	}
	if _, ok := cfg.Dependencies[DepClassifier]; !ok {
		t.Fatal("expected default classifier dependency config")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{"orchestrator": {"maxQueuedTurns": 2}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Orchestrator.MaxQueuedTurns != 2 {
		t.Fatalf("override not applied: %d", cfg.Orchestrator.MaxQueuedTurns)
	}
	// untouched defaults survive
	if cfg.Orchestrator.MaxNoMatchBeforeHandoff != 3 {
		t.Fatalf("default clobbered: %d", cfg.Orchestrator.MaxNoMatchBeforeHandoff)
	}
}

func TestLoad_InvalidRejected(t *testing.T) {
	path := writeConfig(t, `{"orchestrator": {"confidenceFloor": 0.9, "confirmationThreshold": 0.5}}`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for floor > threshold")
	}
	if !strings.Contains(err.Error(), "confidenceFloor") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExpandEnvVars_SetAndDefault(t *testing.T) {
	t.Setenv("DESKBOT_TEST_SECRET", "s3cret")

	out := ExpandEnvVars(`{"a": "${DESKBOT_TEST_SECRET}", "b": "${DESKBOT_MISSING:-fallback}"}`)
	if !strings.Contains(out, "s3cret") {
		t.Fatalf("env var not expanded: %s", out)
	}
	if !strings.Contains(out, "fallback") {
		t.Fatalf("default not applied: %s", out)
	}
}

func TestExpandEnvVars_UnsetKept(t *testing.T) {
	out := ExpandEnvVars(`"${DESKBOT_DEFINITELY_UNSET}"`)
	if out != `"${DESKBOT_DEFINITELY_UNSET}"` {
		t.Fatalf("unset var without default should be kept, got %s", out)
	}
}

func TestValidate_DependencyBounds(t *testing.T) {
	cfg := Defaults()
	dep := cfg.Dependencies[DepTicket]
	dep.MaxResetTimeoutMs = dep.ResetTimeoutMs - 1
	cfg.Dependencies[DepTicket] = dep

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxResetTimeoutMs < resetTimeoutMs")
	}
}

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	v, err := GetByPath(cfg, "orchestrator.maxSlotRetries")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.(float64) != 2 {
		t.Fatalf("expected 2, got %v", v)
	}

	if _, err := GetByPath(cfg, "orchestrator.nope"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSetByPath_ValidatesResult(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "orchestrator.maxQueuedTurns", "16"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Orchestrator.MaxQueuedTurns != 16 {
		t.Fatalf("set not applied: %d", cfg.Orchestrator.MaxQueuedTurns)
	}

	// An invalid value must be rejected and leave the config untouched.
	if err := SetByPath(cfg, "orchestrator.maxQueuedTurns", "0"); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg.Orchestrator.MaxQueuedTurns != 16 {
		t.Fatalf("config mutated despite validation failure: %d", cfg.Orchestrator.MaxQueuedTurns)
	}
}

func TestSanitize_MasksSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.HMACSecret = "super-secret-value"
	masked := Sanitize(cfg)
	if masked.Gateway.HMACSecret == cfg.Gateway.HMACSecret {
		t.Fatal("secret not masked")
	}
	if cfg.Gateway.HMACSecret != "super-secret-value" {
		t.Fatal("original config mutated")
	}
}
