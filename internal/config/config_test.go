package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"veil/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for absent config")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if cfg.Processing.Mode != "hybrid" {
		t.Fatalf("expected default mode hybrid, got %q", cfg.Processing.Mode)
	}
	if cfg.Workflow.WorkerCount != 2 {
		t.Fatalf("expected default worker count 2, got %d", cfg.Workflow.WorkerCount)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veil.toml")
	content := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"

[processing]
mode = "Server"
default_quality = "HIGH"

[remote_engine]
url = "http://127.0.0.1:9000"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Processing.Mode != "server" {
		t.Fatalf("expected normalized mode server, got %q", cfg.Processing.Mode)
	}
	if cfg.Processing.DefaultQuality != "high" {
		t.Fatalf("expected normalized quality high, got %q", cfg.Processing.DefaultQuality)
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veil.toml")
	if err := os.WriteFile(path, []byte("[processing]\nmode = \"turbo\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "processing.mode") {
		t.Fatalf("expected processing.mode error, got %v", err)
	}
}

func TestServerModeRequiresRemoteURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veil.toml")
	if err := os.WriteFile(path, []byte("[processing]\nmode = \"server\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "remote_engine.url") {
		t.Fatalf("expected remote_engine.url error, got %v", err)
	}
}

func TestCloudTranscriptionRequiresKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veil.toml")
	content := "[transcription]\nprovider = \"cloud\"\nbase_url = \"http://127.0.0.1:9000\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "transcription.api_key") {
		t.Fatalf("expected transcription.api_key error, got %v", err)
	}

	t.Setenv("VEIL_TRANSCRIPTION_API_KEY", "env-key")
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load with env key: %v", err)
	}
	if cfg.Transcription.APIKey != "env-key" {
		t.Fatalf("expected env key applied, got %q", cfg.Transcription.APIKey)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[face_blur]") {
		t.Fatal("expected sample to document the face_blur section")
	}
}
