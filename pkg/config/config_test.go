package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testConfig struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (c *testConfig) Validate() error {
	if c.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_SERVICE_NAME", "tracker")

	cfg := &testConfig{Port: 8080}
	path := writeFile(t, "name: ${TEST_SERVICE_NAME}\nport: 9090\n")
	if err := Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "tracker" {
		t.Errorf("name = %q, want %q", cfg.Name, "tracker")
	}
	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
}

func TestLoadRunsValidation(t *testing.T) {
	cfg := &testConfig{}
	path := writeFile(t, "name: x\nport: -1\n")
	err := Load(path, cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "port must be positive") {
		t.Errorf("error = %v, want validation message", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg := &testConfig{Port: 8080}
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml"), cfg); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadIfPresentMissingFileKeepsDefaults(t *testing.T) {
	cfg := &testConfig{Name: "default", Port: 8080}
	if err := LoadIfPresent(filepath.Join(t.TempDir(), "absent.yaml"), cfg); err != nil {
		t.Fatalf("LoadIfPresent: %v", err)
	}
	if cfg.Name != "default" || cfg.Port != 8080 {
		t.Errorf("defaults clobbered: %+v", cfg)
	}
}

func TestLoadIfPresentStillValidatesDefaults(t *testing.T) {
	cfg := &testConfig{}
	if err := LoadIfPresent(filepath.Join(t.TempDir(), "absent.yaml"), cfg); err == nil {
		t.Fatal("expected validation error for invalid defaults")
	}
}

func TestLoadIfPresentReadsExistingFile(t *testing.T) {
	cfg := &testConfig{Port: 8080}
	path := writeFile(t, "name: from-file\n")
	if err := LoadIfPresent(path, cfg); err != nil {
		t.Fatalf("LoadIfPresent: %v", err)
	}
	if cfg.Name != "from-file" {
		t.Errorf("name = %q, want %q", cfg.Name, "from-file")
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want default 8080 preserved", cfg.Port)
	}
}
