package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
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

func TestLoadExpandsEnvOverDefaults(t *testing.T) {
	t.Setenv("SAMPLE_TOKEN", "s3cret")
	path := writeFile(t, "port: 9000\ntoken: ${SAMPLE_TOKEN}\n")

	cfg := sample{Name: "default", Port: 1}
	if err := Load(path, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "default" || cfg.Port != 9000 || cfg.Token != "s3cret" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadValidates(t *testing.T) {
	path := writeFile(t, "port: 0\n")
	cfg := sample{}
	err := Load(path, &cfg)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("Load() error = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg := sample{Port: 1}
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err == nil {
		t.Error("Load should fail for a missing file")
	}
}

func TestLoadOptional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	cfg := sample{Port: 8080}
	if err := LoadOptional(missing, &cfg); err != nil {
		t.Fatalf("missing file with valid defaults: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("defaults changed: %+v", cfg)
	}

	bad := sample{}
	if err := LoadOptional(missing, &bad); err == nil {
		t.Error("invalid defaults should still fail validation")
	}

	path := writeFile(t, "port: 7000\n")
	if err := LoadOptional(path, &cfg); err != nil || cfg.Port != 7000 {
		t.Errorf("present file: cfg = %+v, err = %v", cfg, err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeFile(t, "port: [unclosed\n")
	cfg := sample{Port: 1}
	if err := Load(path, &cfg); err == nil {
		t.Error("invalid YAML should fail")
	}
}
