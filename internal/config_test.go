package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/pkg/config"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != string(auth.ModeDisabled) {
		t.Errorf("mode = %q, want %q", cfg.Mode, auth.ModeDisabled)
	}
}

func TestAuthConfig_Modes(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AuthConfig
		wantErr bool
	}{
		{"token valid", AuthConfig{Mode: "token", Token: "secret", TokenUID: "admin"}, false},
		{"token missing token", AuthConfig{Mode: "token", TokenUID: "admin"}, true},
		{"token missing uid", AuthConfig{Mode: "token", Token: "secret"}, true},
		{"jwt valid", AuthConfig{Mode: "jwt", JWTSecret: strings.Repeat("k", 32)}, false},
		{"jwt short secret", AuthConfig{Mode: "jwt", JWTSecret: "short"}, true},
		{"jwks valid", AuthConfig{Mode: "jwks", JWKSURL: "https://example.com/.well-known/jwks.json"}, false},
		{"jwks missing url", AuthConfig{Mode: "jwks"}, true},
		{"unknown mode", AuthConfig{Mode: "magic"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthConfig_Verifier(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "t", TokenUID: "u"}
	v := cfg.Verifier()
	if v.Mode != auth.ModeToken || v.Token != "t" || v.TokenUID != "u" {
		t.Errorf("Verifier() = %+v", v)
	}
}

func TestSocialConfig_CronValidation(t *testing.T) {
	cfg := NewDefaultConfig().Social
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default schedules should validate: %v", err)
	}
	cfg.PostSchedule = "every tuesday"
	if err := cfg.Validate(); err == nil {
		t.Error("invalid cron expression should fail")
	}
}

func TestMailConfig_FromRequiredWithHost(t *testing.T) {
	cfg := MailConfig{Host: "smtp.example.com", Port: 587}
	if err := cfg.Validate(); err == nil {
		t.Error("host without from should fail")
	}
	cfg.From = "noreply@example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete mail config should pass: %v", err)
	}
}

func TestObjectStoreConfig(t *testing.T) {
	var empty ObjectStoreConfig
	if err := empty.Validate(); err != nil {
		t.Errorf("unconfigured object store should pass: %v", err)
	}
	partial := ObjectStoreConfig{Endpoint: "localhost:9000"}
	if err := partial.Validate(); err == nil {
		t.Error("endpoint without credentials should fail")
	}
}

func TestFullConfig_SectionErrorNamed(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
	if !strings.HasPrefix(err.Error(), "auth:") {
		t.Errorf("error should name the section: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("COMPENDIUM_TEST_KEY", "sk-test")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
sqlite:
  path: /tmp/c.db
site:
  base_url: https://compendium.example.com
  admin_email: admin@example.com
openai:
  api_key: ${COMPENDIUM_TEST_KEY}
embedding:
  reindex_timeout: 5m
permissions:
  signed_in_domain:
    remoteAI: true
ai:
  requests_per_minute: 10
  burst: 2
triggers:
  workers: 2
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := config.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTP.Address() != ":9090" {
		t.Errorf("address = %q", cfg.App.HTTP.Address())
	}
	if cfg.OpenAI.APIKey != "sk-test" || !cfg.OpenAI.Configured() {
		t.Errorf("api key = %q", cfg.OpenAI.APIKey)
	}
	if cfg.Embedding.ReindexTimeout != 5*time.Minute {
		t.Errorf("reindex timeout = %v", cfg.Embedding.ReindexTimeout)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o-mini" {
		t.Errorf("default chat model lost: %q", cfg.OpenAI.ChatModel)
	}
	tiers := cfg.Permissions.Tiers("example.com")
	if !tiers.SignedInDomain[models.PermissionRemoteAI] || tiers.Domain != "example.com" {
		t.Errorf("tiers = %+v", tiers)
	}
}
