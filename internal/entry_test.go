package internal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

)

func testOptions(t *testing.T) []Option {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "compendium.db")
	return []Option{
		WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); !errors.Is(err, errConfigRequired) {
		t.Errorf("Run() error = %v, want errConfigRequired", err)
	}
}

func TestNewServicesOptionalFeatures(t *testing.T) {
	app, err := newApplication(testOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	svc, err := newServices(context.Background(), app.config, app.logger)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if svc.embeddings != nil {
		t.Error("embeddings should be disabled without an API key")
	}
	if svc.screenshots != nil {
		t.Error("screenshots should be disabled by default")
	}
	if svc.verifier != nil {
		t.Error("disabled auth should have no verifier")
	}
	if svc.locker() != nil {
		t.Error("locker should be nil without redis")
	}
	if svc.tweets == nil || svc.proxy == nil || svc.chats == nil {
		t.Error("core services should always be built")
	}
}

func TestNewServicesRedis(t *testing.T) {
	opts := testOptions(t)
	app, _ := newApplication(opts)
	app.config.Redis.URL = "redis://localhost:6379/0"
	svc, err := newServices(context.Background(), app.config, app.logger)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()
	if svc.locker() == nil {
		t.Error("locker should be set when redis is configured")
	}

	app.config.Redis.URL = "not a url"
	if _, err := newServices(context.Background(), app.config, app.logger); err == nil {
		t.Error("invalid redis url should fail")
	}
}

func TestEmbeddingCommandsDisabled(t *testing.T) {
	if _, err := ReindexEmbeddings(context.Background(), testOptions(t)...); !errors.Is(err, errEmbeddingsDisabled) {
		t.Errorf("ReindexEmbeddings() error = %v", err)
	}
	if _, err := CleanupEmbeddings(context.Background(), []int{0}, testOptions(t)...); !errors.Is(err, errEmbeddingsDisabled) {
		t.Errorf("CleanupEmbeddings() error = %v", err)
	}
}

func TestPostTweetNothingEligible(t *testing.T) {
	tweet, err := PostTweet(context.Background(), testOptions(t)...)
	if err != nil {
		t.Fatal(err)
	}
	if tweet != nil {
		t.Errorf("tweet = %+v, want nil on an empty store", tweet)
	}
}

