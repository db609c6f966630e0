package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/compendium/internal/embedding"
	"github.com/starford/compendium/internal/mcpserver"
	"github.com/starford/compendium/internal/models"
)

var errEmbeddingsDisabled = errors.New("embeddings are disabled: set openai.api_key and embedding.enabled")

// withServices builds the services for a one-shot command and closes them
// when fn returns.
func withServices(ctx context.Context, opts []Option, fn func(*application, *services) error) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(app.logger)
	svc, err := newServices(ctx, app.config, app.logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(app, svc)
}

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	return withServices(ctx, opts, func(app *application, svc *services) error {
		if _, err := svc.indexer.Rebuild(ctx); err != nil {
			app.logger.Warn("index rebuild failed", slog.String("error", err.Error()))
		}
		app.logger.Info("MCP server starting", slog.String("sqlite_path", app.config.SQLite.Path))
		return mcpserver.New(svc.cards, svc.embeddings, svc.index, app.version).ServeStdio()
	})
}

// ReindexEmbeddings recomputes the embeddings of every card.
func ReindexEmbeddings(ctx context.Context, opts ...Option) (embedding.ReindexReport, error) {
	var report embedding.ReindexReport
	err := withServices(ctx, opts, func(_ *application, svc *services) error {
		if svc.embeddings == nil {
			return errEmbeddingsDisabled
		}
		var err error
		report, err = svc.embeddings.Reindex(ctx)
		return err
	})
	return report, err
}

// CleanupEmbeddings deletes the embeddings stored under versions.
func CleanupEmbeddings(ctx context.Context, versions []int, opts ...Option) (int, error) {
	var deleted int
	err := withServices(ctx, opts, func(_ *application, svc *services) error {
		if svc.embeddings == nil {
			return errEmbeddingsDisabled
		}
		var err error
		deleted, err = svc.embeddings.Cleanup(ctx, versions)
		return err
	})
	return deleted, err
}

// PostTweet runs one auto-post pass. It returns nil when no card is eligible.
func PostTweet(ctx context.Context, opts ...Option) (*models.Tweet, error) {
	var tweet *models.Tweet
	err := withServices(ctx, opts, func(_ *application, svc *services) error {
		var err error
		tweet, err = svc.tweets.AutoPost(ctx)
		if err != nil {
			return fmt.Errorf("post tweet: %w", err)
		}
		return nil
	})
	return tweet, err
}
