package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/compendium/internal"
	pkgconfig "github.com/starford/compendium/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func options(cmd *cli.Command, extra ...internal.Option) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return append([]internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, extra...), nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	// stdout carries the protocol; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	opts, err := options(cmd, internal.WithLogger(logger))
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func reindexEmbeddings(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	report, err := internal.ReindexEmbeddings(ctx, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "reindexed %d cards, %d failed\n", report.Cards, report.Failed)
	return nil
}

func cleanupEmbeddings(ctx context.Context, cmd *cli.Command) error {
	versions, err := parseVersions(cmd.String("versions"))
	if err != nil {
		return err
	}
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	deleted, err := internal.CleanupEmbeddings(ctx, versions, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "deleted %d embeddings for versions %v\n", deleted, versions)
	return nil
}

func postTweet(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	tweet, err := internal.PostTweet(ctx, opts...)
	if err != nil {
		return err
	}
	out := cmd.Root().Writer
	if tweet == nil {
		fmt.Fprintln(out, "no card eligible for posting")
		return nil
	}
	fmt.Fprintf(out, "posted %s for card %s: %s\n", tweet.TweetID, tweet.Card, tweet.Text)
	return nil
}

// parseVersions parses a comma-separated list of embedding versions.
func parseVersions(s string) ([]int, error) {
	var versions []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q", part)
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("no versions given")
	}
	return versions, nil
}

func newCommand(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "compendium",
		Usage:   "Card and wiki backend with link graph, semantic search and AI proxy",
		Version: version,
		Writer:  w,
		Action:  run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: runMCP,
			},
			{
				Name:   "reindex-embeddings",
				Usage:  "Recompute embeddings for every card",
				Action: reindexEmbeddings,
			},
			{
				Name:  "cleanup-embeddings",
				Usage: "Delete embeddings stored under old versions",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "versions",
						Usage: "Comma-separated versions to delete",
						Value: "0",
					},
				},
				Action: cleanupEmbeddings,
			},
			{
				Name:   "post-tweet",
				Usage:  "Post the best-ranked card once",
				Action: postTweet,
			},
		},
	}
}

func main() {
	if err := newCommand(os.Stdout).Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
