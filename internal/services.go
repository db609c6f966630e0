package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"

	"github.com/starford/compendium/internal/aiproxy"
	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/cardservice"
	"github.com/starford/compendium/internal/chat"
	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/embedding"
	"github.com/starford/compendium/internal/index"
	"github.com/starford/compendium/internal/linkgraph"
	"github.com/starford/compendium/internal/metrics"
	"github.com/starford/compendium/internal/notify"
	"github.com/starford/compendium/internal/permissions"
	"github.com/starford/compendium/internal/screenshot"
	"github.com/starford/compendium/internal/tweets"
)

var (
	stdout            = os.Stdout
	errConfigRequired = errors.New("config is required")
)

// services holds every long-lived component built from the configuration.
// Optional components are nil when their feature is not configured.
type services struct {
	logger  *slog.Logger
	store   *docstore.Store
	metrics *metrics.Metrics
	redis   *redis.Client

	cards       *cardservice.Service
	permissions *permissions.Resolver
	verifier    auth.Verifier
	links       *linkgraph.Maintainer
	index       *index.DB
	indexer     *index.Indexer
	embeddings  *embedding.Pipeline
	notifier    *notify.Dispatcher
	proxy       *aiproxy.Proxy
	chats       *chat.Service
	screenshots *screenshot.Service
	tweets      *tweets.Service
}

func newServices(ctx context.Context, cfg *Config, logger *slog.Logger) (*services, error) {
	store, err := docstore.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &services{
		logger:  logger,
		store:   store,
		metrics: metrics.New(),
		cards:   cardservice.NewService(store),
		links:   linkgraph.New(store, logger),
	}
	s.index, err = index.Open(cfg.SQLite.Path)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}
	s.indexer = index.NewIndexer(s.index, store, logger)
	s.permissions = permissions.NewResolver(store, cfg.Permissions.Tiers(cfg.Auth.AllowedDomain))

	s.verifier, err = auth.NewVerifier(ctx, cfg.Auth.Verifier(), logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	var client *openai.Client
	if cfg.OpenAI.Configured() {
		oc := openai.DefaultConfig(cfg.OpenAI.APIKey)
		if cfg.OpenAI.BaseURL != "" {
			oc.BaseURL = cfg.OpenAI.BaseURL
		}
		client = openai.NewClientWithConfig(oc)
	} else {
		logger.Warn("openai api key not set, AI proxy and embeddings disabled")
	}

	if client != nil && cfg.Embedding.Enabled {
		s.embeddings = embedding.NewPipeline(store, embedding.NewOpenAIEmbedder(client), logger,
			embedding.WithMetrics(s.metrics),
			embedding.WithReindexTimeout(cfg.Embedding.ReindexTimeout))
	}

	mailer := notify.NewSMTPMailer(cfg.Mail.Mailer())
	s.notifier = notify.New(store, mailer, cfg.Site.BaseURL, cfg.Site.AdminEmail, logger, s.metrics)

	limiter := aiproxy.NewKeyedRateLimiter(cfg.AI.RequestsPerMinute, cfg.AI.Burst)
	s.proxy = aiproxy.NewProxy(aiproxy.NewGate(s.permissions), client, limiter, cfg.OpenAI.ChatModel, logger, s.metrics)
	s.chats = chat.NewService(store, s.proxy, logger)

	if cfg.Screenshot.Enabled {
		var cache screenshot.Cache
		if cfg.ObjectStore.Endpoint != "" {
			mc, err := screenshot.NewMinIOCache(ctx, cfg.ObjectStore.Cache())
			if err != nil {
				logger.Warn("screenshot cache unavailable, rendering uncached", slog.String("error", err.Error()))
			} else {
				cache = mc
			}
		}
		renderer := screenshot.ChromeRenderer{Timeout: cfg.Screenshot.Timeout}
		s.screenshots = screenshot.NewService(store, renderer, cache, cfg.Screenshot.Width, cfg.Screenshot.Height, logger, s.metrics)
	}

	var poster tweets.Poster = tweets.LogPoster{Logger: logger}
	if cfg.Social.BearerToken != "" {
		poster = tweets.NewTwitterPoster(ctx, cfg.Social.APIBaseURL, cfg.Social.BearerToken)
	}
	s.tweets = tweets.NewService(store, poster, cfg.Site.BaseURL, logger, s.metrics)

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		s.redis = redis.NewClient(opt)
	}

	return s, nil
}

// locker returns the scheduler lock, or nil when Redis is not configured.
func (s *services) locker() tweets.Locker {
	if s.redis == nil {
		return nil
	}
	return tweets.NewRedisLocker(s.redis)
}

// Close releases the store, the index and the Redis connection.
func (s *services) Close() {
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.logger.Warn("close index", slog.String("error", err.Error()))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("close redis", slog.String("error", err.Error()))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("close store", slog.String("error", err.Error()))
	}
}
