// Package screenshot produces social-preview images of cards.
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/microcosm-cc/bluemonday"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/metrics"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/slugs"
)

const pageTemplate = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><style>
body{margin:0;padding:48px;font-family:Georgia,serif;background:#fdfbf7;color:#222;overflow:hidden}
h1{font-size:56px;margin:0 0 12px}
h2{font-size:28px;font-weight:normal;color:#555;margin:0 0 24px}
.body{font-size:24px;line-height:1.4}
</style></head><body>
<h1>{{.Title}}</h1>{{if .Subtitle}}<h2>{{.Subtitle}}</h2>{{end}}
<div class="body">{{.Body}}</div>
</body></html>`

var page = template.Must(template.New("card").Parse(pageTemplate))

type pageData struct {
	Title    string
	Subtitle string
	Body     template.HTML
}

// Service renders and caches card screenshots.
type Service struct {
	store    *docstore.Store
	renderer Renderer
	cache    Cache
	policy   *bluemonday.Policy
	width    int
	height   int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewService creates a Service. cache may be nil to render every time.
func NewService(store *docstore.Store, renderer Renderer, cache Cache, width, height int, logger *slog.Logger, m *metrics.Metrics) *Service {
	if width <= 0 || height <= 0 {
		width, height = 1200, 628
	}
	return &Service{
		store:    store,
		renderer: renderer,
		cache:    cache,
		policy:   bluemonday.UGCPolicy(),
		width:    width,
		height:   height,
		logger:   logger,
		metrics:  m,
	}
}

// Key names the cached image of card. It changes whenever the card does.
func Key(card *models.Card) string {
	return fmt.Sprintf("screenshots/%s-%d.png", card.ID, card.Updated.Unix())
}

// BySlug returns the PNG screenshot of the card with the given slug or id.
func (s *Service) BySlug(ctx context.Context, slug string) ([]byte, error) {
	card, err := slugs.Resolve(ctx, s.store, slug)
	if err != nil {
		return nil, err
	}
	key := Key(card)

	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("screenshot cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		} else if ok {
			s.count("hit")
			return data, nil
		}
	}

	html, err := s.Page(card)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.Render(ctx, html, s.width, s.height)
	if err != nil {
		s.count("error")
		return nil, fmt.Errorf("screenshot: render %s: %w", card.ID, err)
	}
	s.count("miss")

	if s.cache != nil {
		if err := s.cache.Put(ctx, key, data); err != nil {
			s.logger.Warn("screenshot cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return data, nil
}

// Page returns the HTML document rendered for card.
func (s *Service) Page(card *models.Card) (string, error) {
	var buf bytes.Buffer
	err := page.Execute(&buf, pageData{
		Title:    card.Title,
		Subtitle: card.Subtitle,
		Body:     template.HTML(s.policy.Sanitize(card.Body)),
	})
	if err != nil {
		return "", fmt.Errorf("screenshot: page for %s: %w", card.ID, err)
	}
	return buf.String(), nil
}

func (s *Service) count(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Screenshots.WithLabelValues(outcome).Inc()
}
