// Package embedding keeps a versioned embedding record, and its vector, for
// every card whose text can be embedded.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/metrics"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/triggers"
)

const (
	// TypeOpenAISmall identifies vectors from text-embedding-3-small.
	TypeOpenAISmall = "openai.com-text-embedding-3-small"

	// CurrentVersion is bumped whenever text extraction changes. Records of
	// older versions are removed by Cleanup.
	CurrentVersion = 1
)

// Dimensions maps each embedding type to its vector length.
var Dimensions = map[string]int{
	TypeOpenAISmall: 1536,
}

// ErrDimensionMismatch is returned when the embedder produces a vector of the
// wrong length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Key returns the document id shared by a card's record and vector.
func Key(cardID, embeddingType string, version int) string {
	return cardID + "+" + embeddingType + "+" + strconv.Itoa(version)
}

// Vector is the stored embedding.
type Vector struct {
	Card          string    `json:"card"`
	EmbeddingType string    `json:"embedding_type"`
	Version       int       `json:"version"`
	Vector        []float32 `json:"vector"`
}

// Pipeline reacts to card writes by upserting or deleting embeddings.
type Pipeline struct {
	store    *docstore.Store
	embedder Embedder
	logger   *slog.Logger
	metrics  *metrics.Metrics

	embeddingType  string
	version        int
	reindexTimeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithReindexTimeout sets the deadline of Reindex and Cleanup.
func WithReindexTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.reindexTimeout = d
		}
	}
}

// NewPipeline creates a Pipeline producing TypeOpenAISmall vectors at
// CurrentVersion.
func NewPipeline(store *docstore.Store, embedder Embedder, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:          store,
		embedder:       embedder,
		logger:         logger,
		embeddingType:  TypeOpenAISmall,
		version:        CurrentVersion,
		reindexTimeout: 9 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleChange is the card-write trigger. Changes to one card may be handled
// out of order, so the card is re-read and its current state embedded rather
// than the state carried by the change.
func (p *Pipeline) HandleChange(ctx context.Context, change docstore.Change) error {
	snap, err := p.store.Get(ctx, models.CollectionCards, change.ID)
	if err != nil {
		return fmt.Errorf("embedding: load card %s: %w", change.ID, err)
	}
	if !snap.Exists() {
		return p.Delete(ctx, change.ID)
	}
	var card models.Card
	if err := snap.DataTo(&card); err != nil {
		return err
	}
	card.ID = change.ID
	return p.Process(ctx, &card)
}

// Process brings the card's current-version embedding up to date. The
// external embedder is called only when the extracted text differs from the
// stored snapshot.
func (p *Pipeline) Process(ctx context.Context, card *models.Card) error {
	key := Key(card.ID, p.embeddingType, p.version)
	logger := p.logger.With(slog.String("card_id", card.ID), slog.String("key", key))

	text, err := ExtractText(card)
	if err != nil {
		return err
	}

	existing, err := p.store.Get(ctx, models.CollectionEmbeddings, key)
	if err != nil {
		return fmt.Errorf("embedding: load %s: %w", key, err)
	}
	if existing.Exists() {
		var info models.EmbeddingInfo
		if err := existing.DataTo(&info); err != nil {
			return err
		}
		if info.Text == text {
			p.count("skipped")
			return nil
		}
	}

	if text == "" {
		if !existing.Exists() {
			return nil
		}
		if err := p.deleteKey(ctx, key); err != nil {
			return err
		}
		logger.Info("embedding removed, card has no text")
		p.count("deleted")
		return nil
	}

	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		p.count("error")
		return fmt.Errorf("embedding: card %s: %w", card.ID, err)
	}
	if want := Dimensions[p.embeddingType]; len(vector) != want {
		p.count("error")
		return triggers.Permanent(fmt.Errorf("embedding: card %s: got %d values, want %d: %w",
			card.ID, len(vector), want, ErrDimensionMismatch))
	}

	info := models.EmbeddingInfo{
		Card:          card.ID,
		EmbeddingType: p.embeddingType,
		Version:       p.version,
		Text:          text,
		LastUpdated:   time.Now().UTC(),
	}
	err = p.store.Batch().
		Set(models.CollectionEmbeddings, key, info).
		Set(models.CollectionEmbeddingVectors, key, Vector{
			Card:          card.ID,
			EmbeddingType: p.embeddingType,
			Version:       p.version,
			Vector:        vector,
		}).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("embedding: store %s: %w", key, err)
	}

	logger.Info("embedding updated", slog.Int("text_length", len(text)))
	p.count("embedded")
	return nil
}

// Delete removes the card's current-version record and vector. A card with no
// record is a no-op.
func (p *Pipeline) Delete(ctx context.Context, cardID string) error {
	key := Key(cardID, p.embeddingType, p.version)
	if err := p.deleteKey(ctx, key); err != nil {
		return err
	}
	p.logger.Info("embedding deleted", slog.String("card_id", cardID), slog.String("key", key))
	p.count("deleted")
	return nil
}

func (p *Pipeline) deleteKey(ctx context.Context, key string) error {
	err := p.store.Batch().
		Delete(models.CollectionEmbeddings, key).
		Delete(models.CollectionEmbeddingVectors, key).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("embedding: delete %s: %w", key, err)
	}
	return nil
}

func (p *Pipeline) count(outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Embeddings.WithLabelValues(outcome).Inc()
}
