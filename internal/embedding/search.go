package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
)

// Match is a card ranked by similarity.
type Match struct {
	CardID string  `json:"card_id"`
	Score  float64 `json:"score"`
}

// SemanticSort embeds query and orders cardIDs by similarity to it, most
// similar first. Cards without a current vector keep their relative order at
// the end.
func (p *Pipeline) SemanticSort(ctx context.Context, query string, cardIDs []string) ([]Match, error) {
	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding: embed query: %w", err)
	}

	scored := make([]Match, 0, len(cardIDs))
	var missing []Match
	for _, id := range cardIDs {
		vec, err := p.vector(ctx, id)
		if err != nil {
			return nil, err
		}
		if vec == nil {
			missing = append(missing, Match{CardID: id})
			continue
		}
		scored = append(scored, Match{CardID: id, Score: Cosine(queryVec, vec)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return append(scored, missing...), nil
}

// Search embeds query and returns the limit most similar cards.
func (p *Pipeline) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding: embed query: %w", err)
	}
	return p.nearest(ctx, queryVec, "", limit)
}

// Similar returns the limit cards nearest to cardID's stored vector. A card
// without a vector has no similar cards.
func (p *Pipeline) Similar(ctx context.Context, cardID string, limit int) ([]Match, error) {
	vec, err := p.vector(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return []Match{}, nil
	}
	return p.nearest(ctx, vec, cardID, limit)
}

func (p *Pipeline) vector(ctx context.Context, cardID string) ([]float32, error) {
	snap, err := p.store.Get(ctx, models.CollectionEmbeddingVectors, Key(cardID, p.embeddingType, p.version))
	if err != nil {
		return nil, fmt.Errorf("embedding: load vector %s: %w", cardID, err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	var v Vector
	if err := snap.DataTo(&v); err != nil {
		return nil, err
	}
	return v.Vector, nil
}

func (p *Pipeline) nearest(ctx context.Context, target []float32, exclude string, limit int) ([]Match, error) {
	vectors, err := docstore.QueryAs[Vector](ctx, p.store, models.CollectionEmbeddingVectors,
		docstore.Where("embedding_type", "==", p.embeddingType),
		docstore.Where("version", "==", p.version))
	if err != nil {
		return nil, fmt.Errorf("embedding: list vectors: %w", err)
	}
	matches := make([]Match, 0, len(vectors))
	for _, v := range vectors {
		if v.Card == exclude {
			continue
		}
		matches = append(matches, Match{CardID: v.Card, Score: Cosine(target, v.Vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
