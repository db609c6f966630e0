package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
)

// ReindexReport summarizes a Reindex run.
type ReindexReport struct {
	Cards  int `json:"cards"`
	Failed int `json:"failed"`
}

// Reindex runs Process over every card, one at a time, under the extended
// reindex deadline. Cards that fail are logged and counted; the run continues.
func (p *Pipeline) Reindex(ctx context.Context) (ReindexReport, error) {
	ctx, cancel := context.WithTimeout(ctx, p.reindexTimeout)
	defer cancel()

	var report ReindexReport
	snaps, err := p.store.Query(ctx, models.CollectionCards)
	if err != nil {
		return report, fmt.Errorf("embedding: list cards: %w", err)
	}
	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("embedding: reindex: %w", err)
		}
		var card models.Card
		if err := snap.DataTo(&card); err != nil {
			return report, err
		}
		card.ID = snap.ID
		report.Cards++
		if err := p.Process(ctx, &card); err != nil {
			report.Failed++
			p.logger.Error("reindex card failed",
				slog.String("card_id", card.ID),
				slog.String("error", err.Error()))
		}
	}
	p.logger.Info("reindex finished", slog.Int("cards", report.Cards), slog.Int("failed", report.Failed))
	return report, nil
}

// Cleanup deletes every embedding record and vector whose version is in
// versions and returns how many records were removed.
func (p *Pipeline) Cleanup(ctx context.Context, versions []int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.reindexTimeout)
	defer cancel()

	deleted := 0
	for _, version := range versions {
		snaps, err := p.store.Query(ctx, models.CollectionEmbeddings, docstore.Where("version", "==", version))
		if err != nil {
			return deleted, fmt.Errorf("embedding: list version %d: %w", version, err)
		}
		if len(snaps) == 0 {
			continue
		}
		batch := p.store.Batch()
		for _, snap := range snaps {
			batch.Delete(models.CollectionEmbeddings, snap.ID)
			batch.Delete(models.CollectionEmbeddingVectors, snap.ID)
		}
		if err := batch.Commit(ctx); err != nil {
			return deleted, fmt.Errorf("embedding: delete version %d: %w", version, err)
		}
		deleted += len(snaps)
		p.logger.Info("embeddings cleaned up", slog.Int("version", version), slog.Int("count", len(snaps)))
	}
	return deleted, nil
}
