package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/starford/compendium/internal/checksum"
	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/embedding"
	"github.com/starford/compendium/internal/models"
)

// Indexer keeps the index in step with the cards collection.
type Indexer struct {
	db     *DB
	store  *docstore.Store
	logger *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(db *DB, store *docstore.Store, logger *slog.Logger) *Indexer {
	return &Indexer{db: db, store: store, logger: logger}
}

// Report counts the work done by Rebuild.
type Report struct {
	Indexed int
	Removed int
}

// HandleChange indexes or removes the card named by a cards change.
func (ix *Indexer) HandleChange(ctx context.Context, change docstore.Change) error {
	if !change.After.Exists() {
		return ix.db.Delete(ctx, change.ID)
	}
	var card models.Card
	if err := change.After.DataTo(&card); err != nil {
		return err
	}
	card.ID = change.ID
	_, err := ix.index(ctx, &card)
	return err
}

// Rebuild walks every card and brings the index up to date:
//   - new/changed cards are upserted
//   - cards no longer in the store are deleted from the index
func (ix *Indexer) Rebuild(ctx context.Context) (Report, error) {
	var report Report
	snaps, err := ix.store.Query(ctx, models.CollectionCards)
	if err != nil {
		return report, fmt.Errorf("index: list cards: %w", err)
	}
	indexed, err := ix.db.Checksums(ctx)
	if err != nil {
		return report, err
	}

	live := make(map[string]struct{}, len(snaps))
	for _, snap := range snaps {
		var card models.Card
		if err := snap.DataTo(&card); err != nil {
			return report, err
		}
		card.ID = snap.ID
		live[card.ID] = struct{}{}
		changed, err := ix.index(ctx, &card)
		if err != nil {
			ix.logger.Warn("index: card failed", slog.String("card_id", card.ID), slog.String("error", err.Error()))
			continue
		}
		if changed {
			report.Indexed++
		}
	}

	// Remove stale entries.
	for id := range indexed {
		if _, ok := live[id]; ok {
			continue
		}
		if err := ix.db.Delete(ctx, id); err != nil {
			ix.logger.Warn("index: delete failed", slog.String("card_id", id), slog.String("error", err.Error()))
			continue
		}
		report.Removed++
	}

	ix.logger.Info("index rebuilt", slog.Int("indexed", report.Indexed), slog.Int("removed", report.Removed))
	return report, nil
}

// index upserts card unless its indexed checksum is unchanged.
func (ix *Indexer) index(ctx context.Context, card *models.Card) (bool, error) {
	text, err := embedding.HTMLText(card.Body)
	if err != nil {
		return false, fmt.Errorf("index: card %s: %w", card.ID, err)
	}
	cs := checksum.Strings(card.Title, card.Subtitle, text, strconv.FormatBool(card.Published))

	prev, err := ix.db.Checksum(ctx, card.ID)
	if err != nil {
		return false, err
	}
	if prev == cs {
		return false, nil
	}

	body := text
	if card.Subtitle != "" {
		body = card.Subtitle + "\n" + text
	}
	updated := card.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	return true, ix.db.Upsert(ctx, CardRow{
		ID:        card.ID,
		Title:     card.Title,
		Body:      body,
		Published: card.Published,
		Checksum:  cs,
		UpdatedAt: updated,
	})
}
