// Package linkgraph keeps every card's links_inbound consistent with the
// links of the cards that point at it.
package linkgraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
)

// ArrayDiff returns the elements of after missing from before (additions)
// and the elements of before missing from after (deletions). Both inputs are
// treated as sets; the outputs keep first-seen order and hold no duplicates.
func ArrayDiff(before, after []string) (additions, deletions []string) {
	beforeSet := make(map[string]struct{}, len(before))
	for _, v := range before {
		beforeSet[v] = struct{}{}
	}
	afterSet := make(map[string]struct{}, len(after))
	for _, v := range after {
		afterSet[v] = struct{}{}
	}

	seen := make(map[string]struct{})
	for _, v := range after {
		if _, ok := beforeSet[v]; ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		additions = append(additions, v)
	}
	clear(seen)
	for _, v := range before {
		if _, ok := afterSet[v]; ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		deletions = append(deletions, v)
	}
	return additions, deletions
}

// Maintainer propagates outbound link changes to the targets' inbound arrays.
type Maintainer struct {
	store  *docstore.Store
	logger *slog.Logger
}

// New creates a Maintainer.
func New(store *docstore.Store, logger *slog.Logger) *Maintainer {
	return &Maintainer{store: store, logger: logger}
}

// HandleChange is the card-write trigger. A created card is diffed against an
// empty link list and a deleted card's links are all removed from their
// targets.
func (m *Maintainer) HandleChange(ctx context.Context, change docstore.Change) error {
	before, err := linksOf(change.Before)
	if err != nil {
		return err
	}
	after, err := linksOf(change.After)
	if err != nil {
		return err
	}
	return m.Apply(ctx, change.ID, before, after)
}

// Apply updates links_inbound on every target added to or removed from
// cardID's links, in one atomic batch. It issues no writes when the link sets
// are equal.
func (m *Maintainer) Apply(ctx context.Context, cardID string, before, after []string) error {
	additions, deletions := ArrayDiff(before, after)
	if len(additions) == 0 && len(deletions) == 0 {
		return nil
	}

	batch := m.store.Batch()
	for _, target := range additions {
		batch.Update(models.CollectionCards, target, map[string]any{
			"links_inbound": docstore.ArrayUnion(cardID),
		})
	}
	for _, target := range deletions {
		batch.Update(models.CollectionCards, target, map[string]any{
			"links_inbound": docstore.ArrayRemove(cardID),
		})
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("linkgraph: update inbound links for %s: %w", cardID, err)
	}

	m.logger.Info("inbound links updated",
		slog.String("card_id", cardID),
		slog.Any("additions", additions),
		slog.Any("deletions", deletions))
	return nil
}

func linksOf(snap *docstore.Snapshot) ([]string, error) {
	if !snap.Exists() {
		return nil, nil
	}
	raw, ok := snap.Data["links"]
	if !ok || raw == nil {
		return nil, nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("linkgraph: card %s: links is %T, not an array", snap.ID, raw)
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("linkgraph: card %s: link %v is not a string", snap.ID, v)
		}
		out = append(out, s)
	}
	return out, nil
}
