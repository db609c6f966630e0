package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/cardservice"
	"github.com/starford/compendium/internal/checksum"
	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/slugs"
)

// Author is recorded as the author of seeded cards.
const Author = "seed"

// Report counts what a Sync changed.
type Report struct {
	Created int
	Updated int
	Deleted int
	Failed  int
}

// Syncer mirrors a fixture directory into the store.
type Syncer struct {
	store  *docstore.Store
	cards  *cardservice.Service
	slugs  *slugs.Validator
	dir    *Dir
	logger *slog.Logger
}

// NewSyncer creates a Syncer for dir.
func NewSyncer(store *docstore.Store, cards *cardservice.Service, dir *Dir, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:  store,
		cards:  cards,
		slugs:  slugs.NewValidator(store),
		dir:    dir,
		logger: logger,
	}
}

// Dir returns the watched directory.
func (s *Syncer) Dir() *Dir { return s.dir }

func recordID(path string) string {
	return checksum.Strings("seed", path)
}

// Sync applies new and changed fixtures and deletes the cards of fixtures
// that no longer exist. A fixture that fails to apply is logged and retried
// on the next Sync.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	var report Report

	records, err := docstore.QueryAs[models.SeedFile](ctx, s.store, models.CollectionSeedFiles)
	if err != nil {
		return report, fmt.Errorf("seed: load records: %w", err)
	}
	known := make(map[string]models.SeedFile, len(records))
	for _, r := range records {
		known[r.Path] = r
	}

	files, err := s.dir.List()
	if err != nil {
		return report, err
	}
	onDisk := make(map[string]struct{}, len(files))
	for _, f := range files {
		onDisk[f.Path] = struct{}{}
		prev, seen := known[f.Path]
		if seen && prev.Checksum == f.Checksum {
			continue
		}
		var prevPtr *models.SeedFile
		if seen {
			prevPtr = &prev
		}
		created, err := s.apply(ctx, f, prevPtr)
		if err != nil {
			report.Failed++
			s.logger.Warn("seed: apply failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if created {
			report.Created++
		} else {
			report.Updated++
		}
	}

	for path, rec := range known {
		if _, ok := onDisk[path]; ok {
			continue
		}
		if err := s.remove(ctx, rec); err != nil {
			report.Failed++
			s.logger.Warn("seed: remove failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		report.Deleted++
	}

	if report != (Report{}) {
		s.logger.Info("seed: synced",
			slog.Int("created", report.Created),
			slog.Int("updated", report.Updated),
			slog.Int("deleted", report.Deleted),
			slog.Int("failed", report.Failed))
	}
	return report, nil
}

// apply upserts the card described by f and reports whether it was created.
func (s *Syncer) apply(ctx context.Context, f File, prev *models.SeedFile) (bool, error) {
	data, err := s.dir.Read(f.Path)
	if err != nil {
		return false, err
	}
	fx, err := Parse(f.Path, data)
	if err != nil {
		return false, err
	}
	if prev != nil && prev.Card != fx.ID {
		if err := s.deleteCard(ctx, prev.Card); err != nil {
			return false, err
		}
	}

	in := cardservice.CardInput{
		ID:        fx.ID,
		CardType:  fx.CardType,
		Title:     &fx.Title,
		Subtitle:  &fx.Subtitle,
		Body:      &fx.Body,
		Section:   &fx.Section,
		Published: &fx.Published,
	}
	existing, err := s.store.Get(ctx, models.CollectionCards, fx.ID)
	if err != nil {
		return false, err
	}
	var card *models.Card
	if existing.Exists() {
		card, err = s.cards.UpdateCard(ctx, fx.ID, in, "")
	} else {
		card, err = s.cards.CreateCard(ctx, Author, in)
	}
	if err != nil {
		return false, err
	}
	s.addSlugs(ctx, card, fx.Slugs)

	rec := models.SeedFile{Path: f.Path, Checksum: f.Checksum, Card: fx.ID}
	if err := s.store.Set(ctx, models.CollectionSeedFiles, recordID(f.Path), rec); err != nil {
		return false, fmt.Errorf("seed: record %s: %w", f.Path, err)
	}
	s.logger.Debug("seed: applied", slog.String("path", f.Path), slog.String("card_id", fx.ID))
	return !existing.Exists(), nil
}

// addSlugs adds the fixture's slugs the card does not have yet. Slugs that
// are illegal or taken by another card are skipped.
func (s *Syncer) addSlugs(ctx context.Context, card *models.Card, want []string) {
	for _, slug := range want {
		if slices.Contains(card.Slugs, slug) {
			continue
		}
		if err := s.slugs.AddSlug(ctx, card.ID, slug); err != nil {
			s.logger.Warn("seed: slug skipped",
				slog.String("card_id", card.ID),
				slog.String("slug", slug),
				slog.String("error", err.Error()))
			continue
		}
		card.Slugs = append(card.Slugs, slug)
	}
}

func (s *Syncer) remove(ctx context.Context, rec models.SeedFile) error {
	if err := s.deleteCard(ctx, rec.Card); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, models.CollectionSeedFiles, recordID(rec.Path)); err != nil {
		return fmt.Errorf("seed: drop record %s: %w", rec.Path, err)
	}
	s.logger.Debug("seed: removed", slog.String("path", rec.Path), slog.String("card_id", rec.Card))
	return nil
}

func (s *Syncer) deleteCard(ctx context.Context, id string) error {
	err := s.cards.DeleteCard(ctx, id)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return nil
}
