// Package slugs validates and assigns the human-readable aliases of cards.
package slugs

import (
	"context"
	"fmt"
	"regexp"

	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
)

const maxLength = 128

var legalRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// CheckLegal reports whether slug has a legal shape: lowercase letters,
// digits and single dashes, not starting or ending with a dash.
func CheckLegal(slug string) error {
	if slug == "" {
		return apperr.InvalidArgument("slug is empty")
	}
	if len(slug) > maxLength {
		return apperr.InvalidArgument("slug is longer than %d characters", maxLength)
	}
	if !legalRe.MatchString(slug) {
		return apperr.InvalidArgument("slug %q may only contain lowercase letters, digits and single dashes", slug)
	}
	return nil
}

// Validator checks slugs against the cards already in the store.
type Validator struct {
	store *docstore.Store
}

// NewValidator creates a Validator.
func NewValidator(store *docstore.Store) *Validator {
	return &Validator{store: store}
}

// Validate returns nil when slug is legal and unused by any card, either as a
// slug or as a card id.
func (v *Validator) Validate(ctx context.Context, slug string) error {
	if err := CheckLegal(slug); err != nil {
		return err
	}
	byID, err := v.store.Get(ctx, models.CollectionCards, slug)
	if err != nil {
		return fmt.Errorf("slugs: lookup id %s: %w", slug, err)
	}
	if byID.Exists() {
		return apperr.New(apperr.KindAlreadyExists, "slug %q is already a card id", slug)
	}
	owners, err := v.store.Query(ctx, models.CollectionCards, docstore.Where("slugs", "array-contains", slug))
	if err != nil {
		return fmt.Errorf("slugs: lookup slug %s: %w", slug, err)
	}
	if len(owners) > 0 {
		return apperr.New(apperr.KindAlreadyExists, "slug %q is already used by card %s", slug, owners[0].ID)
	}
	return nil
}

// AddSlug validates slug and appends it to cardID's slugs. A card without a
// primary name takes the slug as its name.
func (v *Validator) AddSlug(ctx context.Context, cardID, slug string) error {
	if err := v.Validate(ctx, slug); err != nil {
		return err
	}
	card, err := docstore.GetAs[models.Card](ctx, v.store, models.CollectionCards, cardID)
	if err != nil {
		return fmt.Errorf("slugs: load card %s: %w", cardID, err)
	}
	fields := map[string]any{
		"slugs": docstore.ArrayUnion(slug),
	}
	if card.Name == "" {
		fields["name"] = slug
	}
	if err := v.store.Update(ctx, models.CollectionCards, cardID, fields); err != nil {
		return fmt.Errorf("slugs: add %s to %s: %w", slug, cardID, err)
	}
	return nil
}

// Resolve returns the card whose id or slug is idOrSlug.
func (v *Validator) Resolve(ctx context.Context, idOrSlug string) (*models.Card, error) {
	return Resolve(ctx, v.store, idOrSlug)
}

// Resolve returns the card whose id or slug is idOrSlug.
func Resolve(ctx context.Context, store *docstore.Store, idOrSlug string) (*models.Card, error) {
	snap, err := store.Get(ctx, models.CollectionCards, idOrSlug)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		cards, err := docstore.QueryAs[models.Card](ctx, store, models.CollectionCards,
			docstore.Where("slugs", "array-contains", idOrSlug))
		if err != nil {
			return nil, err
		}
		if len(cards) == 0 {
			return nil, fmt.Errorf("card %q: %w", idOrSlug, apperr.ErrNotFound)
		}
		return &cards[0], nil
	}
	var card models.Card
	if err := snap.DataTo(&card); err != nil {
		return nil, err
	}
	card.ID = snap.ID
	return &card, nil
}
