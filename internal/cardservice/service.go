// Package cardservice implements the card editing surface: cards, slugs,
// stars, messages, sections and user profiles.
package cardservice

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/checksum"
	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/slugs"
)

var cardIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// CardInput carries the user-editable fields of a card. Nil pointers leave
// the field unchanged on update.
type CardInput struct {
	ID        string
	CardType  models.CardType
	Title     *string
	Subtitle  *string
	Body      *string
	Section   *string
	Published *bool
}

// CardListItem is a lightweight card in a list response.
type CardListItem struct {
	ID        string          `json:"id"`
	CardType  models.CardType `json:"card_type"`
	Title     string          `json:"title"`
	Name      string          `json:"name,omitempty"`
	Section   string          `json:"section,omitempty"`
	Published bool            `json:"published"`
	StarCount int             `json:"star_count"`
	Updated   time.Time       `json:"updated"`
}

// Service coordinates card edits in the document store.
type Service struct {
	store  *docstore.Store
	slugs  *slugs.Validator
	policy *bluemonday.Policy
	now    func() time.Time
}

// NewService creates a new card service.
func NewService(store *docstore.Store) *Service {
	return &Service{
		store:  store,
		slugs:  slugs.NewValidator(store),
		policy: newPolicy(),
		now:    time.Now,
	}
}

// ETag identifies a card revision for optimistic concurrency.
func ETag(card *models.Card) string {
	return checksum.Sum([]byte(card.ID + "@" + card.Updated.UTC().Format(time.RFC3339Nano)))
}

// GetCard returns the card with the given id or slug.
func (s *Service) GetCard(ctx context.Context, idOrSlug string) (*models.Card, error) {
	card, err := slugs.Resolve(ctx, s.store, idOrSlug)
	if err != nil {
		return nil, err
	}
	normalize(card)
	return card, nil
}

// CreateCard stores a new card authored by uid.
func (s *Service) CreateCard(ctx context.Context, uid string, in CardInput) (*models.Card, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	if !cardIDPattern.MatchString(id) {
		return nil, apperr.InvalidArgument("card id %q is invalid", id)
	}
	existing, err := s.store.Get(ctx, models.CollectionCards, id)
	if err != nil {
		return nil, err
	}
	if existing.Exists() {
		return nil, fmt.Errorf("card %s: %w", id, apperr.ErrAlreadyExists)
	}

	now := s.now().UTC()
	card := &models.Card{
		ID:                 id,
		CardType:           in.CardType,
		Author:             uid,
		Links:              []string{},
		LinksInbound:       []string{},
		Slugs:              []string{},
		Created:            now,
		Updated:            now,
		UpdatedSubstantive: now,
	}
	if card.CardType == "" {
		card.CardType = models.CardTypeContent
	}
	if err := s.apply(card, in); err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, models.CollectionCards, id, card); err != nil {
		return nil, fmt.Errorf("cardservice: create %s: %w", id, err)
	}
	return card, nil
}

// UpdateCard applies in to an existing card. A non-empty ifMatch must equal
// the card's current ETag.
func (s *Service) UpdateCard(ctx context.Context, id string, in CardInput, ifMatch string) (*models.Card, error) {
	card, err := docstore.GetAs[models.Card](ctx, s.store, models.CollectionCards, id)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != ETag(card) {
		return nil, apperr.ErrConflict
	}
	card.ID = id

	before := *card
	if in.CardType != "" {
		card.CardType = in.CardType
	}
	if err := s.apply(card, in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	card.Updated = now
	if card.Title != before.Title || card.Subtitle != before.Subtitle || card.Body != before.Body {
		card.UpdatedSubstantive = now
	}

	fields := map[string]any{
		"card_type":           card.CardType,
		"title":               card.Title,
		"subtitle":            card.Subtitle,
		"body":                card.Body,
		"links":               card.Links,
		"section":             card.Section,
		"published":           card.Published,
		"updated":             card.Updated,
		"updated_substantive": card.UpdatedSubstantive,
	}
	if err := s.store.Update(ctx, models.CollectionCards, id, fields); err != nil {
		return nil, fmt.Errorf("cardservice: update %s: %w", id, err)
	}
	normalize(card)
	return card, nil
}

// apply copies the set fields of in onto card, sanitizing the body and
// deriving links from it.
func (s *Service) apply(card *models.Card, in CardInput) error {
	if !validType(card.CardType) {
		return apperr.InvalidArgument("unknown card type %q", card.CardType)
	}
	if in.Title != nil {
		card.Title = strings.TrimSpace(*in.Title)
	}
	if in.Subtitle != nil {
		card.Subtitle = strings.TrimSpace(*in.Subtitle)
	}
	if in.Section != nil {
		card.Section = *in.Section
	}
	if in.Published != nil {
		card.Published = *in.Published
	}
	if in.Body != nil {
		card.Body = s.policy.Sanitize(*in.Body)
		links, err := ExtractLinks(card.Body)
		if err != nil {
			return apperr.InvalidArgument("body is not valid HTML: %v", err)
		}
		card.Links = links
	}
	return nil
}

// DeleteCard removes a card. A card other cards still link to cannot be
// deleted.
func (s *Service) DeleteCard(ctx context.Context, id string) error {
	snap, err := s.store.Get(ctx, models.CollectionCards, id)
	if err != nil {
		return err
	}
	if !snap.Exists() {
		return fmt.Errorf("card %s: %w", id, apperr.ErrNotFound)
	}
	var card models.Card
	if err := snap.DataTo(&card); err != nil {
		return fmt.Errorf("cardservice: decode %s: %w", id, err)
	}
	if len(card.LinksInbound) > 0 {
		return apperr.FailedPrecondition("card %s is linked from %s", id, strings.Join(card.LinksInbound, ", "))
	}
	return s.store.Delete(ctx, models.CollectionCards, id)
}

// ListCards returns cards, optionally restricted to a section and to
// published cards, ordered by id.
func (s *Service) ListCards(ctx context.Context, section string, publishedOnly bool) ([]CardListItem, error) {
	var filters []docstore.Filter
	if section != "" {
		filters = append(filters, docstore.Where("section", "==", section))
	}
	if publishedOnly {
		filters = append(filters, docstore.Where("published", "==", true))
	}
	cards, err := docstore.QueryAs[models.Card](ctx, s.store, models.CollectionCards, filters...)
	if err != nil {
		return nil, err
	}
	items := make([]CardListItem, len(cards))
	for i, c := range cards {
		items[i] = CardListItem{
			ID:        c.ID,
			CardType:  c.CardType,
			Title:     c.Title,
			Name:      c.Name,
			Section:   c.Section,
			Published: c.Published,
			StarCount: c.StarCount,
			Updated:   c.Updated,
		}
	}
	return items, nil
}

// InboundLinks returns the ids of cards linking to id.
func (s *Service) InboundLinks(ctx context.Context, id string) ([]string, error) {
	card, err := docstore.GetAs[models.Card](ctx, s.store, models.CollectionCards, id)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(card.LinksInbound), nil
}

// AddSlug validates slug and adds it to the card.
func (s *Service) AddSlug(ctx context.Context, id, slug string) (*models.Card, error) {
	if err := s.slugs.AddSlug(ctx, id, slug); err != nil {
		return nil, err
	}
	return s.GetCard(ctx, id)
}

// CheckSlug reports whether slug could be added to a card.
func (s *Service) CheckSlug(ctx context.Context, slug string) error {
	return s.slugs.Validate(ctx, slug)
}

func starID(uid, cardID string) string {
	return uid + "+" + cardID
}

// Star records that uid starred cardID and bumps the card's star count.
// Starring twice is a conflict.
func (s *Service) Star(ctx context.Context, uid, cardID string) error {
	id := starID(uid, cardID)
	existing, err := s.store.Get(ctx, models.CollectionStars, id)
	if err != nil {
		return err
	}
	if existing.Exists() {
		return fmt.Errorf("star %s: %w", id, apperr.ErrAlreadyExists)
	}
	err = s.store.Batch().
		Set(models.CollectionStars, id, models.Star{Card: cardID, Owner: uid, Created: s.now().UTC()}).
		Update(models.CollectionCards, cardID, map[string]any{"star_count": docstore.Increment(1)}).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("cardservice: star %s: %w", cardID, err)
	}
	return nil
}

// Unstar removes uid's star from cardID.
func (s *Service) Unstar(ctx context.Context, uid, cardID string) error {
	id := starID(uid, cardID)
	existing, err := s.store.Get(ctx, models.CollectionStars, id)
	if err != nil {
		return err
	}
	if !existing.Exists() {
		return fmt.Errorf("star %s: %w", id, apperr.ErrNotFound)
	}
	err = s.store.Batch().
		Delete(models.CollectionStars, id).
		Update(models.CollectionCards, cardID, map[string]any{"star_count": docstore.Increment(-1)}).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("cardservice: unstar %s: %w", cardID, err)
	}
	return nil
}

// PostMessage stores a comment on cardID.
func (s *Service) PostMessage(ctx context.Context, uid, cardID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.InvalidArgument("message is empty")
	}
	card, err := s.store.Get(ctx, models.CollectionCards, cardID)
	if err != nil {
		return nil, err
	}
	if !card.Exists() {
		return nil, fmt.Errorf("card %s: %w", cardID, apperr.ErrNotFound)
	}
	msg := &models.Message{
		ID:      uuid.NewString(),
		Card:    cardID,
		Author:  uid,
		Message: text,
		Created: s.now().UTC(),
	}
	if err := s.store.Set(ctx, models.CollectionMessages, msg.ID, msg); err != nil {
		return nil, fmt.Errorf("cardservice: post message: %w", err)
	}
	return msg, nil
}

// ListSections returns sections in display order.
func (s *Service) ListSections(ctx context.Context) ([]models.Section, error) {
	sections, err := docstore.QueryAs[models.Section](ctx, s.store, models.CollectionSections)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })
	return sections, nil
}

// PutSection creates or replaces a section.
func (s *Service) PutSection(ctx context.Context, section models.Section) error {
	if !cardIDPattern.MatchString(section.ID) {
		return apperr.InvalidArgument("section id %q is invalid", section.ID)
	}
	return s.store.Set(ctx, models.CollectionSections, section.ID, section)
}

// SetDisplayName updates uid's public name.
func (s *Service) SetDisplayName(ctx context.Context, uid, name string) error {
	return s.store.Set(ctx, models.CollectionUsers, uid, models.User{DisplayName: strings.TrimSpace(name)})
}

func validType(t models.CardType) bool {
	for _, ct := range models.CardTypes {
		if ct == t {
			return true
		}
	}
	return false
}

func normalize(card *models.Card) {
	card.Links = nonNilSlice(card.Links)
	card.LinksInbound = nonNilSlice(card.LinksInbound)
	card.Slugs = nonNilSlice(card.Slugs)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
