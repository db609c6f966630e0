package api

import (
	"encoding/json"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/cardservice"
	"github.com/starford/compendium/internal/chat"
	"github.com/starford/compendium/internal/embedding"
	"github.com/starford/compendium/internal/index"
	"github.com/starford/compendium/internal/models"
)

// validate runs v's ozzo rules and reports failures as invalid-argument.
func validate(v validation.Validatable) error {
	if err := v.Validate(); err != nil {
		return apperr.InvalidArgument("%s", err.Error())
	}
	return nil
}

// CardRequest is the request body for creating or updating a card. Omitted
// fields are left unchanged on update.
type CardRequest struct {
	ID        string          `json:"id,omitempty" example:"how-to-write"`
	CardType  models.CardType `json:"card_type,omitempty" example:"content"`
	Title     *string         `json:"title,omitempty" example:"How to write"`
	Subtitle  *string         `json:"subtitle,omitempty"`
	Body      *string         `json:"body,omitempty" example:"<p>See <card-link card=\"b\">B</card-link></p>"`
	Section   *string         `json:"section,omitempty" example:"basics"`
	Published *bool           `json:"published,omitempty"`
}

// Validate checks field shapes.
func (r CardRequest) Validate() error {
	types := make([]any, len(models.CardTypes))
	for i, t := range models.CardTypes {
		types[i] = t
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Length(0, 128)),
		validation.Field(&r.CardType, validation.In(types...)),
		validation.Field(&r.Title, validation.NilOrNotEmpty, validation.Length(0, 500)),
	)
}

func (r CardRequest) input() cardservice.CardInput {
	return cardservice.CardInput{
		ID:        r.ID,
		CardType:  r.CardType,
		Title:     r.Title,
		Subtitle:  r.Subtitle,
		Body:      r.Body,
		Section:   r.Section,
		Published: r.Published,
	}
}

// CardResponse is a card with its revision tag.
type CardResponse struct {
	*models.Card
	ETag string `json:"etag" example:"5d41402abc4b2a76b9719d911017c592"`
}

// CardListResponse wraps card listings.
type CardListResponse struct {
	Cards []cardservice.CardListItem `json:"cards" validate:"required"`
	Total int                        `json:"total" example:"42" validate:"required"`
}

// SlugRequest carries a proposed slug.
type SlugRequest struct {
	Slug string `json:"slug" example:"how-to-write" validate:"required"`
}

// Validate checks field shapes.
func (r SlugRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Slug, validation.Required),
	)
}

// SlugLegalResponse reports whether a slug could be used.
type SlugLegalResponse struct {
	Legal  bool   `json:"legal"`
	Reason string `json:"reason,omitempty"`
}

// MessageRequest is the body of a card comment.
type MessageRequest struct {
	Message string `json:"message" example:"Great card" validate:"required"`
}

// Validate checks field shapes.
func (r MessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.Required, validation.Length(1, 10000)),
	)
}

// SectionRequest is the body of a section upsert.
type SectionRequest struct {
	Title string `json:"title" example:"Basics" validate:"required"`
	Order int    `json:"order" example:"1"`
}

// Validate checks field shapes.
func (r SectionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.Order, validation.Min(0)),
	)
}

// ProfileRequest updates the caller's profile.
type ProfileRequest struct {
	DisplayName string `json:"display_name" example:"Ada" validate:"required"`
}

// Validate checks field shapes.
func (r ProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DisplayName, validation.Required, validation.Length(1, 100)),
	)
}

// SemanticSearchRequest ranks cards by similarity to a query. With CardIDs
// only those cards are ordered; otherwise the nearest Limit cards are
// returned.
type SemanticSearchRequest struct {
	Query   string   `json:"query" example:"writing advice" validate:"required"`
	CardIDs []string `json:"card_ids,omitempty"`
	Limit   int      `json:"limit,omitempty" example:"10"`
}

// Validate checks field shapes.
func (r SemanticSearchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Query, validation.Required, validation.Length(1, 2000)),
		validation.Field(&r.Limit, validation.Min(0), validation.Max(100)),
	)
}

// MatchResponse wraps similarity results.
type MatchResponse struct {
	Matches []embedding.Match `json:"matches" validate:"required"`
}

// SearchResponse wraps keyword search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// ProxyRequest is a generic AI call.
type ProxyRequest struct {
	Endpoint string          `json:"endpoint" example:"createChatCompletion" validate:"required"`
	Payload  json.RawMessage `json:"payload" swaggertype:"object" validate:"required"`
}

// ChatRequest carries one user message.
type ChatRequest struct {
	Message string `json:"message" example:"Summarize this card" validate:"required"`
}

// Validate checks field shapes.
func (r ChatRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.Required),
	)
}

// ChatThread is a chat with its messages (aliased from the domain layer).
type ChatThread = chat.Thread

// CleanupResponse reports how many embedding records were deleted.
type CleanupResponse struct {
	Deleted  int   `json:"deleted" example:"12"`
	Versions []int `json:"versions" example:"0"`
}

// TweetResponse reports an auto-post pass. Tweet is null when no card was
// eligible.
type TweetResponse struct {
	Tweet *models.Tweet `json:"tweet"`
}
