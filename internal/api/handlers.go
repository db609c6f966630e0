package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/cardservice"
	"github.com/starford/compendium/internal/embedding"
	"github.com/starford/compendium/internal/index"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/permissions"
	"github.com/starford/compendium/internal/screenshot"
)

const defaultMatchLimit = 10

// Handler holds the card, search and screenshot route handlers.
type Handler struct {
	cards       *cardservice.Service
	perms       *permissions.Resolver
	embeddings  *embedding.Pipeline
	search      index.Searcher
	screenshots *screenshot.Service
}

// NewHandler creates a new Handler. embeddings, search and screenshots may be
// nil when those features are disabled.
func NewHandler(cards *cardservice.Service, perms *permissions.Resolver, embeddings *embedding.Pipeline, search index.Searcher, screenshots *screenshot.Service) *Handler {
	return &Handler{cards: cards, perms: perms, embeddings: embeddings, search: search, screenshots: screenshots}
}

// canEdit reports whether the caller may see and change unpublished cards.
func (h *Handler) canEdit(r *http.Request) bool {
	id := auth.FromContext(r.Context())
	if id == nil {
		return false
	}
	perms, err := h.perms.For(r.Context(), id)
	if err != nil {
		return false
	}
	return permissions.Has(perms, models.PermissionAdmin, models.PermissionEdit)
}

func cardResponse(card *models.Card) CardResponse {
	return CardResponse{Card: card, ETag: cardservice.ETag(card)}
}

// ListCards handles GET /api/cards.
//
//	@Summary		List cards, optionally within one section
//	@Tags			cards
//	@Produce		json
//	@Param			section	query		string	false	"Section id"
//	@Success		200		{object}	CardListResponse
//	@Router			/cards [get]
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	items, err := h.cards.ListCards(r.Context(), r.URL.Query().Get("section"), !h.canEdit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CardListResponse{Cards: items, Total: len(items)})
}

// GetCard handles GET /api/cards/{id}.
//
//	@Summary		Get a card by id or slug
//	@Tags			cards
//	@Produce		json
//	@Param			id	path		string	true	"Card id or slug"
//	@Success		200	{object}	CardResponse
//	@Failure		404	{object}	errResponse
//	@Router			/cards/{id} [get]
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.cards.GetCard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !card.Published && !h.canEdit(r) {
		writeError(w, r, apperr.ErrNotFound)
		return
	}
	w.Header().Set("ETag", cardservice.ETag(card))
	writeJSON(w, http.StatusOK, cardResponse(card))
}

// CreateCard handles POST /api/cards.
//
//	@Summary		Create a card
//	@Tags			cards
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CardRequest	true	"Card to create"
//	@Success		201		{object}	CardResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards [post]
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req CardRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	card, err := h.cards.CreateCard(r.Context(), auth.FromContext(r.Context()).UID, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cardResponse(card))
}

// UpdateCard handles PUT /api/cards/{id}.
//
//	@Summary		Update a card
//	@Description	Send the card's etag in If-Match to reject concurrent edits.
//	@Tags			cards
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string		true	"Card id"
//	@Param			If-Match	header		string		false	"Expected etag"
//	@Param			body		body		CardRequest	true	"Fields to change"
//	@Success		200			{object}	CardResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id} [put]
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	var req CardRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	card, err := h.cards.UpdateCard(r.Context(), chi.URLParam(r, "id"), req.input(), r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", cardservice.ETag(card))
	writeJSON(w, http.StatusOK, cardResponse(card))
}

// DeleteCard handles DELETE /api/cards/{id}.
//
//	@Summary		Delete a card
//	@Tags			cards
//	@Param			id	path	string	true	"Card id"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id} [delete]
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := h.cards.DeleteCard(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddSlug handles POST /api/cards/{id}/slugs.
//
//	@Summary		Add a slug to a card
//	@Tags			cards
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Card id"
//	@Param			body	body		SlugRequest	true	"Slug"
//	@Success		200		{object}	CardResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id}/slugs [post]
func (h *Handler) AddSlug(w http.ResponseWriter, r *http.Request) {
	var req SlugRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	card, err := h.cards.AddSlug(r.Context(), chi.URLParam(r, "id"), req.Slug)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cardResponse(card))
}

// CheckSlug handles POST /api/slugs/legal.
//
//	@Summary		Check whether a slug is legal and unused
//	@Tags			slugs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SlugRequest	true	"Slug"
//	@Success		200		{object}	SlugLegalResponse
//	@Router			/slugs/legal [post]
func (h *Handler) CheckSlug(w http.ResponseWriter, r *http.Request) {
	var req SlugRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	err := h.cards.CheckSlug(r.Context(), req.Slug)
	if err == nil {
		writeJSON(w, http.StatusOK, SlugLegalResponse{Legal: true})
		return
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidArgument, apperr.KindAlreadyExists:
		writeJSON(w, http.StatusOK, SlugLegalResponse{Legal: false, Reason: reason(err)})
	default:
		writeError(w, r, err)
	}
}

func reason(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

// Star handles POST /api/cards/{id}/star.
//
//	@Summary		Star a card
//	@Tags			cards
//	@Param			id	path	string	true	"Card id"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id}/star [post]
func (h *Handler) Star(w http.ResponseWriter, r *http.Request) {
	if err := h.cards.Star(r.Context(), auth.FromContext(r.Context()).UID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unstar handles DELETE /api/cards/{id}/star.
//
//	@Summary		Remove a star
//	@Tags			cards
//	@Param			id	path	string	true	"Card id"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id}/star [delete]
func (h *Handler) Unstar(w http.ResponseWriter, r *http.Request) {
	if err := h.cards.Unstar(r.Context(), auth.FromContext(r.Context()).UID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostMessage handles POST /api/cards/{id}/messages.
//
//	@Summary		Comment on a card
//	@Tags			cards
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Card id"
//	@Param			body	body		MessageRequest	true	"Message"
//	@Success		201		{object}	models.Message
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id}/messages [post]
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.cards.PostMessage(r.Context(), auth.FromContext(r.Context()).UID, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// InboundLinks handles GET /api/cards/{id}/inbound.
//
//	@Summary		List cards linking to a card
//	@Tags			cards
//	@Produce		json
//	@Param			id	path		string	true	"Card id"
//	@Success		200	{object}	map[string][]string
//	@Router			/cards/{id}/inbound [get]
func (h *Handler) InboundLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.cards.InboundLinks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"links_inbound": links})
}

// Similar handles GET /api/cards/{id}/similar.
//
//	@Summary		Cards semantically close to a card
//	@Tags			search
//	@Produce		json
//	@Param			id		path		string	true	"Card id"
//	@Param			limit	query		int		false	"Maximum results"
//	@Success		200		{object}	MatchResponse
//	@Failure		400		{object}	errResponse
//	@Router			/cards/{id}/similar [get]
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	if h.embeddings == nil {
		writeError(w, r, apperr.FailedPrecondition("semantic search is not configured"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = defaultMatchLimit
	}
	matches, err := h.embeddings.Similar(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{Matches: nonNil(matches)})
}

// SemanticSearch handles POST /api/search/semantic.
//
//	@Summary		Rank cards by similarity to a query
//	@Tags			search
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SemanticSearchRequest	true	"Query"
//	@Success		200		{object}	MatchResponse
//	@Failure		400		{object}	errResponse
//	@Router			/search/semantic [post]
func (h *Handler) SemanticSearch(w http.ResponseWriter, r *http.Request) {
	if h.embeddings == nil {
		writeError(w, r, apperr.FailedPrecondition("semantic search is not configured"))
		return
	}
	var req SemanticSearchRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		matches []embedding.Match
		err     error
	)
	if len(req.CardIDs) > 0 {
		matches, err = h.embeddings.SemanticSort(r.Context(), req.Query, req.CardIDs)
	} else {
		limit := req.Limit
		if limit == 0 {
			limit = defaultMatchLimit
		}
		matches, err = h.embeddings.Search(r.Context(), req.Query, limit)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{Matches: nonNil(matches)})
}

// Search handles GET /api/search.
//
//	@Summary		Keyword search over card titles and text
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Query"
//	@Param			limit	query		int		false	"Maximum results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		writeError(w, r, apperr.FailedPrecondition("search is not configured"))
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, r, apperr.InvalidArgument("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	results, err := h.search.Search(r.Context(), q, limit, !h.canEdit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNil(results)})
}

// Screenshot handles GET /api/screenshot/{slug}.
//
//	@Summary		PNG preview of a card
//	@Tags			cards
//	@Produce		png
//	@Param			slug	path	string	true	"Card slug or id"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Router			/screenshot/{slug} [get]
func (h *Handler) Screenshot(w http.ResponseWriter, r *http.Request) {
	if h.screenshots == nil {
		writeError(w, r, apperr.FailedPrecondition("screenshots are disabled"))
		return
	}
	slug := chi.URLParam(r, "slug")
	card, err := h.cards.GetCard(r.Context(), slug)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !card.Published {
		writeError(w, r, apperr.ErrNotFound)
		return
	}
	png, err := h.screenshots.BySlug(r.Context(), slug)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// ListSections handles GET /api/sections.
//
//	@Summary		List sections in display order
//	@Tags			sections
//	@Produce		json
//	@Success		200	{array}	models.Section
//	@Router			/sections [get]
func (h *Handler) ListSections(w http.ResponseWriter, r *http.Request) {
	sections, err := h.cards.ListSections(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sections))
}

// PutSection handles PUT /api/sections/{id}.
//
//	@Summary		Create or replace a section
//	@Tags			sections
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Section id"
//	@Param			body	body		SectionRequest	true	"Section"
//	@Success		200		{object}	models.Section
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sections/{id} [put]
func (h *Handler) PutSection(w http.ResponseWriter, r *http.Request) {
	var req SectionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	section := models.Section{ID: chi.URLParam(r, "id"), Title: req.Title, Order: req.Order}
	if err := h.cards.PutSection(r.Context(), section); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, section)
}

// UpdateProfile handles PUT /api/users/me.
//
//	@Summary		Set the caller's display name
//	@Tags			users
//	@Accept			json
//	@Param			body	body	ProfileRequest	true	"Profile"
//	@Success		204
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/users/me [put]
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.cards.SetDisplayName(r.Context(), auth.FromContext(r.Context()).UID, req.DisplayName); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
