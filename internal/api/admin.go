package api

import (
	"encoding/json"
	"net/http"

	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/embedding"
	"github.com/starford/compendium/internal/tweets"
)

// AdminHandler serves batch administrative endpoints.
type AdminHandler struct {
	embeddings *embedding.Pipeline
	tweets     *tweets.Service
}

// NewAdminHandler creates an AdminHandler. Either service may be nil when
// its feature is disabled.
func NewAdminHandler(embeddings *embedding.Pipeline, tweets *tweets.Service) *AdminHandler {
	return &AdminHandler{embeddings: embeddings, tweets: tweets}
}

// ReindexEmbeddings handles POST /api/admin/embeddings/reindex.
//
//	@Summary		Recompute embeddings for every card
//	@Tags			admin
//	@Produce		json
//	@Success		200	{object}	embedding.ReindexReport
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/admin/embeddings/reindex [post]
func (h *AdminHandler) ReindexEmbeddings(w http.ResponseWriter, r *http.Request) {
	if h.embeddings == nil {
		writeError(w, r, apperr.FailedPrecondition("embeddings are disabled"))
		return
	}
	report, err := h.embeddings.Reindex(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// parseVersions reads {"versions": [...]}. A missing body or field means
// version 0; an empty or non-array value is rejected.
func parseVersions(w http.ResponseWriter, r *http.Request) ([]int, error) {
	var body map[string]json.RawMessage
	if err := decodeJSON(w, r, &body, true); err != nil {
		return nil, err
	}
	raw, ok := body["versions"]
	if !ok {
		return []int{0}, nil
	}
	var versions []int
	if err := json.Unmarshal(raw, &versions); err != nil || len(versions) == 0 {
		return nil, apperr.InvalidArgument("Invalid versions array provided")
	}
	return versions, nil
}

// CleanupEmbeddings handles POST /api/admin/embeddings/cleanup.
//
//	@Summary		Delete embeddings of the given versions
//	@Tags			admin
//	@Accept			json
//	@Produce		json
//	@Param			body	body		object{versions=[]int}	false	"Versions to delete, default [0]"
//	@Success		200		{object}	CleanupResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/admin/embeddings/cleanup [post]
func (h *AdminHandler) CleanupEmbeddings(w http.ResponseWriter, r *http.Request) {
	versions, err := parseVersions(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.embeddings == nil {
		writeError(w, r, apperr.FailedPrecondition("embeddings are disabled"))
		return
	}
	deleted, err := h.embeddings.Cleanup(r.Context(), versions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Deleted: deleted, Versions: versions})
}

// PostTweet handles POST /api/admin/tweets/post.
//
//	@Summary		Run one auto-post pass now
//	@Tags			admin
//	@Produce		json
//	@Success		200	{object}	TweetResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/admin/tweets/post [post]
func (h *AdminHandler) PostTweet(w http.ResponseWriter, r *http.Request) {
	if h.tweets == nil {
		writeError(w, r, apperr.FailedPrecondition("social posting is disabled"))
		return
	}
	tweet, err := h.tweets.AutoPost(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TweetResponse{Tweet: tweet})
}
