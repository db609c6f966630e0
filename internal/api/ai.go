package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/compendium/internal/aiproxy"
	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/chat"
)

// AIHandler serves the AI proxy and chat routes.
type AIHandler struct {
	proxy *aiproxy.Proxy
	chats *chat.Service
}

// NewAIHandler creates an AIHandler.
func NewAIHandler(proxy *aiproxy.Proxy, chats *chat.Service) *AIHandler {
	return &AIHandler{proxy: proxy, chats: chats}
}

// Proxy handles POST /api/ai/proxy.
//
//	@Summary		Forward one AI call on the caller's behalf
//	@Description	Only createChatCompletion is allowed. Requires the admin or remoteAI permission.
//	@Tags			ai
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ProxyRequest	true	"Endpoint and payload"
//	@Success		200		{object}	map[string]any
//	@Failure		400		{object}	errResponse
//	@Failure		401		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		429		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ai/proxy [post]
func (h *AIHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		writeError(w, r, apperr.Unauthenticated("sign in to use AI features"))
		return
	}
	var req ProxyRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.proxy.Forward(r.Context(), id, req.Endpoint, req.Payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateChat handles POST /api/ai/chat.
//
//	@Summary		Start a chat
//	@Tags			ai
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ChatRequest	true	"First message"
//	@Success		201		{object}	ChatThread
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ai/chat [post]
func (h *AIHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	thread, err := h.chats.Create(r.Context(), auth.FromContext(r.Context()), req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

// GetChat handles GET /api/ai/chat/{id}.
//
//	@Summary		Get a chat with its messages
//	@Tags			ai
//	@Produce		json
//	@Param			id	path		string	true	"Chat id"
//	@Success		200	{object}	ChatThread
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ai/chat/{id} [get]
func (h *AIHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	thread, err := h.chats.Get(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// PostChatMessage handles POST /api/ai/chat/{id}/messages.
//
//	@Summary		Send a message and wait for the reply
//	@Tags			ai
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Chat id"
//	@Param			body	body		ChatRequest	true	"Message"
//	@Success		200		{object}	ChatThread
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ai/chat/{id}/messages [post]
func (h *AIHandler) PostChatMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	thread, err := h.chats.Post(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// RetryChat handles POST /api/ai/chat/{id}/retry.
//
//	@Summary		Re-run a failed reply
//	@Tags			ai
//	@Produce		json
//	@Param			id	path		string	true	"Chat id"
//	@Success		200	{object}	ChatThread
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ai/chat/{id}/retry [post]
func (h *AIHandler) RetryChat(w http.ResponseWriter, r *http.Request) {
	thread, err := h.chats.Retry(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// StreamChat handles POST /api/ai/chat/{id}/stream.
//
// The reply arrives as "delta" events carrying {"content": fragment},
// followed by one "done" event with the stored message. Errors before the
// first fragment are plain JSON responses; later ones become an "error"
// event.
//
//	@Summary		Send a message and stream the reply
//	@Tags			ai
//	@Accept			json
//	@Produce		text/event-stream
//	@Param			id		path	string		true	"Chat id"
//	@Param			body	body	ChatRequest	true	"Message"
//	@Success		200
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ai/chat/{id}/stream [post]
func (h *AIHandler) StreamChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming unsupported"))
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
	event := func(name string, v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	msg, err := h.chats.Stream(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"), req.Message,
		func(delta string) error {
			start()
			return event("delta", map[string]string{"content": delta})
		})
	if err != nil {
		if !started {
			writeError(w, r, err)
			return
		}
		kind := apperr.KindOf(err)
		slog.Warn("chat stream failed", slog.String("code", string(kind)), slog.String("error", err.Error()))
		_ = event("error", errorBody(kind, reason(err)))
		return
	}
	start()
	_ = event("done", msg)
}
