package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/compendium/internal/aiproxy"
	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/cardservice"
	"github.com/starford/compendium/internal/chat"
	"github.com/starford/compendium/internal/embedding"
	"github.com/starford/compendium/internal/index"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/permissions"
	"github.com/starford/compendium/internal/screenshot"
	"github.com/starford/compendium/internal/tweets"
)

// Deps are the services behind the API. Embeddings, Screenshots, Tweets,
// Search and Events may be nil.
type Deps struct {
	Cards       *cardservice.Service
	Permissions *permissions.Resolver
	Verifier    auth.Verifier
	Embeddings  *embedding.Pipeline
	Screenshots *screenshot.Service
	Tweets      *tweets.Service
	Proxy       *aiproxy.Proxy
	Chats       *chat.Service
	Search      index.Searcher
	Events      http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d.Cards, d.Permissions, d.Embeddings, d.Search, d.Screenshots)
	ai := NewAIHandler(d.Proxy, d.Chats)
	admin := NewAdminHandler(d.Embeddings, d.Tweets)
	editor := RequirePermission(d.Permissions, models.PermissionAdmin, models.PermissionEdit)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(d.Verifier))

	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	// Cards.
	r.Route("/cards", func(r chi.Router) {
		r.Get("/", h.ListCards)
		r.With(editor).Post("/", h.CreateCard)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCard)
			r.Get("/inbound", h.InboundLinks)
			r.Get("/similar", h.Similar)
			r.With(editor).Put("/", h.UpdateCard)
			r.With(editor).Delete("/", h.DeleteCard)
			r.With(editor).Post("/slugs", h.AddSlug)
			r.With(RequireSignIn).Post("/star", h.Star)
			r.With(RequireSignIn).Delete("/star", h.Unstar)
			r.With(RequireSignIn).Post("/messages", h.PostMessage)
		})
	})

	r.Get("/sections", h.ListSections)
	r.With(editor).Put("/sections/{id}", h.PutSection)
	r.With(RequireSignIn).Put("/users/me", h.UpdateProfile)

	r.Post("/slugs/legal", h.CheckSlug)
	r.Get("/search", h.Search)
	r.Post("/search/semantic", h.SemanticSearch)
	r.Get("/screenshot/{slug}", h.Screenshot)

	// AI. Permission checks happen in the proxy gate.
	r.Route("/ai", func(r chi.Router) {
		r.Post("/proxy", ai.Proxy)
		r.Post("/chat", ai.CreateChat)
		r.Get("/chat/{id}", ai.GetChat)
		r.Post("/chat/{id}/messages", ai.PostChatMessage)
		r.Post("/chat/{id}/stream", ai.StreamChat)
		r.Post("/chat/{id}/retry", ai.RetryChat)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequirePermission(d.Permissions, models.PermissionAdmin))
		r.Post("/embeddings/reindex", admin.ReindexEmbeddings)
		r.Post("/embeddings/cleanup", admin.CleanupEmbeddings)
		r.Post("/tweets/post", admin.PostTweet)
	})

	return r
}
