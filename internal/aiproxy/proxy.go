// Package aiproxy gates access to the remote LLM: it authorizes the caller,
// enforces the endpoint allow-list and a per-user rate limit, and normalizes
// upstream failures.
package aiproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/metrics"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/permissions"
)

// EndpointChatCompletion is the only endpoint the proxy forwards.
const EndpointChatCompletion = "createChatCompletion"

// PermissionSource resolves a caller's effective permissions.
type PermissionSource interface {
	For(ctx context.Context, id *auth.Identity) (models.Permissions, error)
}

// Gate decides whether a caller may use the remote AI.
type Gate struct {
	perms PermissionSource
}

// NewGate creates a Gate.
func NewGate(perms PermissionSource) *Gate {
	return &Gate{perms: perms}
}

// Authorize rejects callers without an identity before any permission lookup,
// then requires admin or remoteAI.
func (g *Gate) Authorize(ctx context.Context, id *auth.Identity) error {
	if id == nil || id.UID == "" {
		return apperr.Unauthenticated("sign in to use AI features")
	}
	perms, err := g.perms.For(ctx, id)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "load permissions")
	}
	if !permissions.Has(perms, models.PermissionAdmin, models.PermissionRemoteAI) {
		return apperr.PermissionDenied("user %s may not use remote AI", id.UID)
	}
	return nil
}

// Proxy forwards authorized chat completion requests to OpenAI.
type Proxy struct {
	gate    *Gate
	client  *openai.Client
	limiter *KeyedRateLimiter
	model   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxy creates a Proxy. client is nil when no API key is configured.
// model fills requests that leave it empty.
func NewProxy(gate *Gate, client *openai.Client, limiter *KeyedRateLimiter, model string, logger *slog.Logger, m *metrics.Metrics) *Proxy {
	return &Proxy{gate: gate, client: client, limiter: limiter, model: model, logger: logger, metrics: m}
}

// Gate returns the proxy's gate.
func (p *Proxy) Gate() *Gate { return p.gate }

// Client returns the upstream client, or nil when none is configured.
func (p *Proxy) Client() *openai.Client { return p.client }

// Model returns the default chat model.
func (p *Proxy) Model() string { return p.model }

// Admit runs every check short of the upstream call: identity, key
// presence, permissions and rate limit.
func (p *Proxy) Admit(ctx context.Context, id *auth.Identity) error {
	if id == nil || id.UID == "" {
		return apperr.Unauthenticated("sign in to use AI features")
	}
	if p.client == nil {
		return apperr.FailedPrecondition("OpenAI API key is not configured")
	}
	if err := p.gate.Authorize(ctx, id); err != nil {
		return err
	}
	if p.limiter != nil && !p.limiter.Allow(id.UID) {
		return apperr.New(apperr.KindResourceExhausted, "AI rate limit exceeded, try again later")
	}
	return nil
}

// Forward runs endpoint with payload on behalf of id and returns the
// upstream response.
func (p *Proxy) Forward(ctx context.Context, id *auth.Identity, endpoint string, payload json.RawMessage) (*openai.ChatCompletionResponse, error) {
	resp, err := p.forward(ctx, id, endpoint, payload)
	p.count(err)
	return resp, err
}

func (p *Proxy) forward(ctx context.Context, id *auth.Identity, endpoint string, payload json.RawMessage) (*openai.ChatCompletionResponse, error) {
	if id == nil || id.UID == "" {
		return nil, apperr.Unauthenticated("sign in to use AI features")
	}
	if endpoint != EndpointChatCompletion {
		return nil, apperr.InvalidArgument("endpoint %q is not allowed", endpoint)
	}
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, apperr.InvalidArgument("payload is not a chat completion request: %v", err)
	}
	if err := p.Admit(ctx, id); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = p.model
	}
	if req.Stream {
		return nil, apperr.InvalidArgument("streaming is only available through chat streams")
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		p.logger.Error("chat completion failed",
			slog.String("uid", id.UID),
			slog.String("error", err.Error()))
		return nil, NormalizeError(err)
	}
	return &resp, nil
}

func (p *Proxy) count(err error) {
	if p.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	p.metrics.AIRequests.WithLabelValues(result).Inc()
}

// NormalizeError maps any upstream failure to the unknown kind, keeping the
// provider's HTTP status as metadata.
func NormalizeError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperr.Wrap(apperr.KindUnknown, err, apiErr.Message).
			WithMetadata("status", apiErr.HTTPStatusCode).
			WithMetadata("statusText", http.StatusText(apiErr.HTTPStatusCode))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperr.Wrap(apperr.KindUnknown, err, "upstream request failed").
			WithMetadata("status", reqErr.HTTPStatusCode).
			WithMetadata("statusText", http.StatusText(reqErr.HTTPStatusCode))
	}
	return apperr.Wrap(apperr.KindUnknown, err, fmt.Sprintf("upstream error: %v", err))
}
