package aiproxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/models"
)

type countingPerms struct {
	perms models.Permissions
	calls int
}

func (c *countingPerms) For(context.Context, *auth.Identity) (models.Permissions, error) {
	c.calls++
	return c.perms, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeOpenAI(t *testing.T, status int, body string) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

const okCompletion = `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`

var payload = json.RawMessage(`{"messages":[{"role":"user","content":"hi"}]}`)

func TestUnauthenticatedSkipsPermissionLookup(t *testing.T) {
	perms := &countingPerms{perms: models.Permissions{models.PermissionAdmin: true}}
	p := NewProxy(NewGate(perms), fakeOpenAI(t, 200, okCompletion), nil, "gpt-4o-mini", discardLogger(), nil)

	_, err := p.Forward(context.Background(), nil, EndpointChatCompletion, payload)
	if apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Errorf("kind = %s, want unauthenticated", apperr.KindOf(err))
	}
	if err := NewGate(perms).Authorize(context.Background(), nil); apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Errorf("Authorize(nil) kind = %s", apperr.KindOf(err))
	}
	if perms.calls != 0 {
		t.Errorf("permission lookups = %d, want 0", perms.calls)
	}
}

func TestForwardChecks(t *testing.T) {
	user := &auth.Identity{UID: "u1"}
	tests := []struct {
		name     string
		perms    models.Permissions
		client   *openai.Client
		endpoint string
		want     apperr.Kind
	}{
		{"bad endpoint", models.Permissions{models.PermissionAdmin: true}, fakeOpenAI(t, 200, okCompletion), "createImage", apperr.KindInvalidArgument},
		{"no key", models.Permissions{models.PermissionAdmin: true}, nil, EndpointChatCompletion, apperr.KindFailedPrecondition},
		{"no permission", models.Permissions{"view": true}, fakeOpenAI(t, 200, okCompletion), EndpointChatCompletion, apperr.KindPermissionDenied},
		{"upstream failure", models.Permissions{models.PermissionRemoteAI: true}, fakeOpenAI(t, 500, `{"error":{"message":"boom","type":"server_error"}}`), EndpointChatCompletion, apperr.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProxy(NewGate(&countingPerms{perms: tt.perms}), tt.client, nil, "gpt-4o-mini", discardLogger(), nil)
			_, err := p.Forward(context.Background(), user, tt.endpoint, payload)
			if got := apperr.KindOf(err); got != tt.want {
				t.Errorf("kind = %s, want %s (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestUpstreamErrorMetadata(t *testing.T) {
	p := NewProxy(NewGate(&countingPerms{perms: models.Permissions{models.PermissionAdmin: true}}),
		fakeOpenAI(t, 503, `{"error":{"message":"overloaded","type":"server_error"}}`), nil, "gpt-4o-mini", discardLogger(), nil)
	_, err := p.Forward(context.Background(), &auth.Identity{UID: "u1"}, EndpointChatCompletion, payload)
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *apperr.Error", err)
	}
	if ae.Metadata["status"] != 503 || ae.Metadata["statusText"] != "Service Unavailable" {
		t.Errorf("metadata = %v", ae.Metadata)
	}
}

func TestForwardSuccess(t *testing.T) {
	p := NewProxy(NewGate(&countingPerms{perms: models.Permissions{models.PermissionRemoteAI: true}}),
		fakeOpenAI(t, 200, okCompletion), nil, "gpt-4o-mini", discardLogger(), nil)
	resp, err := p.Forward(context.Background(), &auth.Identity{UID: "u1"}, EndpointChatCompletion, payload)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hello" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := NewKeyedRateLimiter(1, 2)
	p := NewProxy(NewGate(&countingPerms{perms: models.Permissions{models.PermissionAdmin: true}}),
		fakeOpenAI(t, 200, okCompletion), limiter, "gpt-4o-mini", discardLogger(), nil)
	user := &auth.Identity{UID: "u1"}

	for i := range 2 {
		if _, err := p.Forward(context.Background(), user, EndpointChatCompletion, payload); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err := p.Forward(context.Background(), user, EndpointChatCompletion, payload)
	if apperr.KindOf(err) != apperr.KindResourceExhausted {
		t.Errorf("kind = %s, want resource-exhausted", apperr.KindOf(err))
	}
	if _, err := p.Forward(context.Background(), &auth.Identity{UID: "u2"}, EndpointChatCompletion, payload); err != nil {
		t.Errorf("other user should have own bucket: %v", err)
	}
}

func TestRateLimiterEviction(t *testing.T) {
	l := NewKeyedRateLimiter(60, 1)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	l.Allow("a")
	l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("Len = %d", l.Len())
	}
	clock = clock.Add(2 * time.Hour)
	l.Allow("c")
	if l.Len() != 1 {
		t.Errorf("idle keys should be evicted, Len = %d", l.Len())
	}
}
