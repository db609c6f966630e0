package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/starford/compendium/internal/aiproxy"
	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/testutil"
)

type staticPerms models.Permissions

func (p staticPerms) For(context.Context, *auth.Identity) (models.Permissions, error) {
	return models.Permissions(p), nil
}

// fakeOpenAI answers chat completions; fail makes the next responses 500s.
func fakeOpenAI(t *testing.T, fail *atomic.Bool) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"down","type":"server_error"}}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"stream":true`) {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, part := range []string{"Hel", "lo"} {
				fmt.Fprintf(w, "data: {\"id\":\"s\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"reply"},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)
	cfg := openai.DefaultConfig("k")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func newService(t *testing.T, fail *atomic.Bool) *Service {
	store := testutil.TestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := aiproxy.NewGate(staticPerms{models.PermissionRemoteAI: true})
	proxy := aiproxy.NewProxy(gate, fakeOpenAI(t, fail), nil, "gpt-4o-mini", logger, nil)
	return NewService(store, proxy, logger)
}

var user = &auth.Identity{UID: "u1"}

func TestCreateAndPost(t *testing.T) {
	svc := newService(t, new(atomic.Bool))
	ctx := context.Background()

	thread, err := svc.Create(ctx, user, "What is a card?")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(thread.Messages) != 2 || thread.Messages[1].Content != "reply" {
		t.Fatalf("messages = %+v", thread.Messages)
	}
	if thread.Chat.Title != "What is a card?" || thread.Chat.Status != models.ChatStatusComplete {
		t.Errorf("chat = %+v", thread.Chat)
	}

	thread, err = svc.Post(ctx, user, thread.Chat.ID, "And a slug?")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	got, err := svc.Get(ctx, user, thread.Chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 4 {
		t.Fatalf("stored %d messages, want 4", len(got.Messages))
	}
	for i, m := range got.Messages {
		if m.Index != i {
			t.Errorf("message %d has index %d", i, m.Index)
		}
	}
}

func TestOwnership(t *testing.T) {
	svc := newService(t, new(atomic.Bool))
	thread, err := svc.Create(context.Background(), user, "hi")
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.Get(context.Background(), &auth.Identity{UID: "intruder"}, thread.Chat.ID)
	if apperr.KindOf(err) != apperr.KindPermissionDenied {
		t.Errorf("kind = %s, want permission-denied", apperr.KindOf(err))
	}
	if _, err := svc.Create(context.Background(), nil, "hi"); apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Errorf("anonymous create kind = %s", apperr.KindOf(err))
	}
}

func TestRetryAfterFailure(t *testing.T) {
	fail := new(atomic.Bool)
	svc := newService(t, fail)
	ctx := context.Background()

	thread, err := svc.Create(ctx, user, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Retry(ctx, user, thread.Chat.ID); apperr.KindOf(err) != apperr.KindFailedPrecondition {
		t.Errorf("retry of healthy chat kind = %s", apperr.KindOf(err))
	}

	fail.Store(true)
	_, err = svc.Post(ctx, user, thread.Chat.ID, "again")
	if apperr.KindOf(err) != apperr.KindUnknown {
		t.Fatalf("failed post kind = %s (%v)", apperr.KindOf(err), err)
	}
	stored, _ := svc.Get(ctx, user, thread.Chat.ID)
	if stored.Chat.Status != models.ChatStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Chat.Status)
	}

	fail.Store(false)
	retried, err := svc.Retry(ctx, user, thread.Chat.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Chat.Status != models.ChatStatusComplete || len(retried.Messages) != 4 {
		t.Errorf("after retry: status=%s messages=%d", retried.Chat.Status, len(retried.Messages))
	}
}

func TestStream(t *testing.T) {
	svc := newService(t, new(atomic.Bool))
	ctx := context.Background()
	thread, err := svc.Create(ctx, user, "hi")
	if err != nil {
		t.Fatal(err)
	}

	var deltas []string
	msg, err := svc.Stream(ctx, user, thread.Chat.ID, "stream please", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if msg.Content != "Hello" || strings.Join(deltas, "|") != "Hel|lo" {
		t.Errorf("msg=%q deltas=%v", msg.Content, deltas)
	}
	stored, _ := svc.Get(ctx, user, thread.Chat.ID)
	if last := stored.Messages[len(stored.Messages)-1]; last.Content != "Hello" {
		t.Errorf("last stored message = %q", last.Content)
	}
}

func TestTitleTruncates(t *testing.T) {
	long := strings.Repeat("word ", 40)
	if got := []rune(title(long)); len(got) != titleLength {
		t.Errorf("title length = %d", len(got))
	}
}
