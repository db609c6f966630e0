package screenshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/testutil"
)

type fakeRenderer struct {
	calls int
	html  string
}

func (f *fakeRenderer) Render(_ context.Context, html string, w, h int) ([]byte, error) {
	f.calls++
	f.html = html
	return []byte("png"), nil
}

type mapCache map[string][]byte

func (m mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapCache) Put(_ context.Context, key string, data []byte) error {
	m[key] = data
	return nil
}

func TestBySlugCaches(t *testing.T) {
	store := testutil.TestStore(t)
	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	testutil.Put(t, store, models.CollectionCards, "c1", models.Card{
		ID: "c1", Title: "Hello", Slugs: []string{"hello"}, Updated: updated,
		Body: `<p>Body</p><script>alert(1)</script>`,
	})

	r := &fakeRenderer{}
	cache := mapCache{}
	svc := NewService(store, r, cache, 0, 0, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	for range 2 {
		data, err := svc.BySlug(context.Background(), "hello")
		if err != nil {
			t.Fatalf("BySlug: %v", err)
		}
		if string(data) != "png" {
			t.Errorf("data = %q", data)
		}
	}
	if r.calls != 1 {
		t.Errorf("renders = %d, want 1", r.calls)
	}
	if _, ok := cache["screenshots/c1-1704164645.png"]; !ok {
		t.Errorf("cache keys = %v", cache)
	}
	if strings.Contains(r.html, "<script>") {
		t.Error("body must be sanitized")
	}
	if !strings.Contains(r.html, "<h1>Hello</h1>") {
		t.Errorf("page missing title: %s", r.html)
	}
}

func TestBySlugUnknown(t *testing.T) {
	svc := NewService(testutil.TestStore(t), &fakeRenderer{}, nil, 0, 0, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if _, err := svc.BySlug(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
