package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/testutil"
)

type fakeEmbedder struct {
	calls []string
	dim   int
}

// Embed returns a vector whose first components encode the text's letters so
// that similar texts have similar vectors.
func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	dim := f.dim
	if dim == 0 {
		dim = 1536
	}
	v := make([]float32, dim)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func contentCard(id, title, body string) *models.Card {
	return &models.Card{ID: id, CardType: models.CardTypeContent, Title: title, Body: body}
}

func TestKey(t *testing.T) {
	if got := Key("abc", TypeOpenAISmall, 1); got != "abc+openai.com-text-embedding-3-small+1" {
		t.Errorf("Key = %q", got)
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		card *models.Card
		want string
	}{
		{"title and body", contentCard("a", "Hello", "<p>World</p>"), "Hello\nWorld"},
		{"no title", contentCard("a", "", "<p>World</p>"), "World"},
		{"script stripped", contentCard("a", "", "<p>Hi</p><script>alert(1)</script><style>p{}</style>"), "Hi"},
		{"working notes", &models.Card{CardType: models.CardTypeWorkingNotes, Body: "<b>notes</b>"}, "notes"},
		{"section head", &models.Card{CardType: models.CardTypeSectionHead, Title: "S", Body: "<p>x</p>"}, ""},
		{"concept", &models.Card{CardType: models.CardTypeConcept, Title: "C"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractText(tt.card)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ExtractText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessIdempotent(t *testing.T) {
	store := testutil.TestStore(t)
	emb := &fakeEmbedder{}
	p := NewPipeline(store, emb, discardLogger())
	ctx := context.Background()
	card := contentCard("c1", "Title", "<p>Body</p>")

	for range 2 {
		if err := p.Process(ctx, card); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if len(emb.calls) != 1 {
		t.Errorf("embedder calls = %d, want 1", len(emb.calls))
	}

	info, err := docstore.GetAs[models.EmbeddingInfo](ctx, store, models.CollectionEmbeddings, Key("c1", TypeOpenAISmall, CurrentVersion))
	if err != nil {
		t.Fatal(err)
	}
	if info.Text != "Title\nBody" || info.Version != CurrentVersion || info.EmbeddingType != TypeOpenAISmall {
		t.Errorf("info = %+v", info)
	}

	card.Body = "<p>Changed</p>"
	if err := p.Process(ctx, card); err != nil {
		t.Fatal(err)
	}
	if len(emb.calls) != 2 {
		t.Errorf("embedder calls after change = %d, want 2", len(emb.calls))
	}
}

func TestProcessDimensionMismatch(t *testing.T) {
	store := testutil.TestStore(t)
	p := NewPipeline(store, &fakeEmbedder{dim: 8}, discardLogger())
	err := p.Process(context.Background(), contentCard("c1", "T", "<p>B</p>"))
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	snap, _ := store.Get(context.Background(), models.CollectionEmbeddings, Key("c1", TypeOpenAISmall, CurrentVersion))
	if snap.Exists() {
		t.Error("no record should be written on mismatch")
	}
}

func TestProcessEmptyTextNoCall(t *testing.T) {
	store := testutil.TestStore(t)
	emb := &fakeEmbedder{}
	p := NewPipeline(store, emb, discardLogger())
	ctx := context.Background()

	card := contentCard("c1", "T", "<p>B</p>")
	_ = p.Process(ctx, card)
	card.CardType = models.CardTypeConcept
	if err := p.Process(ctx, card); err != nil {
		t.Fatal(err)
	}
	if len(emb.calls) != 1 {
		t.Errorf("embedder calls = %d, want 1", len(emb.calls))
	}
	snap, _ := store.Get(ctx, models.CollectionEmbeddings, Key("c1", TypeOpenAISmall, CurrentVersion))
	if snap.Exists() {
		t.Error("stale record should be removed when card has no text")
	}
}

func TestDelete(t *testing.T) {
	store := testutil.TestStore(t)
	p := NewPipeline(store, &fakeEmbedder{}, discardLogger())
	ctx := context.Background()

	if err := p.Delete(ctx, "never-embedded"); err != nil {
		t.Errorf("Delete without record: %v", err)
	}

	_ = p.Process(ctx, contentCard("c1", "T", "<p>B</p>"))
	if err := p.Delete(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	key := Key("c1", TypeOpenAISmall, CurrentVersion)
	for _, coll := range []string{models.CollectionEmbeddings, models.CollectionEmbeddingVectors} {
		snap, _ := store.Get(ctx, coll, key)
		if snap.Exists() {
			t.Errorf("%s/%s should be deleted", coll, key)
		}
	}
}

func TestHandleChangeDeletion(t *testing.T) {
	store := testutil.TestStore(t)
	p := NewPipeline(store, &fakeEmbedder{}, discardLogger())
	ctx := context.Background()

	var changes []docstore.Change
	store.Subscribe(func(c docstore.Change) {
		if c.Collection == models.CollectionCards {
			changes = append(changes, c)
		}
	})
	testutil.Put(t, store, models.CollectionCards, "c1", contentCard("c1", "T", "<p>B</p>"))
	_ = store.Delete(ctx, models.CollectionCards, "c1")

	for _, c := range changes {
		if err := p.HandleChange(ctx, c); err != nil {
			t.Fatalf("HandleChange(%s): %v", c.Kind(), err)
		}
	}
	snap, _ := store.Get(ctx, models.CollectionEmbeddings, Key("c1", TypeOpenAISmall, CurrentVersion))
	if snap.Exists() {
		t.Error("record should be gone after card deletion")
	}
}

func TestHandleChangeStaleDelivery(t *testing.T) {
	store := testutil.TestStore(t)
	emb := &fakeEmbedder{}
	p := NewPipeline(store, emb, discardLogger())
	ctx := context.Background()

	var changes []docstore.Change
	store.Subscribe(func(c docstore.Change) {
		if c.Collection == models.CollectionCards {
			changes = append(changes, c)
		}
	})
	testutil.Put(t, store, models.CollectionCards, "c1", contentCard("c1", "T", "<p>old</p>"))
	testutil.Put(t, store, models.CollectionCards, "c1", contentCard("c1", "T", "<p>new</p>"))
	if len(changes) != 2 {
		t.Fatalf("captured %d changes", len(changes))
	}

	// Newest first, then the older change arrives late.
	for _, c := range []docstore.Change{changes[1], changes[0]} {
		if err := p.HandleChange(ctx, c); err != nil {
			t.Fatalf("HandleChange: %v", err)
		}
	}
	info, err := docstore.GetAs[models.EmbeddingInfo](ctx, store, models.CollectionEmbeddings, Key("c1", TypeOpenAISmall, CurrentVersion))
	if err != nil {
		t.Fatal(err)
	}
	if info.Text != "T\nnew" {
		t.Errorf("text = %q, want the latest card state", info.Text)
	}
	if len(emb.calls) != 1 {
		t.Errorf("embedder calls = %d, want 1", len(emb.calls))
	}
}

func TestReindexAndCleanup(t *testing.T) {
	store := testutil.TestStore(t)
	emb := &fakeEmbedder{}
	p := NewPipeline(store, emb, discardLogger())
	ctx := context.Background()

	testutil.Put(t, store, models.CollectionCards, "a", contentCard("a", "Alpha", "<p>one</p>"))
	testutil.Put(t, store, models.CollectionCards, "b", contentCard("b", "Beta", "<p>two</p>"))
	testutil.Put(t, store, models.CollectionCards, "h", &models.Card{ID: "h", CardType: models.CardTypeSectionHead})
	testutil.Put(t, store, models.CollectionEmbeddings, Key("a", TypeOpenAISmall, 0), models.EmbeddingInfo{Card: "a", Version: 0})

	report, err := p.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Cards != 3 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(emb.calls) != 2 {
		t.Errorf("embedder calls = %d, want 2", len(emb.calls))
	}

	n, err := p.Cleanup(ctx, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleaned %d, want 1", n)
	}
	current, _ := store.Query(ctx, models.CollectionEmbeddings)
	if len(current) != 2 {
		t.Errorf("remaining records = %d, want 2", len(current))
	}
}

func TestSimilarAndSemanticSort(t *testing.T) {
	store := testutil.TestStore(t)
	p := NewPipeline(store, &fakeEmbedder{}, discardLogger())
	ctx := context.Background()

	_ = p.Process(ctx, contentCard("aaa", "", "<p>aaaa</p>"))
	_ = p.Process(ctx, contentCard("aab", "", "<p>aaab</p>"))
	_ = p.Process(ctx, contentCard("zzz", "", "<p>zzzz</p>"))

	sim, err := p.Similar(ctx, "aaa", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(sim) != 1 || sim[0].CardID != "aab" {
		t.Errorf("Similar = %+v, want aab", sim)
	}

	sorted, err := p.SemanticSort(ctx, "zz", []string{"aaa", "nope", "zzz"})
	if err != nil {
		t.Fatal(err)
	}
	if sorted[0].CardID != "zzz" || sorted[2].CardID != "nope" {
		t.Errorf("SemanticSort = %+v", sorted)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical = %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal = %v", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("length mismatch = %v", got)
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != string(openai.SmallEmbedding3) || len(req.Input) != 1 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],"model":"text-embedding-3-small"}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	e := NewOpenAIEmbedder(openai.NewClientWithConfig(cfg))

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("vec = %v", vec)
	}
}
