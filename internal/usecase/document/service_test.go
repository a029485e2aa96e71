package document

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cloudcurio/kbsearch/internal/domain"
	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
	"github.com/cloudcurio/kbsearch/internal/metrics"
)

// --- Mocks ---

type mockRepo struct {
	created bool
	err     error
	pageErr error
	puts    []record.Record
	pages   []int
	calls   *[]string
}

func (m *mockRepo) Put(_ context.Context, rec record.Record) (bool, error) {
	*m.calls = append(*m.calls, "put")
	m.puts = append(m.puts, rec)
	return m.created, m.err
}

func (m *mockRepo) GetDocument(_ context.Context, id string) (domdoc.Document, error) {
	for _, rec := range m.puts {
		if rec.Kind == record.Documents && rec.ID == id {
			return domdoc.Reconstruct(id, rec.Fields), nil
		}
	}
	return domdoc.Document{}, domain.ErrNotFound
}

func (m *mockRepo) Page(_ context.Context, kind record.Kind, offset, limit int) ([]record.Record, bool, error) {
	m.pages = append(m.pages, offset)
	if m.pageErr != nil {
		return nil, false, m.pageErr
	}
	var all []record.Record
	for _, rec := range m.puts {
		if rec.Kind == kind {
			all = append(all, rec)
		}
	}
	if offset >= len(all) {
		return nil, false, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], end < len(all), nil
}

type mockKeyword struct {
	err   error
	ids   []string
	calls *[]string
}

func (m *mockKeyword) Index(_ context.Context, doc *domdoc.Document) error {
	*m.calls = append(*m.calls, "keyword")
	m.ids = append(m.ids, doc.ID())
	return m.err
}

type mockVector struct {
	err     error
	vectors map[string][]float32
	calls   *[]string
}

func (m *mockVector) Upsert(_ context.Context, id string, v []float32) error {
	*m.calls = append(*m.calls, "vector")
	if m.vectors == nil {
		m.vectors = map[string][]float32{}
	}
	m.vectors[id] = v
	return m.err
}

type mockEmbedder struct {
	err   error
	text  string
	calls *[]string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	*m.calls = append(*m.calls, "embed")
	m.text = text
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}, nil
}

type fixture struct {
	calls []string
	repo  *mockRepo
	kw    *mockKeyword
	vec   *mockVector
	emb   *mockEmbedder
	svc   *Service
}

func newFixture() *fixture {
	f := &fixture{}
	f.repo = &mockRepo{created: true, calls: &f.calls}
	f.kw = &mockKeyword{calls: &f.calls}
	f.vec = &mockVector{calls: &f.calls}
	f.emb = &mockEmbedder{calls: &f.calls}
	f.svc = New(f.repo, f.kw, f.vec, f.emb, nil)
	return f
}

func makeDoc(t *testing.T) domdoc.Document {
	t.Helper()
	doc, err := domdoc.New("doc-1", "Budget 2024", domdoc.Attrs{Text: "appropriations"})
	if err != nil {
		t.Fatalf("domdoc.New: %v", err)
	}
	return doc
}

// --- IngestDocument ---

func TestIngestDocument_Success(t *testing.T) {
	f := newFixture()
	doc := makeDoc(t)

	created, err := f.svc.IngestDocument(context.Background(), &doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true")
	}

	want := []string{"embed", "put", "keyword", "vector"}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", f.calls, want)
		}
	}

	if f.emb.text != "Budget 2024\nappropriations" {
		t.Errorf("embedded %q", f.emb.text)
	}
	if f.repo.puts[0].Kind != record.Documents || f.repo.puts[0].ID != "doc-1" {
		t.Errorf("stored %+v", f.repo.puts[0])
	}
	if len(f.vec.vectors["doc-1"]) != 2 {
		t.Errorf("vector not upserted: %v", f.vec.vectors)
	}
}

func TestIngestDocument_EmbeddingFailure(t *testing.T) {
	f := newFixture()
	f.emb.err = domain.ErrEmbeddingProviderError
	doc := makeDoc(t)

	_, err := f.svc.IngestDocument(context.Background(), &doc)
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Errorf("expected cause preserved, got %v", err)
	}
	if len(f.repo.puts) != 0 {
		t.Error("nothing should be stored when embedding fails")
	}
}

func TestIngestDocument_StoreFailure(t *testing.T) {
	f := newFixture()
	storeErr := errors.New("connection refused")
	f.repo.err = storeErr
	doc := makeDoc(t)

	_, err := f.svc.IngestDocument(context.Background(), &doc)
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
	if errors.Is(err, domain.ErrBackendUnavailable) {
		t.Error("store failure must not be reported as backend unavailable")
	}
	if len(f.kw.ids) != 0 {
		t.Error("keyword index must not run after store failure")
	}
}

func TestIngestDocument_IndexFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"keyword", func(f *fixture) { f.kw.err = errors.New("opensearch down") }},
		{"vector", func(f *fixture) { f.vec.err = errors.New("qdrant down") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			tc.setup(f)
			doc := makeDoc(t)

			created, err := f.svc.IngestDocument(context.Background(), &doc)
			if !errors.Is(err, domain.ErrBackendUnavailable) {
				t.Fatalf("expected ErrBackendUnavailable, got %v", err)
			}
			if !created {
				t.Error("created should reflect the stored record")
			}
		})
	}
}

func TestIngestDocument_CountsMetrics(t *testing.T) {
	f := newFixture()
	doc := makeDoc(t)

	before := testutil.ToFloat64(metrics.IngestTotal.WithLabelValues("documents", "ok"))
	_, _ = f.svc.IngestDocument(context.Background(), &doc)
	after := testutil.ToFloat64(metrics.IngestTotal.WithLabelValues("documents", "ok"))

	if after-before != 1 {
		t.Errorf("expected one ok ingest, got delta %v", after-before)
	}
}

// --- PutRecord ---

func TestPutRecord_Entity(t *testing.T) {
	f := newFixture()
	rec, err := record.NewEntity("e1", "Congress", "org", "")
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}

	created, err := f.svc.PutRecord(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true")
	}
	if len(f.calls) != 1 || f.calls[0] != "put" {
		t.Errorf("entity must only be stored, calls = %v", f.calls)
	}
}

func TestPutRecord_RejectsDocuments(t *testing.T) {
	f := newFixture()
	doc := makeDoc(t)

	_, err := f.svc.PutRecord(context.Background(), doc.Record())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPutRecord_StoreFailure(t *testing.T) {
	f := newFixture()
	f.repo.err = errors.New("timeout")
	rec, _ := record.NewRelation("r1", "e1", "e2", "funds")

	if _, err := f.svc.PutRecord(context.Background(), rec); err == nil {
		t.Fatal("expected error")
	}
}

// --- GetDocument ---

func TestGetDocument(t *testing.T) {
	f := newFixture()
	doc := makeDoc(t)
	if _, err := f.svc.IngestDocument(context.Background(), &doc); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got, err := f.svc.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title() != "Budget 2024" || got.Text() != "appropriations" {
		t.Errorf("got %+v", got)
	}

	if _, err := f.svc.GetDocument(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- ReindexKeyword ---

func storedDocs(t *testing.T, ids ...string) []record.Record {
	t.Helper()
	out := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		doc, err := domdoc.New(id, "Title "+id, domdoc.Attrs{Text: "body"})
		if err != nil {
			t.Fatalf("domdoc.New: %v", err)
		}
		out = append(out, doc.Record())
	}
	return out
}

func TestReindexKeyword_ReplaysAllPages(t *testing.T) {
	f := newFixture()
	f.repo.puts = storedDocs(t, "a", "b", "c", "d", "e")
	f.repo.puts = append(f.repo.puts, record.Record{Kind: record.Entities, ID: "ent-1", Fields: map[string]string{"name": "x"}})

	n, err := f.svc.ReindexKeyword(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("indexed = %d, want 5", n)
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(f.kw.ids) != len(want) {
		t.Fatalf("keyword ids = %v, want %v", f.kw.ids, want)
	}
	for i := range want {
		if f.kw.ids[i] != want[i] {
			t.Errorf("keyword ids[%d] = %q, want %q", i, f.kw.ids[i], want[i])
		}
	}
	if len(f.repo.pages) != 3 {
		t.Errorf("pages fetched at offsets %v, want 3 pages", f.repo.pages)
	}
	for _, c := range f.calls {
		if c == "embed" || c == "vector" || c == "put" {
			t.Errorf("reindex must only touch the keyword driver, saw %q", c)
		}
	}
}

func TestReindexKeyword_RestoresTitle(t *testing.T) {
	f := newFixture()
	f.repo.puts = storedDocs(t, "doc-7")

	var got domdoc.Document
	kw := &capturingKeyword{doc: &got}
	svc := New(f.repo, kw, f.vec, f.emb, nil)

	if _, err := svc.ReindexKeyword(context.Background(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID() != "doc-7" || got.Title() != "Title doc-7" || got.Text() != "body" {
		t.Errorf("reindexed doc = %q/%q/%q", got.ID(), got.Title(), got.Text())
	}
}

type capturingKeyword struct{ doc *domdoc.Document }

func (c *capturingKeyword) Index(_ context.Context, doc *domdoc.Document) error {
	*c.doc = *doc
	return nil
}

func TestReindexKeyword_Empty(t *testing.T) {
	f := newFixture()

	n, err := f.svc.ReindexKeyword(context.Background(), 100)
	if err != nil || n != 0 {
		t.Errorf("ReindexKeyword = %d, %v; want 0, nil", n, err)
	}
}

func TestReindexKeyword_Errors(t *testing.T) {
	t.Run("page", func(t *testing.T) {
		f := newFixture()
		f.repo.pageErr = errors.New("redis down")
		if _, err := f.svc.ReindexKeyword(context.Background(), 10); !errors.Is(err, f.repo.pageErr) {
			t.Errorf("expected page error, got %v", err)
		}
	})
	t.Run("index", func(t *testing.T) {
		f := newFixture()
		f.repo.puts = storedDocs(t, "a", "b")
		f.kw.err = errors.New("bleve closed")
		n, err := f.svc.ReindexKeyword(context.Background(), 10)
		if !errors.Is(err, f.kw.err) {
			t.Errorf("expected index error, got %v", err)
		}
		if n != 0 {
			t.Errorf("indexed = %d, want 0", n)
		}
	})
	t.Run("page size", func(t *testing.T) {
		f := newFixture()
		if _, err := f.svc.ReindexKeyword(context.Background(), 0); err == nil {
			t.Error("expected error for zero page size")
		}
	})
}
