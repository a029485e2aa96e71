package record

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudcurio/kbsearch/internal/domain"
	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
)

func TestPut_CreateThenReplace(t *testing.T) {
	ms := newMemStore()
	repo := New(ms, "kb:")
	ctx := context.Background()

	doc, _ := domdoc.New("d1", "Budget", domdoc.Attrs{Text: "first", Language: "en"})
	created, err := repo.Put(ctx, doc.Record())
	if err != nil || !created {
		t.Fatalf("first put: created=%v err=%v", created, err)
	}
	if _, ok := ms.hashes["kb:doc:d1"]; !ok {
		t.Fatalf("unexpected keys: %v", ms.hashes)
	}

	doc2, _ := domdoc.New("d1", "Budget v2", domdoc.Attrs{})
	created, err = repo.Put(ctx, doc2.Record())
	if err != nil || created {
		t.Fatalf("second put: created=%v err=%v", created, err)
	}

	got, err := repo.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title() != "Budget v2" || got.Text() != "" || got.Language() != "" {
		t.Errorf("stale fields survived replace: %+v", got)
	}
}

func TestPut_StoreError(t *testing.T) {
	ms := newMemStore()
	ms.err = errors.New("READONLY")
	repo := New(ms, "kb:")

	rec, _ := record.NewEntity("e1", "Senate", "org", "")
	if _, err := repo.Put(context.Background(), rec); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	repo := New(newMemStore(), "kb:")
	_, err := repo.GetDocument(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPage_SortedAndPaged(t *testing.T) {
	ms := newMemStore()
	ms.scanDups = true
	repo := New(ms, "kb:")
	ctx := context.Background()

	for _, id := range []string{"e3", "e1", "e5", "e2", "e4"} {
		rec, _ := record.NewEntity(id, "name-"+id, "org", "")
		if _, err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	doc, _ := domdoc.New("d1", "Budget", domdoc.Attrs{})
	_, _ = repo.Put(ctx, doc.Record())

	page, more, err := repo.Page(ctx, record.Entities, 0, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if !more || len(page) != 2 || page[0].ID != "e1" || page[1].ID != "e2" {
		t.Fatalf("first page: more=%v %+v", more, page)
	}

	page, more, err = repo.Page(ctx, record.Entities, 4, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if more || len(page) != 1 || page[0].ID != "e5" {
		t.Fatalf("last page: more=%v %+v", more, page)
	}
	if page[0].Kind != record.Entities || page[0].Fields["name"] != "name-e5" {
		t.Errorf("unexpected record: %+v", page[0])
	}

	page, more, err = repo.Page(ctx, record.Entities, 10, 2)
	if err != nil || more || len(page) != 0 {
		t.Errorf("past the end: more=%v page=%v err=%v", more, page, err)
	}
}

func TestPage_DropsInternalFields(t *testing.T) {
	ms := newMemStore()
	repo := New(ms, "kb:")
	ctx := context.Background()

	doc, _ := domdoc.New("d1", "Budget", domdoc.Attrs{})
	_, _ = repo.Put(ctx, doc.Record())
	_ = ms.HSet(ctx, "kb:doc:d1", map[string]string{"__vector": "\x00\x00\x80?"})

	page, _, err := repo.Page(ctx, record.Documents, 0, 10)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected one record, got %v", page)
	}
	if _, ok := page[0].Fields["__vector"]; ok {
		t.Error("internal field exported")
	}
}

func TestPage_InvalidArgs(t *testing.T) {
	repo := New(newMemStore(), "kb:")
	for _, tc := range [][2]int{{-1, 10}, {0, 0}} {
		t.Run(fmt.Sprintf("offset=%d,limit=%d", tc[0], tc[1]), func(t *testing.T) {
			if _, _, err := repo.Page(context.Background(), record.Documents, tc[0], tc[1]); err == nil {
				t.Error("expected error")
			}
		})
	}
}
