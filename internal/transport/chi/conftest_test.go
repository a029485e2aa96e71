package chi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/cloudcurio/kbsearch/internal/auth"
	"github.com/cloudcurio/kbsearch/internal/domain"
	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
	"github.com/cloudcurio/kbsearch/internal/domain/search/result"
	"github.com/cloudcurio/kbsearch/internal/ratelimit"
	documentuc "github.com/cloudcurio/kbsearch/internal/usecase/document"
	exportuc "github.com/cloudcurio/kbsearch/internal/usecase/export"
	gateuc "github.com/cloudcurio/kbsearch/internal/usecase/gate"
	healthuc "github.com/cloudcurio/kbsearch/internal/usecase/health"
	searchuc "github.com/cloudcurio/kbsearch/internal/usecase/search"
)

// --- Mocks ---

type stubRetriever struct {
	items []result.Scored
}

func (s *stubRetriever) Query(_ context.Context, _ string, _ int) []result.Scored { return s.items }

type stubAdmitter struct {
	adm gateuc.Admission
	err error

	gotKey  string
	gotAuth string
}

func (s *stubAdmitter) Admit(_ context.Context, clientKey, authHeader string) (gateuc.Admission, error) {
	s.gotKey, s.gotAuth = clientKey, authHeader
	return s.adm, s.err
}

func allowAll() *stubAdmitter {
	return &stubAdmitter{adm: gateuc.Admission{
		Claims:   auth.Claims{Subject: "user-1"},
		Decision: ratelimit.Decision{Allowed: true, Count: 1, Limit: 10},
	}}
}

type memRepo struct {
	records []record.Record
	putErr  error
	pageErr error
}

func (m *memRepo) Put(_ context.Context, rec record.Record) (bool, error) {
	if m.putErr != nil {
		return false, m.putErr
	}
	for i, r := range m.records {
		if r.Kind == rec.Kind && r.ID == rec.ID {
			m.records[i] = rec
			return false, nil
		}
	}
	m.records = append(m.records, rec)
	return true, nil
}

func (m *memRepo) GetDocument(_ context.Context, id string) (domdoc.Document, error) {
	for _, r := range m.records {
		if r.Kind == record.Documents && r.ID == id {
			return domdoc.Reconstruct(id, r.Fields), nil
		}
	}
	return domdoc.Document{}, domain.ErrNotFound
}

func (m *memRepo) Page(_ context.Context, kind record.Kind, offset, limit int) ([]record.Record, bool, error) {
	if m.pageErr != nil {
		return nil, false, m.pageErr
	}
	var all []record.Record
	for _, r := range m.records {
		if r.Kind == kind {
			all = append(all, r)
		}
	}
	if offset >= len(all) {
		return nil, false, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], end < len(all), nil
}

type nopKeyword struct{ err error }

func (n *nopKeyword) Index(_ context.Context, _ *domdoc.Document) error { return n.err }

type nopVector struct{ err error }

func (n *nopVector) Upsert(_ context.Context, _ string, _ []float32) error { return n.err }

type stubEmbedder struct{ err error }

func (s *stubEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if s.err != nil {
		return domain.EmbeddingResult{}, s.err
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 0}, TotalTokens: 7}, nil
}

// --- Fixture ---

type fixture struct {
	keyword *stubRetriever
	vector  *stubRetriever
	repo    *memRepo
	kwIndex *nopKeyword
	vecIdx  *nopVector
	embed   *stubEmbedder
	gate    *stubAdmitter
	dbErr   error
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		keyword: &stubRetriever{},
		vector:  &stubRetriever{},
		repo:    &memRepo{},
		kwIndex: &nopKeyword{},
		vecIdx:  &nopVector{},
		embed:   &stubEmbedder{},
		gate:    allowAll(),
	}

	health := healthuc.New(0, healthuc.Check{
		Name: "database",
		Run:   func(context.Context) error { return f.dbErr },
	})
	srv := NewServer(
		searchuc.New(f.keyword, f.vector, 0),
		documentuc.New(f.repo, f.kwIndex, f.vecIdx, f.embed, zap.NewNop()),
		exportuc.New(f.repo, 0, 0),
		health,
		0,
	)
	// httptest requests come from 192.0.2.1; trust it as the edge proxy.
	keys, err := NewClientKeyResolver([]string{"192.0.2.1"})
	if err != nil {
		t.Fatalf("client key resolver: %v", err)
	}
	f.handler = NewRouter(srv, f.gate, RouterConfig{ClientKeys: keys}, zap.NewNop())
	return f
}

func (f *fixture) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer test")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

var errStore = errors.New("store unavailable")
