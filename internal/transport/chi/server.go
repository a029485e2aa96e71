package chi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cloudcurio/kbsearch/internal/domain"
	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
	"github.com/cloudcurio/kbsearch/internal/domain/search/request"
	"github.com/cloudcurio/kbsearch/internal/logger"
	"github.com/cloudcurio/kbsearch/internal/metrics"
	documentuc "github.com/cloudcurio/kbsearch/internal/usecase/document"
	exportuc "github.com/cloudcurio/kbsearch/internal/usecase/export"
	healthuc "github.com/cloudcurio/kbsearch/internal/usecase/health"
	searchuc "github.com/cloudcurio/kbsearch/internal/usecase/search"
)

// maxBodyBytes bounds JSON request bodies; document text alone may take 160KB.
const maxBodyBytes = 1 << 20

// Server holds the HTTP handlers.
type Server struct {
	search      *searchuc.Service
	documents   *documentuc.Service
	export      *exportuc.Service
	health      *healthuc.Service
	defaultTopK int
}

// NewServer creates an HTTP API server. defaultTopK <= 0 uses request.DefaultTopK.
func NewServer(
	search *searchuc.Service,
	documents *documentuc.Service,
	export *exportuc.Service,
	health *healthuc.Service,
	defaultTopK int,
) *Server {
	if defaultTopK <= 0 {
		defaultTopK = request.DefaultTopK
	}
	return &Server{
		search:      search,
		documents:   documents,
		export:      export,
		health:      health,
		defaultTopK: defaultTopK,
	}
}

// SearchResultItem is one fused hit.
type SearchResultItem struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SearchResponse is the /v1/search body.
type SearchResponse struct {
	Query       string             `json:"query"`
	Results     []SearchResultItem `json:"results"`
	KeywordHits int                `json:"keyword_hits"`
	VectorHits  int                `json:"vector_hits"`
}

// Search handles GET /v1/search?q=&top_k=.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	topK := s.defaultTopK
	if err := runtime.BindQueryParameter("form", true, false, "top_k", params, &topK); err != nil {
		handleDomainError(w, r, domain.NewValidation("top_k", "must be an integer"))
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := s.search.Search(ctx, params.Get("q"), topK)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	items := make([]SearchResultItem, len(resp.Results))
	for i, res := range resp.Results {
		items[i] = SearchResultItem{ID: res.ID, Score: res.Score}
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, SearchResponse{
		Query:       resp.Query,
		Results:     items,
		KeywordHits: resp.KeywordHits,
		VectorHits:  resp.VectorHits,
	})
}

// DocumentRequest is the /v1/docs body.
type DocumentRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	SourceURI   string `json:"source_uri,omitempty"`
	Text        string `json:"text,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Language    string `json:"language,omitempty"`
}

// DocumentResponse is a stored document as returned by GET /v1/docs/{id}.
type DocumentResponse DocumentRequest

// EntityRequest is the /v1/entities body.
type EntityRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

// RelationRequest is the /v1/relations body.
type RelationRequest struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Type     string `json:"type"`
}

// WriteResponse acknowledges an ingested record.
type WriteResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// CreateDocument handles POST /v1/docs.
func (s *Server) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	doc, err := domdoc.New(req.ID, req.Title, domdoc.Attrs{
		SourceURI:   req.SourceURI,
		Text:        req.Text,
		PublishedAt: req.PublishedAt,
		Language:    req.Language,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	created, err := s.documents.IngestDocument(ctx, &doc)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeAck(w, created, doc.ID())
}

// GetDocument handles GET /v1/docs/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentResponse{
		ID:          doc.ID(),
		Title:       doc.Title(),
		SourceURI:   doc.SourceURI(),
		Text:        doc.Text(),
		PublishedAt: doc.PublishedAt(),
		Language:    doc.Language(),
	})
}

// CreateEntity handles POST /v1/entities.
func (s *Server) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req EntityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := record.NewEntity(req.ID, req.Name, req.Kind, req.Description)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	s.putRecord(w, r, rec)
}

// CreateRelation handles POST /v1/relations.
func (s *Server) CreateRelation(w http.ResponseWriter, r *http.Request) {
	var req RelationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := record.NewRelation(req.ID, req.SourceID, req.TargetID, req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	s.putRecord(w, r, rec)
}

func (s *Server) putRecord(w http.ResponseWriter, r *http.Request, rec record.Record) {
	created, err := s.documents.PutRecord(r.Context(), rec)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeAck(w, created, rec.ID)
}

// Export handles GET /v1/export?kind=&format=&cursor=&page_size=.
func (s *Server) Export(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	kind, err := record.ParseKind(params.Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	format, err := exportuc.ParseFormat(params.Get("format"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	var pageSize int
	if err := runtime.BindQueryParameter("form", true, false, "page_size", params, &pageSize); err != nil {
		handleDomainError(w, r, domain.NewValidation("page_size", "must be an integer"))
		return
	}

	cursor := params.Get("cursor")
	etag := exportuc.ETag(kind, cursor)
	if inm := r.Header.Get("If-None-Match"); inm != "" && exportuc.Matches(inm, etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	page, err := s.export.Fetch(r.Context(), string(kind), cursor, pageSize)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", format.ContentType())
	h.Set("ETag", page.ETag)
	if page.NextCursor != "" {
		h.Set("X-Next-Cursor", page.NextCursor)
	}
	w.WriteHeader(http.StatusOK)

	if err := exportuc.Write(w, format, kind, page.Records); err != nil {
		// Headers are gone; the client sees a truncated stream.
		logger.FromContext(r.Context()).Warn("export stream aborted", zap.Error(err))
		return
	}
	metrics.ExportRowsTotal.WithLabelValues(string(kind), string(format)).Add(float64(len(page.Records)))
}

// HealthResponse is the /health and /ready body.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health. Liveness: always 200.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.healthReport(r))
}

// Ready handles GET /ready. 503 while any dependency is failing.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	resp := s.healthReport(r)
	status := http.StatusOK
	if resp.Status != string(healthuc.Healthy) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) healthReport(r *http.Request) HealthResponse {
	report := s.health.Check(r.Context())
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthResponse{Status: string(report.Status), Checks: checks}
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage != nil && usage.Used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens))
	}
}

func writeAck(w http.ResponseWriter, created bool, id string) {
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, WriteResponse{Status: "ok", ID: id})
}
