// Package qdrant is the "qdrant" vector driver, speaking the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudcurio/kbsearch/internal/domain/search/result"
)

// maxResponseBytes caps a decoded response body.
const maxResponseBytes = 8 << 20

// payloadDocID is the payload key carrying the document ID of a point.
const payloadDocID = "doc_id"

// pointNamespace seeds the UUIDv5 point IDs derived from document IDs.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kbsearch/documents"))

// ErrUnexpectedStatus is returned for non-2xx Qdrant responses.
var ErrUnexpectedStatus = errors.New("qdrant: unexpected status")

// Config holds the connection settings.
type Config struct {
	URL        string
	Collection string
	APIKey     string
	HTTPClient *http.Client // nil uses a client with a 15s timeout
}

// Index is a Qdrant collection used as a vector index.
type Index struct {
	base       string
	collection string
	apiKey     string
	http       *http.Client
}

// New creates a Qdrant driver.
func New(cfg Config) (*Index, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant url is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("qdrant collection is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Index{
		base:       strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		apiKey:     cfg.APIKey,
		http:       hc,
	}, nil
}

// Name implements search.VectorIndex.
func (i *Index) Name() string { return "qdrant" }

// PointID derives the stable point UUID for a document ID.
func PointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload []string  `json:"with_payload"`
}

type scoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   *float64        `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type searchResponse struct {
	Result []scoredPoint `json:"result"`
}

// Search returns the k nearest points. IDs come from payload.doc_id, else the point ID.
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]result.Scored, error) {
	var resp searchResponse
	req := searchRequest{Vector: vector, Limit: k, WithPayload: []string{payloadDocID}}
	if err := i.do(ctx, http.MethodPost, i.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("points search: %w", err)
	}

	out := make([]result.Scored, 0, len(resp.Result))
	for n, p := range resp.Result {
		id, err := pointDocID(p)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", n, err)
		}
		if p.Score == nil {
			return nil, fmt.Errorf("point %d: missing score", n)
		}
		out = append(out, result.Scored{ID: id, RawScore: *p.Score})
	}
	return out, nil
}

type point struct {
	ID      string            `json:"id"`
	Vector  []float32         `json:"vector"`
	Payload map[string]string `json:"payload"`
}

type upsertRequest struct {
	Points []point `json:"points"`
}

// Upsert writes one document vector, waiting until it is searchable.
func (i *Index) Upsert(ctx context.Context, docID string, vector []float32) error {
	req := upsertRequest{Points: []point{{
		ID:      PointID(docID),
		Vector:  vector,
		Payload: map[string]string{payloadDocID: docID},
	}}}
	if err := i.do(ctx, http.MethodPut, i.collectionPath("/points?wait=true"), req, nil); err != nil {
		return fmt.Errorf("points upsert %s: %w", docID, err)
	}
	return nil
}

type createCollectionRequest struct {
	Vectors struct {
		Size     int    `json:"size"`
		Distance string `json:"distance"`
	} `json:"vectors"`
}

// EnsureCollection creates the collection with cosine distance unless it exists.
func (i *Index) EnsureCollection(ctx context.Context, dims int) error {
	err := i.do(ctx, http.MethodGet, i.collectionPath(""), nil, nil)
	if err == nil {
		return nil
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		return fmt.Errorf("get collection: %w", err)
	}

	var req createCollectionRequest
	req.Vectors.Size = dims
	req.Vectors.Distance = "Cosine"
	if err := i.do(ctx, http.MethodPut, i.collectionPath(""), req, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", i.collection, err)
	}
	return nil
}

// Ping checks that the Qdrant node is up.
func (i *Index) Ping(ctx context.Context) error {
	return i.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// StatusError carries a non-2xx status and a truncated body.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %d: %s", ErrUnexpectedStatus.Error(), e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

func (i *Index) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(i.collection) + suffix
}

func (i *Index) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, i.base+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if i.apiKey != "" {
		req.Header.Set("api-key", i.apiKey)
	}

	resp, err := i.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// pointDocID prefers the doc_id payload and falls back to the raw point ID (UUID string or integer).
func pointDocID(p scoredPoint) (string, error) {
	if v, ok := p.Payload[payloadDocID].(string); ok && v != "" {
		return v, nil
	}
	if len(p.ID) == 0 {
		return "", errors.New("missing id")
	}
	var s string
	if err := json.Unmarshal(p.ID, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(p.ID, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("unsupported point id %s", string(p.ID))
}
