// Package opensearch is the "opensearch" keyword driver.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	osgo "github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/search/result"
)

// searchFields boosts title over body text.
var searchFields = []string{domdoc.FieldTitle + "^2", domdoc.FieldText}

// Config holds the connection settings.
type Config struct {
	URL                string
	Index              string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Transport          http.RoundTripper // nil builds one from InsecureSkipVerify
}

// Index is an OpenSearch index used for keyword retrieval.
type Index struct {
	client *opensearchapi.Client
	index  string
}

// New creates the driver. It does not contact the cluster.
func New(cfg Config) (*Index, error) {
	if cfg.URL == "" {
		return nil, errors.New("opensearch url is required")
	}
	if cfg.Index == "" {
		return nil, errors.New("opensearch index is required")
	}

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkipVerify {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed dev clusters
		}
		transport = t
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: osgo.Config{
			Addresses: []string{cfg.URL},
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: transport,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	return &Index{client: client, index: cfg.Index}, nil
}

// Name implements search.KeywordIndex.
func (i *Index) Name() string { return "opensearch" }

// Search runs a multi_match query over title^2 and text.
func (i *Index) Search(ctx context.Context, query string, k int) ([]result.Scored, error) {
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": searchFields,
			},
		},
		"size":    k,
		"_source": false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	resp, err := i.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{i.index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", i.index, err)
	}

	out := make([]result.Scored, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		if h.ID == "" {
			return nil, errors.New("hit without _id")
		}
		out = append(out, result.Scored{ID: h.ID, RawScore: float64(h.Score)})
	}
	return out, nil
}

// Index stores the document so it is searchable on return.
func (i *Index) Index(ctx context.Context, doc *domdoc.Document) error {
	body, err := json.Marshal(doc.Fields())
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	_, err = i.client.Index(ctx, opensearchapi.IndexReq{
		Index:      i.index,
		DocumentID: doc.ID(),
		Body:       bytes.NewReader(body),
		Params:     opensearchapi.IndexParams{Refresh: "true"},
	})
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", i.index, doc.ID(), err)
	}
	return nil
}

// EnsureIndex creates the index with text mappings unless it exists.
func (i *Index) EnsureIndex(ctx context.Context) error {
	mapping := `{"mappings":{"properties":{` +
		`"title":{"type":"text"},"text":{"type":"text"},` +
		`"source_uri":{"type":"keyword"},"published_at":{"type":"keyword"},"language":{"type":"keyword"}}}}`

	_, err := i.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: i.index,
		Body:  strings.NewReader(mapping),
	})
	if err != nil && !strings.Contains(err.Error(), "resource_already_exists_exception") {
		return fmt.Errorf("create index %s: %w", i.index, err)
	}
	return nil
}

// Ping checks cluster reachability.
func (i *Index) Ping(ctx context.Context) error {
	resp, err := i.client.Ping(ctx, nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ping: status %d", resp.StatusCode)
	}
	return nil
}
