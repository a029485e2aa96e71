// Package record stores knowledge-base records (documents, entities, relations) as hashes.
package record

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cloudcurio/kbsearch/internal/domain"
	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
)

// internalFieldPrefix marks hash fields owned by the store (vectors), never exported.
const internalFieldPrefix = "__"

// store is the consumer interface for records (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo persists records under <prefix><kind segment><id>.
type Repo struct {
	store  store
	prefix string
}

// New creates a record repository.
func New(s store, keyPrefix string) *Repo {
	return &Repo{store: s, prefix: keyPrefix}
}

// Put replaces a record. Returns true if it did not exist before.
func (r *Repo) Put(ctx context.Context, rec record.Record) (bool, error) {
	key := r.key(rec.Kind, rec.ID)

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check exists %s: %w", key, err)
	}
	if exists {
		if err := r.store.Del(ctx, key); err != nil {
			return false, fmt.Errorf("del %s: %w", key, err)
		}
	}
	if err := r.store.HSet(ctx, key, rec.Fields); err != nil {
		return false, fmt.Errorf("hset %s: %w", key, err)
	}
	return !exists, nil
}

// GetDocument returns a stored document by ID.
func (r *Repo) GetDocument(ctx context.Context, id string) (domdoc.Document, error) {
	key := r.key(record.Documents, id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return domdoc.Document{}, domain.ErrNotFound
	}
	return domdoc.Reconstruct(id, m), nil
}

// Page returns up to limit records of kind in ascending ID order, starting at offset.
// more reports whether records remain after this page.
func (r *Repo) Page(ctx context.Context, kind record.Kind, offset, limit int) ([]record.Record, bool, error) {
	if offset < 0 || limit <= 0 {
		return nil, false, fmt.Errorf("invalid page offset=%d limit=%d", offset, limit)
	}

	segment := r.prefix + kind.KeySegment()
	keys, err := r.store.Scan(ctx, segment+"*")
	if err != nil {
		return nil, false, fmt.Errorf("scan %s: %w", kind, err)
	}
	// SCAN may return a key more than once.
	slices.Sort(keys)
	keys = slices.Compact(keys)

	if offset >= len(keys) {
		return nil, false, nil
	}
	end := min(offset+limit, len(keys))
	page := keys[offset:end]

	hashes, err := r.store.HGetAllMulti(ctx, page)
	if err != nil {
		return nil, false, fmt.Errorf("hgetall %s page: %w", kind, err)
	}

	out := make([]record.Record, 0, len(page))
	for i, m := range hashes {
		// Deleted between SCAN and HGETALL.
		if len(m) == 0 {
			continue
		}
		out = append(out, record.Record{
			Kind:   kind,
			ID:     strings.TrimPrefix(page[i], segment),
			Fields: publicFields(m),
		})
	}
	return out, end < len(keys), nil
}

func (r *Repo) key(kind record.Kind, id string) string {
	return r.prefix + kind.KeySegment() + id
}

func publicFields(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, internalFieldPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}
