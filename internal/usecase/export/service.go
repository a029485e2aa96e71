package export

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudcurio/kbsearch/internal/domain"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
)

// Page size bounds.
const (
	DefaultPageSize = 1000
	MaxPageSize     = 10000
)

// Page is one export page.
type Page struct {
	Kind       record.Kind
	Records    []record.Record
	ETag       string
	NextCursor string // empty on the last page
}

// Service pages through stored records.
type Service struct {
	repo            Repository
	defaultPageSize int
	maxPageSize     int
}

// New creates an export service. Non-positive sizes use DefaultPageSize and MaxPageSize.
func New(repo Repository, defaultPageSize, maxPageSize int) *Service {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	return &Service{repo: repo, defaultPageSize: min(defaultPageSize, maxPageSize), maxPageSize: maxPageSize}
}

// Fetch reads the page starting at cursor. pageSize <= 0 uses the default page size;
// anything above the maximum is capped.
func (s *Service) Fetch(ctx context.Context, kindName, cursor string, pageSize int) (Page, error) {
	kind, err := record.ParseKind(kindName)
	if err != nil {
		return Page{}, domain.NewValidation("kind", err.Error())
	}
	offset, err := ParseCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	pageSize = min(pageSize, s.maxPageSize)

	records, more, err := s.repo.Page(ctx, kind, offset, pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("page %s: %w", kind, err)
	}

	p := Page{Kind: kind, Records: records, ETag: ETag(kind, cursor)}
	if more {
		p.NextCursor = strconv.Itoa(offset + len(records))
	}
	return p, nil
}
