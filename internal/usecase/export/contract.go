package export

import (
	"context"

	"github.com/cloudcurio/kbsearch/internal/domain/record"
)

// Repository reads records in key order.
type Repository interface {
	Page(ctx context.Context, kind record.Kind, offset, limit int) (records []record.Record, more bool, err error)
}
