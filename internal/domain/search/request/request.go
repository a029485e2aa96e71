package request

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudcurio/kbsearch/internal/domain"
)

// Search parameter limits.
const (
	// MinQueryLength is the minimum query length in runes after trimming.
	MinQueryLength = 2
	// MaxQueryLength is the maximum allowed search query length in bytes.
	MaxQueryLength = 4096
	DefaultTopK    = 10
	MaxTopK        = 100
)

// Request is a validated search query.
type Request struct {
	query string
	topK  int
}

// New validates search parameters. maxTopK <= 0 falls back to MaxTopK.
// The query is trimmed; topK must lie in [1, maxTopK].
func New(query string, topK, maxTopK int) (Request, error) {
	if maxTopK <= 0 {
		maxTopK = MaxTopK
	}
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		return Request{}, domain.NewValidation("q", fmt.Sprintf("must be at least %d characters", MinQueryLength))
	}
	if len(query) > MaxQueryLength {
		return Request{}, domain.NewValidation("q", fmt.Sprintf("too long (max %d chars)", MaxQueryLength))
	}
	if topK < 1 || topK > maxTopK {
		return Request{}, domain.NewValidation("top_k", fmt.Sprintf("must be between 1 and %d", maxTopK))
	}
	return Request{query: query, topK: topK}, nil
}

// Query returns the trimmed search text.
func (r *Request) Query() string { return r.query }

// TopK returns the number of fused results to return.
func (r *Request) TopK() int { return r.topK }
