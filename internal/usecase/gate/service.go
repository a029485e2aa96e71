// Package gate admits /v1 requests: bearer authentication first, then the per-client rate limit.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudcurio/kbsearch/internal/auth"
	"github.com/cloudcurio/kbsearch/internal/domain"
	"github.com/cloudcurio/kbsearch/internal/ratelimit"
)

// Admission is a successful gate pass.
type Admission struct {
	Claims   auth.Claims
	Decision ratelimit.Decision
}

// Service runs the admission chain.
type Service struct {
	auth    Authenticator
	limiter Limiter
	limit   int
	window  time.Duration
}

// New creates a gate admitting at most limit requests per client key within window.
func New(a Authenticator, l Limiter, limit int, window time.Duration) *Service {
	return &Service{auth: a, limiter: l, limit: limit, window: window}
}

// Admit authenticates the request and then charges it to clientKey.
// Unauthenticated requests are rejected before they consume quota.
// Errors: domain.ErrUnauthorized, *domain.RateLimitError.
func (s *Service) Admit(ctx context.Context, clientKey, authHeader string) (Admission, error) {
	claims, err := s.auth.Authenticate(ctx, authHeader)
	if err != nil {
		return Admission{}, fmt.Errorf("authenticate: %w", err)
	}

	d, err := s.limiter.Allow(ctx, clientKey, s.limit, s.window)
	if err != nil {
		return Admission{}, fmt.Errorf("rate limit: %w", err)
	}
	if !d.Allowed {
		return Admission{Claims: claims, Decision: d}, domain.NewRateLimited(d.RetryAfter)
	}
	return Admission{Claims: claims, Decision: d}, nil
}
