package gate

import (
	"context"
	"time"

	"github.com/cloudcurio/kbsearch/internal/auth"
	"github.com/cloudcurio/kbsearch/internal/ratelimit"
)

// Authenticator verifies the Authorization header.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (auth.Claims, error)
}

// Limiter makes sliding-window admission decisions.
type Limiter interface {
	Allow(ctx context.Context, clientKey string, limit int, window time.Duration) (ratelimit.Decision, error)
}
