package chi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cloudcurio/kbsearch/internal/logger"
	gateuc "github.com/cloudcurio/kbsearch/internal/usecase/gate"
)

// Admitter runs the authentication and rate-limit chain for one request.
type Admitter interface {
	Admit(ctx context.Context, clientKey, authHeader string) (gateuc.Admission, error)
}

// GateMiddleware rejects requests that fail authentication (401) or exceed the
// client's rate limit (429). Admitted requests carry X-RateLimit-* headers.
func GateMiddleware(gate Admitter, keys *ClientKeyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adm, err := gate.Admit(r.Context(), keys.Key(r), r.Header.Get("Authorization"))
			if d := adm.Decision; d.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, d.Limit-int(d.Count))))
			}
			if err != nil {
				handleDomainError(w, r, err)
				return
			}

			if adm.Claims.Subject != "" {
				reqLogger := logger.FromContext(r.Context()).With(zap.String("subject", adm.Claims.Subject))
				r = r.WithContext(logger.ContextWithLogger(r.Context(), reqLogger))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKeyResolver identifies the caller for rate limiting.
//
// Forwarding headers are honoured only when the direct peer is a trusted
// proxy: CF-Connecting-IP first, then X-Forwarded-For read right to left up to
// the first untrusted hop. Any other peer is keyed by its own address, so
// clients cannot pick a fresh window by rotating headers.
type ClientKeyResolver struct {
	trusted []netip.Prefix
}

// NewClientKeyResolver parses trusted proxy CIDRs or bare IPs. An empty list
// trusts no proxy.
func NewClientKeyResolver(trusted []string) (*ClientKeyResolver, error) {
	c := &ClientKeyResolver{}
	for _, s := range trusted {
		if p, err := netip.ParsePrefix(s); err == nil {
			c.trusted = append(c.trusted, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", s)
		}
		c.trusted = append(c.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return c, nil
}

// Key returns the rate-limit key of r. A nil resolver trusts no proxy.
func (c *ClientKeyResolver) Key(r *http.Request) string {
	peer := peerHost(r.RemoteAddr)
	if !c.isTrusted(peer) {
		return peer
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !c.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}
	return peer
}

func (c *ClientKeyResolver) isTrusted(host string) bool {
	if c == nil || len(c.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
