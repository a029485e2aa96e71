// Package auth verifies bearer JWTs against a remotely published JWKS.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/zap"

	"github.com/cloudcurio/kbsearch/internal/domain"
	"github.com/cloudcurio/kbsearch/internal/logger"
	"github.com/cloudcurio/kbsearch/internal/metrics"
)

var supportedAlgorithms = map[jose.SignatureAlgorithm]bool{
	jose.RS256: true, jose.RS384: true, jose.RS512: true,
	jose.PS256: true, jose.PS384: true, jose.PS512: true,
	jose.ES256: true, jose.ES384: true, jose.ES512: true,
	jose.EdDSA: true,
}

// KeyProvider resolves a signing key by kid.
type KeyProvider interface {
	Key(ctx context.Context, kid string) (*jose.JSONWebKey, error)
}

// Claims are the verified token claims.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	Expiry   time.Time
	Extra    map[string]any
}

// Config holds the claim expectations for incoming tokens.
type Config struct {
	Issuer     string // required; tokens must carry exactly this iss
	Audience   string // required; tokens must list it in aud
	Algorithms []string
	Leeway     time.Duration
}

// Authenticator validates Authorization headers.
type Authenticator struct {
	keys     KeyProvider
	issuer   string
	audience string
	algs     []jose.SignatureAlgorithm
	leeway   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator. An empty issuer or audience and
// unknown algorithm names are rejected.
func NewAuthenticator(keys KeyProvider, cfg Config, log *zap.Logger) (*Authenticator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if len(cfg.Algorithms) == 0 {
		return nil, errors.New("at least one signature algorithm is required")
	}
	algs := make([]jose.SignatureAlgorithm, 0, len(cfg.Algorithms))
	for _, name := range cfg.Algorithms {
		alg := jose.SignatureAlgorithm(name)
		if !supportedAlgorithms[alg] {
			return nil, fmt.Errorf("unsupported signature algorithm %q", name)
		}
		algs = append(algs, alg)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		algs:     algs,
		leeway:   cfg.Leeway,
		logger:   log,
		now:      time.Now,
	}, nil
}

// Authenticate verifies the bearer token in header. Every failure returns
// domain.ErrUnauthorized; the cause is only logged and counted.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (Claims, error) {
	claims, reason, err := a.verify(ctx, header)
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
		logger.Or(ctx, a.logger).Warn("bearer token rejected",
			zap.String("reason", reason),
			zap.Error(err),
		)
		return Claims{}, domain.ErrUnauthorized
	}
	return claims, nil
}

func (a *Authenticator) verify(ctx context.Context, header string) (Claims, string, error) {
	raw, ok := bearerToken(header)
	if !ok {
		return Claims{}, "missing_token", errors.New("missing bearer token")
	}

	tok, err := jwt.ParseSigned(raw, a.algs)
	if err != nil {
		return Claims{}, "malformed", fmt.Errorf("parse token: %w", err)
	}
	if len(tok.Headers) != 1 {
		return Claims{}, "malformed", fmt.Errorf("expected one signature, got %d", len(tok.Headers))
	}
	hdr := tok.Headers[0]

	key, err := a.keys.Key(ctx, hdr.KeyID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return Claims{}, "unknown_kid", fmt.Errorf("kid %q: %w", hdr.KeyID, err)
		}
		return Claims{}, "jwks_unavailable", err
	}
	if key.Algorithm != "" && key.Algorithm != hdr.Algorithm {
		return Claims{}, "alg_mismatch", fmt.Errorf("token alg %s, key alg %s", hdr.Algorithm, key.Algorithm)
	}

	var std jwt.Claims
	extra := map[string]any{}
	if err := tok.Claims(key.Key, &std, &extra); err != nil {
		return Claims{}, "bad_signature", fmt.Errorf("verify signature: %w", err)
	}

	if std.Expiry == nil {
		return Claims{}, "missing_exp", errors.New("token has no exp claim")
	}
	expected := jwt.Expected{
		Issuer:      a.issuer,
		AnyAudience: jwt.Audience{a.audience},
		Time:        a.now(),
	}
	if err := std.ValidateWithLeeway(expected, a.leeway); err != nil {
		return Claims{}, claimReason(err), fmt.Errorf("validate claims: %w", err)
	}

	for _, k := range []string{"sub", "iss", "aud", "exp", "nbf", "iat", "jti"} {
		delete(extra, k)
	}

	return Claims{
		Subject:  std.Subject,
		Issuer:   std.Issuer,
		Audience: std.Audience,
		Expiry:   std.Expiry.Time(),
		Extra:    extra,
	}, "", nil
}

func claimReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return "expired"
	case errors.Is(err, jwt.ErrNotValidYet), errors.Is(err, jwt.ErrIssuedInTheFuture):
		return "not_yet_valid"
	case errors.Is(err, jwt.ErrInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwt.ErrInvalidAudience):
		return "audience"
	default:
		return "claims"
	}
}

// bearerToken extracts the token from "Bearer <token>"; the scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
