// Package auth resolves the session bearer token into a caller identity.
//
// The diagnosis backend authenticates requests with HS256-signed JWTs. The
// controller only needs the identity for display and role gating; signature
// verification happens here so a tampered token is rejected before any
// session state is built on it.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
)

// Role classifies the caller for workflow gating.
type Role string

// Known caller roles.
const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
	RoleNurse     Role = "nurse"
)

// IsValidRole checks if the given role is recognized.
func IsValidRole(r Role) bool {
	switch r {
	case RolePatient, RoleClinician, RoleNurse:
		return true
	default:
		return false
	}
}

// Error variables for token resolution.
var (
	ErrEmptyToken   = errors.New("token is empty")
	ErrInvalidToken = errors.New("token is invalid")
	ErrUnknownRole  = errors.New("token carries an unknown role")
)

// Identity is the resolved caller identity attached to a session.
type Identity struct {
	Subject       string
	Role          Role
	Authenticated bool
}

// sessionClaims is the JWT payload the backend issues.
type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver verifies session tokens and caches the resulting identities so
// repeated resolutions of the same token skip signature verification.
type Resolver struct {
	secret []byte
	cache  *cache.Cache
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCacheTTL overrides how long resolved identities are cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = cache.New(ttl, 2*ttl)
	}
}

// DefaultCacheTTL bounds how long a resolved identity is reused before the
// token's signature and expiry are re-checked.
const DefaultCacheTTL = 5 * time.Minute

// NewResolver creates a token resolver with the shared HS256 secret.
func NewResolver(secret string, opts ...Option) *Resolver {
	r := &Resolver{
		secret: []byte(secret),
		cache:  cache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve verifies the token and returns the caller identity. Cached results
// are returned without re-verification until the cache entry expires.
func (r *Resolver) Resolve(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrEmptyToken
	}
	if cached, found := r.cache.Get(token); found {
		return cached.(Identity), nil
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		slog.Debug("Resolver.Resolve: token rejected", "error", err)
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	role := Role(claims.Role)
	if !IsValidRole(role) {
		return Identity{}, fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
	}

	identity := Identity{Subject: claims.Subject, Role: role, Authenticated: true}
	r.cache.Set(token, identity, cache.DefaultExpiration)
	slog.Debug("Resolver.Resolve: token accepted", "subject", identity.Subject, "role", identity.Role)
	return identity, nil
}
