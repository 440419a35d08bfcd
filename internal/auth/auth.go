// Package auth verifies connection credentials and yields the principal behind them.
// Credentials are JWTs issued by the account service, signed either with a shared
// HMAC secret (HS256) or an Ed25519 key (EdDSA).
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotConfigured = errors.New("authenticator has no verification key")
)

// Credentials are what a connecting client presents.
type Credentials struct {
	Token string
}

// Authenticator is the authentication collaborator contract.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (models.Principal, error)
}

// Claims is the token payload. The subject is the visitor or admin identity.
type Claims struct {
	jwt.RegisteredClaims
	SiteID string      `json:"site_id"`
	Role   models.Role `json:"role"`
	Name   string      `json:"name,omitempty"`
}

// Config defines how tokens are verified.
type Config struct {
	HMACSecret []byte
	PublicKey  ed25519.PublicKey
	Issuer     string
	Now        func() time.Time
}

// JWTAuthenticator validates signed tokens.
type JWTAuthenticator struct {
	cfg     Config
	methods []string
}

// NewJWTAuthenticator creates an authenticator. At least one key must be set.
func NewJWTAuthenticator(cfg Config) (*JWTAuthenticator, error) {
	var methods []string
	if len(cfg.HMACSecret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if len(cfg.PublicKey) == ed25519.PublicKeySize {
		methods = append(methods, jwt.SigningMethodEdDSA.Alg())
	}
	if len(methods) == 0 {
		return nil, ErrNotConfigured
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &JWTAuthenticator{cfg: cfg, methods: methods}, nil
}

// Authenticate verifies creds and returns the principal. Every failure wraps ErrUnauthorized.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, creds Credentials) (models.Principal, error) {
	token := strings.TrimSpace(strings.TrimPrefix(creds.Token, "Bearer "))
	if token == "" {
		return models.Principal{}, fmt.Errorf("%w: token is required", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.methods),
		jwt.WithTimeFunc(a.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, a.keyFor, opts...)
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	switch {
	case claims.SiteID == "":
		return models.Principal{}, fmt.Errorf("%w: site_id claim is required", ErrUnauthorized)
	case claims.Subject == "":
		return models.Principal{}, fmt.Errorf("%w: sub claim is required", ErrUnauthorized)
	case !claims.Role.Valid():
		return models.Principal{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, claims.Role)
	}

	return models.Principal{
		SiteID:      claims.SiteID,
		Role:        claims.Role,
		Identity:    claims.Subject,
		DisplayName: claims.Name,
	}, nil
}

func (a *JWTAuthenticator) keyFor(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return a.cfg.HMACSecret, nil
	case *jwt.SigningMethodEd25519:
		return a.cfg.PublicKey, nil
	}
	return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
}

// Sign issues a token for claims. key is an HMAC secret ([]byte) or an
// ed25519.PrivateKey.
func Sign(claims Claims, key any) (string, error) {
	switch k := key.(type) {
	case []byte:
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k)
	case ed25519.PrivateKey:
		return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(k)
	}
	return "", fmt.Errorf("unsupported signing key %T", key)
}

// NewClaims builds claims for a principal valid for ttl from now.
func NewClaims(p models.Principal, issuer string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.Identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SiteID: p.SiteID,
		Role:   p.Role,
		Name:   p.DisplayName,
	}
}
