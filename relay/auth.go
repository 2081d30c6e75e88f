package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates that the admission token failed validation.
var ErrUnauthorized = errors.New("relay: unauthorized")

// Authenticator admits websocket clients before the upgrade.
type Authenticator interface {
	// CheckAuthentication validates tok and returns the client subject.
	CheckAuthentication(ctx context.Context, tok string) (string, error)
}

// TokenAuthenticator issues and validates HS256 admission tokens signed with
// a shared secret.
type TokenAuthenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// DefaultIssuer is the issuer claim written and required by TokenAuthenticator.
const DefaultIssuer = "wcrelay"

// NewTokenAuthenticator returns an authenticator for secret.
func NewTokenAuthenticator(secret []byte) (*TokenAuthenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("relay: token secret is required")
	}
	return &TokenAuthenticator{secret: secret, issuer: DefaultIssuer, leeway: 30 * time.Second}, nil
}

// Issue mints a token for subject valid for ttl.
func (a *TokenAuthenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("relay: sign token: %w", err)
	}
	return tok, nil
}

// CheckAuthentication implements Authenticator.
func (a *TokenAuthenticator) CheckAuthentication(ctx context.Context, tok string) (string, error) {
	if tok == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.issuer),
		jwt.WithLeeway(a.leeway),
	)
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return "", fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	return claims.Subject, nil
}

// tokenFromRequest extracts a bearer token from the Authorization header or,
// for browser clients that cannot set headers on a websocket, the token query
// parameter.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

var _ Authenticator = (*TokenAuthenticator)(nil)
