// Package credential supplies optional bearer tokens for outgoing analytics
// submissions.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoUser is returned when no user is signed in.
var ErrNoUser = errors.New("no authenticated user")

// Provider returns a short-lived bearer token for the current user.
// An empty token with a nil error means "no credential".
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context) (string, error)

func (f Func) Token(ctx context.Context) (string, error) { return f(ctx) }

// None never supplies a credential.
type None struct{}

func (None) Token(context.Context) (string, error) { return "", nil }

// Static always supplies the same token.
type Static string

func (s Static) Token(context.Context) (string, error) { return string(s), nil }

// JWTIssuer mints an HS256 token for the signed-in user on every call.
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time

	mu     sync.RWMutex
	userID string
}

// NewJWTIssuer creates an issuer signing with secret. Tokens expire after ttl.
func NewJWTIssuer(secret string, ttl time.Duration) *JWTIssuer {
	return &JWTIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "directory-web",
		now:    time.Now,
	}
}

// SignIn sets the current user.
func (i *JWTIssuer) SignIn(userID string) {
	i.mu.Lock()
	i.userID = userID
	i.mu.Unlock()
}

// SignOut clears the current user.
func (i *JWTIssuer) SignOut() {
	i.SignIn("")
}

// Token returns a freshly signed token, or ErrNoUser when nobody is signed in.
func (i *JWTIssuer) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	i.mu.RLock()
	userID := i.userID
	i.mu.RUnlock()
	if userID == "" {
		return "", ErrNoUser
	}

	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
