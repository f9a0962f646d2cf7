package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "helpdesk"

// Claims are the bearer token claims. The subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// TokenIssuer signs and verifies API bearer tokens.
type TokenIssuer struct {
	secret   []byte
	ttl      time.Duration
	denylist *Denylist
	now      func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer. denylist may be nil, in which case
// logout cannot revoke tokens before they expire.
func NewTokenIssuer(secret string, ttl time.Duration, denylist *Denylist) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, denylist: denylist, now: time.Now}
}

// Issue signs a token for user.
func (t *TokenIssuer) Issue(user *User) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies raw. Bad, expired and revoked tokens yield ErrAuthResolution;
// an unreachable denylist yields ErrTransient.
func (t *TokenIssuer) Parse(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthResolution, err)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("%w: subject %q", ErrAuthResolution, claims.Subject)
	}
	if t.denylist != nil {
		revoked, err := t.denylist.Revoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: token revoked", ErrAuthResolution)
		}
	}
	return claims, nil
}

// Revoke invalidates the token described by claims.
func (t *TokenIssuer) Revoke(ctx context.Context, claims *Claims) error {
	if claims == nil {
		return errors.New("auth: claims missing")
	}
	if t.denylist == nil || claims.ExpiresAt == nil {
		return nil
	}
	return t.denylist.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}
