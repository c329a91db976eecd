// Package auth verifies the credential a client presents when opening a
// relay connection.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/taskboard-relay/internal/core"
	"github.com/dkeye/taskboard-relay/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoToken      = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
	ErrUserNotFound = errors.New("user not found")
)

// Claims is what the CRUD layer signs into a session token. The identity
// is read from id, falling back to sub.
type Claims struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) identity() domain.UserID {
	if c.ID != "" {
		return domain.UserID(c.ID)
	}
	return domain.UserID(c.Subject)
}

// JWT is an HMAC token verifier. When Profiles is set, the display data
// comes from there and an unknown identity is rejected. Otherwise the
// name and avatar claims are used, and a missing name falls back to the id.
type JWT struct {
	secret   []byte
	Profiles core.ProfileLookup
}

func NewJWT(secret string, profiles core.ProfileLookup) *JWT {
	return &JWT{secret: []byte(secret), Profiles: profiles}
}

func (j *JWT) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id := claims.identity()
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if j.Profiles == nil {
		name := claims.Name
		if name == "" {
			name = string(id)
		}
		user, err := domain.NewUser(id, name, claims.Avatar)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		return user, nil
	}
	user, err := j.Profiles.Profile(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("module", "auth").Str("user", string(id)).Msg("profile lookup failed")
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Sign issues a token for id. Used by tests and local tooling.
func (j *JWT) Sign(user domain.User, ttl time.Duration) (string, error) {
	if err := user.ID.Validate(); err != nil {
		return "", err
	}
	now := time.Now()
	claims := Claims{
		ID:     string(user.ID),
		Name:   user.Name,
		Avatar: user.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
