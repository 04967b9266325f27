// Package auth mints and verifies the HS256 tokens that carry a caller's
// identity.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nfrund/peerchat/internal/domain"
)

const issuer = "peerchat"

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the token payload.
type Claims struct {
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the claims into a normalized identity.
func (c Claims) Identity() domain.Identity {
	return domain.Identity{
		UserID:      c.Subject,
		DisplayName: c.Name,
		Role:        domain.Role(c.Role),
		AvatarURL:   c.Avatar,
	}.Normalize()
}

// Verifier turns a raw token into an identity.
type Verifier interface {
	Verify(token string) (domain.Identity, error)
}

// TokenService mints and verifies tokens with a shared secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a service. A non-positive ttl means 12 hours.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Mint signs a token for identity.
func (s *TokenService) Mint(identity domain.Identity) (string, error) {
	identity = identity.Normalize()
	if err := identity.Validate(); err != nil {
		return "", err
	}
	if len(s.secret) == 0 {
		return "", ErrTokenInvalid
	}

	now := s.now()
	claims := Claims{
		Name:   identity.DisplayName,
		Role:   identity.Role.String(),
		Avatar: identity.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates token and returns its claims.
func (s *TokenService) Parse(token string) (Claims, error) {
	if len(s.secret) == 0 || strings.TrimSpace(token) == "" {
		return Claims{}, ErrTokenInvalid
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

// Verify implements Verifier. Every failure wraps domain.ErrNotAuthenticated.
func (s *TokenService) Verify(token string) (domain.Identity, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, err)
	}
	return claims.Identity(), nil
}

// UnverifiedClaims decodes token without checking its signature. Callers
// that cannot hold the secret use it to read their own subject; it must
// never be used to authorize anything.
func UnverifiedClaims(token string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}
