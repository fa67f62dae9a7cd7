// Package auth provides JWT tokens, password hashing, GitHub sign-in and the
// HTTP middleware that authenticates API requests.
//
// ONE CREDENTIAL, TWO CHANNELS:
//  1. Register/login (link code + password) or the GitHub callback issues a
//     JWT for the user id
//  2. REST calls carry it as "Authorization: Bearer <jwt>" or in the token
//     cookie; RequireAuth puts the user id into the request context
//  3. The push WebSocket takes the same JWT in ?token= or in its
//     authenticate event
//
// Tokens are HS256 over {"sub":"<user id>","iss":"linkin-chat","exp":...,"jti":...}.
// Nothing is stored server side: logout only clears the cookie, and a token
// stays valid until it expires.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

// Token errors. Callers match them with errors.Is; the push hub and
// RequireAuth turn them into a reason the client can act on.
var (
	ErrTokenMissing = errors.New("auth: no token")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// Reason maps a token error to the short code sent to clients:
// token_missing, token_expired or token_invalid.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return "token_missing"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	default:
		return "token_invalid"
	}
}

const (
	issuer = "linkin-chat"

	// MinSecretLength is enforced by NewTokenService and by config validation.
	MinSecretLength = 16

	// DefaultTokenTTL applies when NewTokenService gets a non-positive ttl.
	DefaultTokenTTL = 7 * 24 * time.Hour
)

// TokenService signs and checks access tokens with one HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService. Generate the secret with
// something like `openssl rand -hex 32`.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of tokens issued by Generate. The GitHub callback
// gives its cookie the same lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate issues a token for userID that expires after TTL.
func (s *TokenService) Generate(userID int64) (string, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration issues a token that expires after d. A negative d
// yields an already expired token, which tests rely on.
func (s *TokenService) GenerateWithDuration(userID int64, d time.Duration) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("auth: cannot issue a token for user id %d", userID)
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        xid.New().String(),
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate checks a token and returns the user id in its subject.
//
// Only HS256 is accepted. Pinning the method stops "alg":"none" tokens
// and tokens that try to pass the HMAC secret off as an RSA public key.
// The issuer and an expiry are required.
func (s *TokenService) Validate(raw string) (int64, error) {
	if raw == "" {
		return 0, ErrTokenMissing
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrTokenInvalid, claims.Subject)
	}
	return userID, nil
}
