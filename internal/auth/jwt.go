// Package auth verifies the access tokens issued by the managed identity
// provider and exposes the caller's identity to handlers.
//
// The identity provider (Supabase Auth) signs access tokens with HS256 using
// the project's JWT secret. The server never issues tokens for real users;
// it only checks them:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:  {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<user uuid>","email":"...","aud":"authenticated","exp":...}
//
// A verified "sub" is the profile id; a verified "email" is the address the
// checkout session is opened for. Request bodies are never trusted for either.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience is the "aud" claim carried by signed-in users' access tokens.
const Audience = "authenticated"

// Identity is the verified caller.
type Identity struct {
	UserID string
	Email  string
}

// TokenService validates access tokens with the shared project secret.
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a TokenService. issuer is optional; when set, the
// "iss" claim must match it exactly (e.g. https://<ref>.supabase.co/auth/v1).
func NewTokenService(secret, issuer string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}, nil
}

// claims is the subset of the identity provider's payload we read.
type claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a token the way the identity provider does. Used by tests and
// by local tooling that needs to call protected endpoints.
func (s *TokenService) Issue(id Identity, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Email: id.Email,
		Role:  Audience,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies an access token and returns the identity in it.
//
// Checks performed by the jwt library:
//   - signature is valid HS256 (rejects "none" and algorithm confusion)
//   - token is not expired, and has an expiry at all
//   - audience is "authenticated" (anon and service tokens are refused)
//   - issuer matches, when one is configured
func (s *TokenService) Validate(tokenStr string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("auth: token expired")
		}
		return Identity{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return Identity{}, fmt.Errorf("auth: token has no subject")
	}

	return Identity{UserID: c.Subject, Email: strings.TrimSpace(c.Email)}, nil
}
