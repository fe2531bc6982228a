// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	// DefaultResetSalt separates password reset tokens from any other token
	// signed with the same secret.
	DefaultResetSalt = "password-reset-salt"

	// ResetTokenMaxAge is how long a reset link stays valid.
	ResetTokenMaxAge = time.Hour
)

// tokenClaims is the payload of a signed token.
type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithClock overrides the time source. Tests use it to move time forward.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// TokenCodec issues and verifies signed, time-limited tokens that carry an
// email address. Tokens are stateless: nothing is stored on issue.
//
// The signing key is HMAC-SHA256(secret, salt) and the salt is also the token
// audience, so a token signed for one purpose never verifies for another.
type TokenCodec struct {
	key  []byte
	salt string
	now  func() time.Time
}

// NewTokenCodec creates a TokenCodec for the given secret and salt.
func NewTokenCodec(secret, salt string, opts ...TokenOption) (*TokenCodec, error) {
	if secret == "" {
		return nil, oops.Code("TOKEN_CODEC_INVALID").Errorf("secret is required")
	}
	if salt == "" {
		return nil, oops.Code("TOKEN_CODEC_INVALID").Errorf("salt is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(salt))

	c := &TokenCodec{
		key:  mac.Sum(nil),
		salt: salt,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs payload and the current time into a URL-safe token.
func (c *TokenCodec) Issue(payload string) (string, error) {
	claims := tokenClaims{
		Email: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience: jwt.ClaimStrings{c.salt},
			IssuedAt: jwt.NewNumericDate(c.now()),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return token, nil
}

// Verify returns the payload of token if its signature and purpose check out
// and it was issued no more than maxAge ago.
//
// Every failure wraps ErrInvalidToken. The oops code names the reason:
// TOKEN_MALFORMED, TOKEN_SIGNATURE_INVALID, TOKEN_DOMAIN_MISMATCH or
// TOKEN_EXPIRED. Show users only the collapsed error.
func (c *TokenCodec) Verify(token string, maxAge time.Duration) (string, error) {
	if token == "" {
		return "", oops.Code("TOKEN_MALFORMED").Wrap(ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(c.salt),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)

	var claims tokenClaims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return "", oops.Code(tokenFailureCode(err)).
			With("cause", err.Error()).
			Wrap(ErrInvalidToken)
	}

	if claims.IssuedAt == nil || claims.Email == "" {
		return "", oops.Code("TOKEN_MALFORMED").Wrap(ErrInvalidToken)
	}

	age := c.now().Sub(claims.IssuedAt.Time)
	if age > maxAge {
		return "", oops.Code("TOKEN_EXPIRED").
			With("age", age.String()).
			With("max_age", maxAge.String()).
			Wrap(ErrInvalidToken)
	}

	return claims.Email, nil
}

func tokenFailureCode(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "TOKEN_SIGNATURE_INVALID"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "TOKEN_DOMAIN_MISMATCH"
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "TOKEN_ISSUED_IN_FUTURE"
	default:
		return "TOKEN_MALFORMED"
	}
}
