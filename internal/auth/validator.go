// Package auth validates inbound bearer credentials. Tokens are JWTs signed
// with a single fixed symmetric algorithm (HS256); any other algorithm is
// rejected outright to rule out algorithm-confusion attacks. The validator
// holds no mutable state and is safe for concurrent use.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerScheme = "Bearer"

// Reason classifies why credential validation failed.
type Reason string

const (
	ReasonMissingCredential   Reason = "missing_credential"
	ReasonInvalidScheme       Reason = "invalid_scheme"
	ReasonMalformedCredential Reason = "malformed_credential"
	ReasonInvalidToken        Reason = "invalid_token"
	ReasonExpired             Reason = "expired"
)

// Error is a credential validation failure. Every Reason maps to a 401 at
// the admission boundary; the Reason is for logging and tests, never for
// the client.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: %s", e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the validation failure reason from err, or "" when err
// is not an auth error.
func ReasonOf(err error) Reason {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return ""
}

// Claims are the verified token claims. Subject and expiry are the fields
// the gateway acts on; anything else the token carries is opaque here.
type Claims struct {
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens against a shared HS256 secret.
type Validator struct {
	secret []byte
}

// NewValidator creates a validator for tokens signed with the given secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate parses and verifies the Authorization header value at the given
// instant. The scheme comparison is case-insensitive and whitespace around
// the token (spaces, tabs, newlines) is tolerated. On failure it returns an
// *Error whose Reason states what went wrong.
func (v *Validator) Validate(headerValue string, now time.Time) (*Claims, error) {
	if headerValue == "" {
		return nil, &Error{Reason: ReasonMissingCredential}
	}

	scheme, rest, _ := strings.Cut(headerValue, " ")
	if !strings.EqualFold(scheme, bearerScheme) {
		return nil, &Error{Reason: ReasonInvalidScheme}
	}

	token := strings.TrimSpace(rest)
	if token == "" {
		return nil, &Error{Reason: ReasonMalformedCredential}
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &Error{Reason: ReasonExpired, Err: err}
		}
		return nil, &Error{Reason: ReasonInvalidToken, Err: err}
	}

	// The library already validated exp above, but the expiry decision must
	// not depend on its defaults staying that way.
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		return nil, &Error{Reason: ReasonExpired}
	}

	return claims, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return v.secret, nil
}
