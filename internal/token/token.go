// Package token signs and verifies the HS256 JWTs the document server
// exchanges with docbridge when a shared secret is configured.
package token

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wuyou/docbridge/internal/errs"
)

// Signer holds the shared secret. A nil *Signer or empty secret means
// tokens are disabled.
type Signer struct {
	secret []byte
}

// New returns a Signer for secret, or nil when secret is empty.
func New(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Sign returns an HS256 token carrying claims.
func (s *Signer) Sign(claims map[string]interface{}) (string, error) {
	if !s.Enabled() {
		return "", errs.New(errs.ErrKindInvalidInput, "token signing is disabled")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString(s.secret)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindUnknown, "failed to sign token", err)
	}
	return signed, nil
}

// Verify checks raw and returns its claims. Only HS256 is accepted.
func (s *Signer) Verify(raw string) (map[string]interface{}, error) {
	if !s.Enabled() {
		return nil, errs.New(errs.ErrKindInvalidInput, "token verification is disabled")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindPermissionDenied, "invalid token", err)
	}
	return claims, nil
}

// FromHeader extracts the token from an "Authorization: Bearer …" value.
func FromHeader(authorization string) string {
	const prefix = "bearer "
	if len(authorization) > len(prefix) && strings.EqualFold(authorization[:len(prefix)], prefix) {
		return strings.TrimSpace(authorization[len(prefix):])
	}
	return ""
}
