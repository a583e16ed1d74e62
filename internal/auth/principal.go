// Package auth implements the Identity Verifier (spec.md §4.1): it parses
// and validates a bearer token against a preshared HMAC secret and produces
// a Principal. It performs no I/O — see original_source/app/security/security.go
// for the Python reference this is grounded on.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/jaewoo-rain/webide-broker/internal/errors"
)

// Role is the principal's permission level.
type Role string

const (
	RoleFree   Role = "ROLE_FREE"
	RoleMember Role = "ROLE_MEMBER"
	RoleAdmin  Role = "ROLE_ADMIN"
)

// Unlimited reports whether r bypasses the free-tier instance quota (spec.md §4.5).
func (r Role) Unlimited() bool {
	return r == RoleMember || r == RoleAdmin
}

// Principal is the authenticated identity extracted from a bearer token.
// It is created fresh on every request and never mutated (spec.md §3).
type Principal struct {
	Username string
	Role     Role
	Expiry   time.Time
}

// claims mirrors the token payload shape used by the original implementation:
// username, role, category="access", exp.
type claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Category string `json:"category"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against a preshared symmetric secret.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier bound to the given HMAC secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// ExtractBearerToken pulls the raw token out of an Authorization header
// value ("Bearer <token>"), failing MissingCredential otherwise.
func ExtractBearerToken(authHeader string) (string, *apperrors.AppError) {
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return "", apperrors.MissingCredential("missing or invalid Authorization header")
	}
	return strings.TrimPrefix(authHeader, "Bearer "), nil
}

// Verify parses and validates tokenString, producing a Principal iff:
// the signature verifies, "category" equals "access", "exp" is strictly in
// the future (UTC), and both "username" and "role" are present and
// non-empty (spec.md §4.1).
func (v *Verifier) Verify(tokenString string) (*Principal, *apperrors.AppError) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if strings.Contains(err.Error(), "expired") {
			return nil, apperrors.Expired("token expired")
		}
		return nil, apperrors.Invalid("invalid token")
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, apperrors.Invalid("invalid token")
	}

	if c.Category != "access" {
		return nil, apperrors.Invalid("not an access token")
	}

	if c.ExpiresAt == nil || !c.ExpiresAt.Time.UTC().After(time.Now().UTC()) {
		return nil, apperrors.Expired("token expired")
	}

	if c.Username == "" || c.Role == "" {
		return nil, apperrors.Invalid("missing claims")
	}

	return &Principal{
		Username: c.Username,
		Role:     Role(c.Role),
		Expiry:   c.ExpiresAt.Time,
	}, nil
}
