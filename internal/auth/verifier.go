// Package auth provides bearer token verification and the acting principal.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles understood by the API.
const (
	RoleAdmin   = "admin"
	RolePlanner = "planner"
	RoleViewer  = "viewer"
)

// Principal is the authenticated caller. User is recorded as the acting user
// on requeues and audit entries.
type Principal struct {
	User string `json:"user"`
	Role string `json:"role"`
}

// CanReschedule reports whether the principal may move operations.
func (p Principal) CanReschedule() bool {
	return p.Role == RoleAdmin || p.Role == RolePlanner
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Claims extends standard registered claims with a display name and role.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier validates bearer tokens.
// Modes: dev (token is "user:role", no signature) and hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
}

func NewVerifier(mode, secret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret)}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrUnauthenticated
	}
	switch v.Mode {
	case "dev":
		user, role, ok := strings.Cut(token, ":")
		if !ok || user == "" {
			return Principal{}, fmt.Errorf("%w: invalid dev token; expected user:role", ErrUnauthenticated)
		}
		return principal(user, role)
	case "hmac":
		claims, err := Parse(v.HMACSecret, token)
		if err != nil {
			return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		user := claims.Name
		if user == "" {
			user = claims.Subject
		}
		if user == "" {
			return Principal{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
		}
		return principal(user, claims.Role)
	}
	return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
}

func principal(user, role string) (Principal, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = RoleViewer
	}
	switch role {
	case RoleAdmin, RolePlanner, RoleViewer:
	default:
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, role)
	}
	return Principal{User: user, Role: role}, nil
}

// Issue creates an HS256 token string. Used by the CLI and tests.
func Issue(secret []byte, subject, name, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Parse validates an HS256 token string.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
