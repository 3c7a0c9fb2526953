// Package auth verifies the session tokens issued by the account service.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingToken = errors.New("missing token")
var ErrInvalidToken = errors.New("invalid token")

const (
	RoleKid    = "kid"
	RoleParent = "parent"
	RoleAdmin  = "admin"
)

// Claims mirrors the payload the account service signs: {id, role, name}.
type Claims struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

// NewVerifier returns nil when secret is empty, which disables authentication.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMissingToken
	}
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.ID == 0 {
		return Claims{}, fmt.Errorf("%w: no user id", ErrInvalidToken)
	}
	return c, nil
}

// Sign issues a token; the account service owns issuance, this exists for tools and tests.
func (v *Verifier) Sign(c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

// TokenFromRequest reads a bearer token, falling back to the token query parameter
// browsers use for websocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func HasRole(c Claims, roles ...string) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}
