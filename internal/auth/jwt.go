// Package auth implements a thin JWT bearer-token verification layer.
// Token issuance and identity management are an external collaborator
// (spec.md §1 Non-goals); this package only verifies a signature and
// extracts the claims the order-processing core actually needs.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// User is the identity extracted from a verified bearer token.
type User struct {
	ID    int64
	IsVIP bool
}

const contextKey = "orderproc.user"

// claims is the subset of a bearer token's payload this service reads.
type claims struct {
	Sub   string `json:"sub"`
	IsVIP bool   `json:"is_vip"`
	jwt.RegisteredClaims
}

// Verifier validates HS256-signed bearer tokens against a shared
// secret and injects the resulting User into the gin context.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Middleware rejects requests without a valid bearer token and stores
// the extracted User in the request context for downstream handlers.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := v.parse(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(contextKey, user)
		c.Next()
	}
}

func (v *Verifier) parse(header string) (*User, error) {
	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == "" || tokenString == header {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	cc, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	id, err := strconv.ParseInt(cc.Sub, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	return &User{ID: id, IsVIP: cc.IsVIP}, nil
}

// FromContext retrieves the User set by Middleware.
func FromContext(c *gin.Context) (*User, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok
}
