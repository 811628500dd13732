// Package auth verifies the bearer tokens that identify API callers. Tokens
// are minted by the identity provider; this service only checks them.
package auth

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/frahmantamala/user-management/internal"
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT token claims
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// CallerID parses the user_id claim.
func (c *Claims) CallerID() (int64, error) {
	id, err := strconv.ParseInt(c.UserID, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user_id claim %q", c.UserID)
	}
	return id, nil
}

type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier accepts HS256 tokens signed with secret. Tokens without an
// expiry are rejected.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify validates a JWT token and returns claims
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired.WithCause(err)
		}
		return nil, internal.ErrInvalidToken.WithCause(err)
	}
	if !token.Valid {
		return nil, internal.ErrInvalidToken
	}
	if _, err := claims.CallerID(); err != nil {
		return nil, internal.ErrInvalidToken.WithCause(err)
	}
	return claims, nil
}
