// Package auth validates the tokens clients present on authenticate.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Validator decides whether a token grants access.
type Validator interface {
	ValidateToken(token string) bool
}

// APIKeyValidator accepts a single static key.
type APIKeyValidator struct {
	key []byte
}

// NewAPIKeyValidator creates a validator for key.
func NewAPIKeyValidator(key string) *APIKeyValidator {
	return &APIKeyValidator{key: []byte(key)}
}

// ValidateToken implements Validator.
func (v *APIKeyValidator) ValidateToken(token string) bool {
	if len(v.key) == 0 || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare(v.key, []byte(token)) == 1
}

// Claims are the JWT claims accepted by JWTValidator.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator accepts HS256 tokens signed with a shared secret.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for tokens signed with secret.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// ValidateToken implements Validator.
func (v *JWTValidator) ValidateToken(token string) bool {
	_, err := v.Parse(token)
	return err == nil
}

// Parse validates a token and returns its claims.
func (v *JWTValidator) Parse(tokenString string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// Sign issues a token for userID that expires after ttl. Used by the CLI
// and tests.
func (v *JWTValidator) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// AnyValidator accepts a token if any of its validators does.
type AnyValidator []Validator

// ValidateToken implements Validator.
func (a AnyValidator) ValidateToken(token string) bool {
	for _, v := range a {
		if v.ValidateToken(token) {
			return true
		}
	}
	return false
}
