package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "geoforge"

var ErrEmptyToken = errors.New("token is empty")

type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// UserID is the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// DisplayName falls back to the user id when the token carries no name.
func (c *Claims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Subject
}

// Validator signs and verifies HS256 access tokens.
type Validator struct {
	key []byte
}

func NewValidator(key string) *Validator {
	if key == "" {
		slog.Warn("[AUTH] Signing key is empty")
	}
	return &Validator{key: []byte(key)}
}

func (v *Validator) GenerateToken(userID, name, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  name,
		Email: email,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
	if err != nil {
		slog.Error("[AUTH] Failed to sign token", "user", userID, "error", err)
		return "", err
	}
	return token, nil
}

// ValidateToken verifies signature, issuer and expiry. A "Bearer " prefix is
// accepted.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
