package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateToken(t *testing.T) {
	v := NewValidator("test-secret")

	t.Run("round trip", func(t *testing.T) {
		token, err := v.GenerateToken("u1", "Ann", "ann@example.com", time.Hour)
		require.NoError(t, err)

		claims, err := v.ValidateToken("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID())
		assert.Equal(t, "Ann", claims.DisplayName())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := v.ValidateToken("")
		assert.ErrorIs(t, err, ErrEmptyToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := v.GenerateToken("u1", "Ann", "", -time.Minute)
		require.NoError(t, err)
		_, err = v.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := NewValidator("other").GenerateToken("u1", "Ann", "", time.Hour)
		require.NoError(t, err)
		_, err = v.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("none algorithm rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1", Issuer: issuer})
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = v.ValidateToken(raw)
		assert.Error(t, err)
	})
}

func TestClaims_DisplayName(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u9"}}
	assert.Equal(t, "u9", c.DisplayName())
}

func TestMiddleware(t *testing.T) {
	v := NewValidator("test-secret")
	var seen *Claims
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("header token", func(t *testing.T) {
		token, err := v.GenerateToken("u1", "Ann", "", time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "u1", seen.UserID())
	})

	t.Run("query token", func(t *testing.T) {
		token, err := v.GenerateToken("u2", "Ben", "", time.Hour)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "u2", seen.UserID())
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
