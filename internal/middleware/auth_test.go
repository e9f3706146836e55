package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func issueToken(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()

	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func protected(t *testing.T, wantUser string, called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		id, ok := GetUserIDFromContext(r.Context())
		require.True(t, ok, "user id not in context")
		assert.Equal(t, wantUser, id)
	})
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token := issueToken(t, "test-secret", "user_42", time.Hour)

	called := false
	r := httptest.NewRequest(http.MethodGet, "/api/goals", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	m.Middleware(protected(t, "user_42", &called)).ServeHTTP(w, r)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_CookieToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token := issueToken(t, "test-secret", "user_7", time.Hour)

	called := false
	r := httptest.NewRequest(http.MethodGet, "/api/goals", nil)
	r.AddCookie(&http.Cookie{Name: authCookieName, Value: token})

	m.Middleware(protected(t, "user_7", &called)).ServeHTTP(httptest.NewRecorder(), r)

	assert.True(t, called)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	expired := issueToken(t, "test-secret", "u", -time.Hour)
	foreign := issueToken(t, "other-secret", "u", time.Hour)
	noSubject := issueToken(t, "test-secret", "", time.Hour)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dTpw"},
		{"garbage", "Bearer not-a-token"},
		{"expired", "Bearer " + expired},
		{"foreign signature", "Bearer " + foreign},
		{"empty subject", "Bearer " + noSubject},
		{"unsigned", "Bearer " + none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/goals", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})).ServeHTTP(w, r)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestGetUserIDFromContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := GetUserIDFromContext(r.Context())
	assert.False(t, ok)

	id, ok := GetUserIDFromContext(context.WithValue(r.Context(), userIDKey, "u1"))
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}

func TestLogger_PassesThrough(t *testing.T) {
	h := Logger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}
