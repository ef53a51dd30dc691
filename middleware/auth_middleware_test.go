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

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func defaultClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       "alice",
		"tenant_id": "tenant-a",
		"role":      "operator",
		"iss":       "regenops",
		"exp":       time.Now().Add(time.Hour).Unix(),
		"iat":       time.Now().Unix(),
	}
}

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/protocols", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestRequireAuth_MissingToken(t *testing.T) {
	m := NewAuthMiddleware(NewJWTValidator(testSecret, "regenops"), zap.NewNop())
	handler := m.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	m := NewAuthMiddleware(NewJWTValidator(testSecret, "regenops"), zap.NewNop())
	handler := m.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(signToken(t, "wrong-secret", defaultClaims())))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_TokenWithoutTenant(t *testing.T) {
	m := NewAuthMiddleware(NewJWTValidator(testSecret, "regenops"), zap.NewNop())
	handler := m.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	claims := defaultClaims()
	delete(claims, "tenant_id")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(signToken(t, testSecret, claims)))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAuth_ValidTokenInjectsClaims(t *testing.T) {
	m := NewAuthMiddleware(NewJWTValidator(testSecret, "regenops"), zap.NewNop())

	var seen *Claims
	handler := m.RequireAuth(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetClaimsFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(signToken(t, testSecret, defaultClaims())))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.Subject)
	assert.Equal(t, "tenant-a", seen.TenantID)
	assert.Equal(t, "operator", seen.Role)
}

func TestJWTValidator_RejectsWrongIssuer(t *testing.T) {
	v := NewJWTValidator(testSecret, "regenops")

	claims := defaultClaims()
	claims["iss"] = "someone-else"

	_, err := v.ValidateToken(context.Background(), signToken(t, testSecret, claims))

	assert.Error(t, err)
}

func TestJWTValidator_RejectsExpiredToken(t *testing.T) {
	v := NewJWTValidator(testSecret, "regenops")

	claims := defaultClaims()
	claims["exp"] = time.Now().Add(-time.Minute).Unix()

	_, err := v.ValidateToken(context.Background(), signToken(t, testSecret, claims))

	assert.Error(t, err)
}

func TestJWTValidator_RequiresExpiration(t *testing.T) {
	v := NewJWTValidator(testSecret, "regenops")

	claims := defaultClaims()
	delete(claims, "exp")

	_, err := v.ValidateToken(context.Background(), signToken(t, testSecret, claims))

	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, extractToken(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwdw==")
	assert.Empty(t, extractToken(req))

	req.Header.Set("Authorization", "bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", extractToken(req))
}
