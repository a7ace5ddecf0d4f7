package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proctorsfu/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, sub, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTVerifier_Verify(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	userID, role, err := v.Verify(signToken(t, "test-secret", "user-1", "proctor"))
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("user-1"), userID)
	assert.Equal(t, domain.RoleProctor, role)
}

func TestJWTVerifier_RejectsBadTokens(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", signToken(t, "other-secret", "user-1", "proctor")},
		{"unknown role", signToken(t, "test-secret", "user-1", "admin")},
		{"missing subject", signToken(t, "test-secret", "", "candidate")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := v.Verify(tc.token)
			assert.Error(t, err)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewJWTVerifier("test-secret")

	router := gin.New()
	router.Use(AuthMiddleware(v))
	router.GET("/whoami", func(c *gin.Context) {
		userID, _ := c.Get("user_id")
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", "user-2", "proctor"))
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "user-2")
	})
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewJWTVerifier("test-secret")

	router := gin.New()
	router.Use(AuthMiddleware(v), RequireRole(domain.RoleProctor))
	router.GET("/admin", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", "user-3", "candidate"))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
