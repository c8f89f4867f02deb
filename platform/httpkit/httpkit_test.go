package httpkit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"activation_backend/platform/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type jwtConfig string

func (c jwtConfig) GetJWTAccessSecret() string { return string(c) }

const testSecret = jwtConfig("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/me", AuthRequired(testSecret), func(c *gin.Context) {
		OK(c, gin.H{"sub": GetIdentity(c).Subject()})
	})
	engine.POST("/admin", AuthRequired(testSecret), RequireRole(RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return engine
}

func serve(engine *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	engine := newTestEngine()
	exp := time.Now().Add(time.Hour).Unix()

	valid := signToken(t, jwt.MapClaims{"sub": "005R", "type": "access", "exp": exp})
	if rec := serve(engine, http.MethodGet, "/me", valid); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	cases := map[string]string{
		"missing":     "",
		"refresh":     signToken(t, jwt.MapClaims{"sub": "005R", "type": "refresh", "exp": exp}),
		"no expiry":   signToken(t, jwt.MapClaims{"sub": "005R", "type": "access"}),
		"expired":     signToken(t, jwt.MapClaims{"sub": "005R", "type": "access", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no subject":  signToken(t, jwt.MapClaims{"type": "access", "exp": exp}),
		"wrong token": "not-a-jwt",
	}
	for name, token := range cases {
		if rec := serve(engine, http.MethodGet, "/me", token); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestRequireRole(t *testing.T) {
	engine := newTestEngine()
	exp := time.Now().Add(time.Hour).Unix()

	admin := signToken(t, jwt.MapClaims{"sub": "005R", "type": "access", "exp": exp, "roles": []string{"admin"}})
	if rec := serve(engine, http.MethodPost, "/admin", admin); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", rec.Code)
	}

	user := signToken(t, jwt.MapClaims{"sub": "005R", "type": "access", "exp": exp, "roles": "user viewer"})
	if rec := serve(engine, http.MethodPost, "/admin", user); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}
}

func TestHandleErrorUsesWrappedKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("load: %w", apperr.NotFound("activation not found")), http.StatusNotFound},
		{apperr.Validation("bad timezone"), http.StatusBadRequest},
		{apperr.Session("expired", nil), http.StatusUnauthorized},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		if !HandleError(c, tc.err) {
			t.Fatalf("expected %v to be handled", tc.err)
		}
		if rec.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}
