package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/course-seat-watch/internal/utils"
)

const testSecret = "test-secret"

func protectedRequest(t *testing.T, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, JWTAuth(testSecret))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	tok, err := utils.NewAccessToken(testSecret, "ops", time.Minute)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	rec := protectedRequest(t, "Bearer "+tok.Token)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestJWTAuthRejectsBadTokens(t *testing.T) {
	cases := []struct {
		name string
		auth string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, c := range cases {
		if rec := protectedRequest(t, c.auth); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", c.name, rec.Code)
		}
	}
}

func TestJWTAuthRejectsWrongSecret(t *testing.T) {
	tok, err := utils.NewAccessToken("some-other-secret", "ops", time.Minute)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	if rec := protectedRequest(t, "Bearer "+tok.Token); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestJWTAuthRejectsExpiredToken(t *testing.T) {
	tok, err := utils.NewAccessToken(testSecret, "ops", -time.Minute)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	if rec := protectedRequest(t, "Bearer "+tok.Token); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
