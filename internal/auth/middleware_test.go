package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"telecom-keeper/internal/config"

	"github.com/gin-gonic/gin"
)

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		tok string
		ok  bool
	}{
		"Bearer abc":    {"abc", true},
		"  Bearer abc ": {"abc", true},
		"Bearer ":       {"", false},
		"Basic abc":     {"", false},
		"":              {"", false},
	}
	for in, want := range cases {
		tok, ok := BearerToken(in)
		if tok != want.tok || ok != want.ok {
			t.Fatalf("BearerToken(%q) = %q, %v", in, tok, ok)
		}
	}
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	pair, err := m.IssuePair(time.Now(), "u1", "st-1", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		sid, err := StationID(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, sid)
	})

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := do(""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", w.Code)
	}
	if w := do("Bearer " + pair.RefreshToken); w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token: got %d", w.Code)
	}
	w := do("Bearer " + pair.AccessToken)
	if w.Code != http.StatusOK || w.Body.String() != "st-1" {
		t.Fatalf("access token: got %d %q", w.Code, w.Body.String())
	}
}
