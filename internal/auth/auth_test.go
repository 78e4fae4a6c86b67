package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashPassword("correct-horse", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	s, err := NewService(Config{
		JWTSecret:        "test-secret",
		Username:         "admin",
		PasswordHash:     hash,
		WebhookToken:     "hook",
		MaxLoginAttempts: 3,
		LockoutDuration:  time.Minute,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService(Config{}, zerolog.Nop()); err == nil {
		t.Error("Expected an error without a JWT secret")
	}
}

func TestHashPasswordLength(t *testing.T) {
	if _, err := HashPassword("short", bcrypt.MinCost); err == nil {
		t.Error("Expected short password to be rejected")
	}
}

func TestLoginIssuesValidToken(t *testing.T) {
	s := newTestService(t)
	resp, err := s.Login(LoginRequest{Username: "admin", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.ExpiresIn != int64((12 * time.Hour).Seconds()) {
		t.Errorf("unexpected response %+v", resp)
	}
	claims, err := s.GetJWTManager().ValidateAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.Username != "admin" || claims.Role != "operator" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestLoginLockout(t *testing.T) {
	s := newTestService(t)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := s.Login(LoginRequest{Username: "admin", Password: "wrong-password"}); err != ErrInvalidCredentials {
			t.Fatalf("attempt %d: Expected invalid credentials, got %v", i, err)
		}
	}
	if _, err := s.Login(LoginRequest{Username: "admin", Password: "correct-horse"}); err != ErrRateLimited {
		t.Errorf("Expected lockout, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Login(LoginRequest{Username: "admin", Password: "correct-horse"}); err != nil {
		t.Errorf("Expected login after lockout expires, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	m := NewJWTManager("k", time.Minute)
	issued := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return issued }
	token, err := m.GenerateAccessToken(OperatorClaims{Username: "admin", Role: "operator"})
	if err != nil {
		t.Fatal(err)
	}
	m.now = time.Now
	if _, err := m.ValidateAccessToken(token); err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	token, _ := NewJWTManager("a", time.Hour).GenerateAccessToken(OperatorClaims{Username: "admin"})
	if _, err := NewJWTManager("b", time.Hour).ValidateAccessToken(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestService(t)
	resp, _ := s.Login(LoginRequest{Username: "admin", Password: "correct-horse"})

	r := gin.New()
	r.GET("/private", Middleware(s.GetJWTManager()), RequireOperator(), func(c *gin.Context) {
		c.String(http.StatusOK, GetUsername(c))
	})
	r.POST("/hook", WebhookMiddleware(s.GetJWTManager(), s.WebhookToken()), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	tests := []struct {
		name   string
		method string
		path   string
		header map[string]string
		want   int
	}{
		{"no header", "GET", "/private", nil, http.StatusUnauthorized},
		{"bad token", "GET", "/private", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"good token", "GET", "/private", map[string]string{"Authorization": "Bearer " + resp.AccessToken}, http.StatusOK},
		{"webhook token", "POST", "/hook", map[string]string{"X-Webhook-Token": "hook"}, http.StatusAccepted},
		{"webhook bearer jwt", "POST", "/hook", map[string]string{"Authorization": "Bearer " + resp.AccessToken}, http.StatusAccepted},
		{"webhook wrong", "POST", "/hook", map[string]string{"X-Webhook-Token": "nope"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d (%s)", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestService(t)
	h := NewHandlers(s)
	r := gin.New()
	r.POST("/login", h.Login)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/login", strings.NewReader(`{"username":"admin","password":"correct-horse"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.AccessToken == "" {
		t.Errorf("Expected a token, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/login", strings.NewReader(`{"username":"admin","password":"nope-nope"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}
