package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/config"
)

func testHasher() *PasswordHasher {
	return &PasswordHasher{memory: 1024, iterations: 1, parallelism: 1, saltLength: 16, keyLength: 32}
}

func newTestService(t *testing.T, password string) *AuthService {
	t.Helper()
	hash, err := testHasher().HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	t.Setenv("ALLSKY_TEST_JWT", "test-secret-that-is-long-enough-for-hs256")
	return NewAuthService(config.AuthConfig{
		JWTSecretEnv:           "ALLSKY_TEST_JWT",
		AccessTokenTTL:         time.Hour,
		AdminUser:              "admin",
		AdminPasswordHash:      hash,
		MaxFailedLoginAttempts: 3,
		AccountLockDuration:    time.Minute,
	}, zap.NewNop())
}

func TestPasswordHasher(t *testing.T) {
	h := testHasher()
	encoded, err := h.HashPassword("clear skies")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if ok, err := h.VerifyPassword("clear skies", encoded); !ok || err != nil {
		t.Errorf("VerifyPassword(correct) = %v, %v", ok, err)
	}
	if ok, _ := h.VerifyPassword("clouds", encoded); ok {
		t.Error("wrong password accepted")
	}
	// parameters come from the hash, not the hasher
	if ok, _ := NewPasswordHasher().VerifyPassword("clear skies", encoded); !ok {
		t.Error("verification depends on hasher parameters")
	}
	if _, err := h.VerifyPassword("x", "$bcrypt$nope"); err == nil {
		t.Error("malformed hash accepted")
	}
}

func TestJWTHandler(t *testing.T) {
	j := NewJWTHandler("secret-a", time.Hour)
	token, expires, err := j.GenerateAccessToken("admin", RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	if time.Until(expires) < 59*time.Minute {
		t.Errorf("expires = %s", expires)
	}

	claims, err := j.ValidateAccessToken(token)
	if err != nil || claims.Username != "admin" || claims.Role != RoleAdmin {
		t.Errorf("claims = %+v, %v", claims, err)
	}

	if _, err := NewJWTHandler("secret-b", time.Hour).ValidateAccessToken(token); err == nil {
		t.Error("token accepted with another key")
	}

	expired, _, _ := NewJWTHandler("secret-a", -time.Minute).GenerateAccessToken("admin", RoleAdmin)
	if _, err := j.ValidateAccessToken(expired); err == nil {
		t.Error("expired token accepted")
	}
}

func TestLogin(t *testing.T) {
	a := newTestService(t, "s3cret")

	token, _, err := a.Login("admin", "s3cret", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	_, perms, err := a.ValidateToken(token)
	if err != nil || len(perms) != 2 {
		t.Errorf("ValidateToken = %v, %v", perms, err)
	}

	if _, _, err := a.Login("root", "s3cret", "127.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v", err)
	}
}

func TestLogin_Lockout(t *testing.T) {
	a := newTestService(t, "s3cret")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		a.Login("admin", "wrong", "10.0.0.1")
	}

	_, _, err := a.Login("admin", "s3cret", "10.0.0.1")
	var locked *ErrLocked
	if !errors.As(err, &locked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}

	now = now.Add(2 * time.Minute)
	if _, _, err := a.Login("admin", "s3cret", "10.0.0.1"); err != nil {
		t.Errorf("login after lock expired: %v", err)
	}
}

func TestLogin_Disabled(t *testing.T) {
	a := NewAuthService(config.AuthConfig{AdminUser: "admin", AccessTokenTTL: time.Hour}, zap.NewNop())
	if _, _, err := a.Login("admin", "", ""); !errors.Is(err, ErrLoginDisabled) {
		t.Errorf("err = %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newTestService(t, "pw")

	r := gin.New()
	r.POST("/control", a.AuthMiddleware(), RequirePermission(PermControl), func(c *gin.Context) {
		c.String(http.StatusOK, Username(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/control", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no header: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/control", nil)
	req.Header.Set("Authorization", "Token abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad scheme: %d", w.Code)
	}

	token, _, _ := a.Login("admin", "pw", "")
	req = httptest.NewRequest(http.MethodPost, "/control", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "admin" {
		t.Errorf("valid token: %d %q", w.Code, w.Body.String())
	}
}
