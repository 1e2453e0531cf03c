package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/config"
)

type Permission string

const (
	PermView    Permission = "view"
	PermControl Permission = "control"
)

const RoleAdmin = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginDisabled      = errors.New("login disabled, no admin password configured")
)

// ErrLocked is returned while an account is locked after repeated failures.
type ErrLocked struct {
	Until time.Time
}

func (e *ErrLocked) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

type lockout struct {
	failures    int
	lockedUntil time.Time
}

// AuthService authenticates the single configured admin account and checks
// bearer tokens for the control endpoints.
type AuthService struct {
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	adminUser      string
	adminHash      string
	maxFailures    int
	lockDuration   time.Duration
	logger         *zap.Logger

	mu       sync.Mutex
	lockouts map[string]*lockout
	now      func() time.Time
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		adminUser:      cfg.AdminUser,
		adminHash:      cfg.AdminPasswordHash,
		maxFailures:    cfg.MaxFailedLoginAttempts,
		lockDuration:   cfg.AccountLockDuration,
		logger:         logger,
		lockouts:       make(map[string]*lockout),
		now:            time.Now,
	}
}

// Login checks the credentials and returns an access token.
func (a *AuthService) Login(username, password, ipAddress string) (string, time.Time, error) {
	if a.adminHash == "" {
		return "", time.Time{}, ErrLoginDisabled
	}

	if until, locked := a.locked(username); locked {
		return "", time.Time{}, &ErrLocked{Until: until}
	}

	valid := false
	if username == a.adminUser {
		ok, err := a.passwordHasher.VerifyPassword(password, a.adminHash)
		if err != nil {
			a.logger.Error("Stored admin password hash is unusable", zap.Error(err))
		}
		valid = ok
	}

	if !valid {
		a.recordFailure(username)
		a.logger.Warn("Login failed",
			zap.String("username", username),
			zap.String("ip_address", ipAddress))
		return "", time.Time{}, ErrInvalidCredentials
	}

	a.resetFailures(username)

	token, expires, err := a.jwtHandler.GenerateAccessToken(username, RoleAdmin)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logger.Info("Login succeeded",
		zap.String("username", username),
		zap.String("ip_address", ipAddress))

	return token, expires, nil
}

// ValidateToken returns the permissions granted by a bearer token.
func (a *AuthService) ValidateToken(token string) (*JWTClaims, []Permission, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, err
	}
	return claims, roleToPermissions(claims.Role), nil
}

func roleToPermissions(role string) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermView, PermControl}
	default:
		return []Permission{PermView}
	}
}

func (a *AuthService) locked(username string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.lockouts[username]
	if !ok || l.lockedUntil.IsZero() {
		return time.Time{}, false
	}
	if a.now().Before(l.lockedUntil) {
		return l.lockedUntil, true
	}
	delete(a.lockouts, username)
	return time.Time{}, false
}

func (a *AuthService) recordFailure(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.lockouts[username]
	if !ok {
		l = &lockout{}
		a.lockouts[username] = l
	}
	l.failures++
	if a.maxFailures > 0 && l.failures >= a.maxFailures {
		l.lockedUntil = a.now().Add(a.lockDuration)
		a.logger.Warn("Account locked",
			zap.String("username", username),
			zap.Time("until", l.lockedUntil))
	}
}

func (a *AuthService) resetFailures(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.lockouts, username)
}
