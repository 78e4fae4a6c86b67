package auth

import (
	"time"
)

// OperatorClaims represents the JWT claims for an operator
type OperatorClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"` // "operator" or "viewer"
}

// LoginRequest represents an operator login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // Access token expiry in seconds
	TokenType   string `json:"token_type"` // Always "Bearer"
}

// Config holds authentication configuration
type Config struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	Username            string        `json:"username"`
	PasswordHash        string        `json:"password_hash"`
	WebhookToken        string        `json:"webhook_token"`

	// Lockout after repeated failures
	MaxLoginAttempts int           `json:"max_login_attempts"`
	LockoutDuration  time.Duration `json:"lockout_duration"`
}

// DefaultConfig returns default authentication configuration
func DefaultConfig() Config {
	return Config{
		JWTSecret:           "", // Must be set
		AccessTokenDuration: 12 * time.Hour,
		Username:            "admin",
		MaxLoginAttempts:    5,
		LockoutDuration:     15 * time.Minute,
	}
}

// Error types for authentication
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden          = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrRateLimited        = AuthError{Code: "RATE_LIMITED", Message: "too many failed logins, please try again later"}
	ErrNotConfigured      = AuthError{Code: "NOT_CONFIGURED", Message: "operator password is not configured"}
)
