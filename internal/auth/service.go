package auth

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Service authenticates the single operator account
type Service struct {
	jwtManager *JWTManager
	config     Config
	logger     zerolog.Logger
	now        func() time.Time

	mu          sync.Mutex
	failures    int
	lockedUntil time.Time
}

// NewService creates a new authentication service
func NewService(config Config, logger zerolog.Logger) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = 12 * time.Hour
	}
	if config.MaxLoginAttempts == 0 {
		config.MaxLoginAttempts = 5
	}
	if config.LockoutDuration == 0 {
		config.LockoutDuration = 15 * time.Minute
	}

	return &Service{
		jwtManager: NewJWTManager(config.JWTSecret, config.AccessTokenDuration),
		config:     config,
		logger:     logger.With().Str("component", "Auth").Logger(),
		now:        time.Now,
	}, nil
}

// GetJWTManager returns the JWT manager for use in middleware
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwtManager
}

// WebhookToken returns the shared secret for signal webhooks
func (s *Service) WebhookToken() string {
	return s.config.WebhookToken
}

// Login checks the operator credentials and issues an access token
func (s *Service) Login(req LoginRequest) (*LoginResponse, error) {
	if s.config.PasswordHash == "" {
		return nil, ErrNotConfigured
	}

	s.mu.Lock()
	if s.now().Before(s.lockedUntil) {
		s.mu.Unlock()
		return nil, ErrRateLimited
	}
	s.mu.Unlock()

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.config.Username)) == 1
	passOK := VerifyPassword(req.Password, s.config.PasswordHash)
	if !userOK || !passOK {
		s.recordFailure(req.Username)
		return nil, ErrInvalidCredentials
	}

	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()

	token, err := s.jwtManager.GenerateAccessToken(OperatorClaims{Username: s.config.Username, Role: "operator"})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", req.Username).Msg("Operator logged in")

	return &LoginResponse{
		AccessToken: token,
		ExpiresIn:   s.jwtManager.GetAccessTokenDuration(),
		TokenType:   "Bearer",
	}, nil
}

func (s *Service) recordFailure(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	if s.failures >= s.config.MaxLoginAttempts {
		s.lockedUntil = s.now().Add(s.config.LockoutDuration)
		s.failures = 0
		s.logger.Warn().Str("username", username).Time("locked_until", s.lockedUntil).Msg("Too many failed logins, locking")
		return
	}
	s.logger.Warn().Str("username", username).Int("failures", s.failures).Msg("Failed login")
}
