package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
)

// UserStore persists dashboard users. Lookups return (nil, nil) when absent.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Licenses is the account lifecycle surface auth drives
type Licenses interface {
	CreateTrial(ctx context.Context, userID string) (*models.License, error)
	Upgrade(ctx context.Context, userID string, tier license.Tier, days int) (*models.License, error)
	RecordLogin(ctx context.Context, userID, ip string) error
	Get(ctx context.Context, userID string) (*models.License, error)
}

// Service handles authentication operations
type Service struct {
	users     UserStore
	licenses  Licenses
	jwt       *JWTManager
	passwords *PasswordManager
	logger    zerolog.Logger
}

// NewService creates a new authentication service
func NewService(users UserStore, licenses Licenses, config Config, logger zerolog.Logger) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}
	defaults := DefaultConfig()
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = defaults.AccessTokenDuration
	}
	if config.Issuer == "" {
		config.Issuer = defaults.Issuer
	}

	return &Service{
		users:     users,
		licenses:  licenses,
		jwt:       NewJWTManager(config.JWTSecret, config.Issuer, config.AccessTokenDuration),
		passwords: NewPasswordManager(config.BcryptCost, config.MinPasswordLength),
		logger:    logger.With().Str("component", "AuthService").Logger(),
	}, nil
}

// GetJWTManager returns the JWT manager for use in middleware
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwt
}

// Register creates a user and its trial license
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	if err := s.passwords.CheckStrength(req.Password); err != nil {
		return nil, AuthError{Code: ErrWeakPassword.Code, Message: err.Error()}
	}
	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if _, err := s.licenses.CreateTrial(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to create trial license: %w", err)
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User registered")
	return user, nil
}

// Login checks the credentials, counts the session on the license and
// issues an access token
func (s *Service) Login(ctx context.Context, req LoginRequest, ipAddress string) (*LoginResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !s.passwords.Verify(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateAccessToken(UserClaims{UserID: user.ID, Email: user.Email, IsAdmin: user.IsAdmin})
	if err != nil {
		return nil, err
	}

	if err := s.licenses.RecordLogin(ctx, user.ID, ipAddress); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to record login")
	}

	resp, err := s.userResponse(ctx, user)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		User:        *resp,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.jwt.ExpiresIn(),
	}, nil
}

// Me returns the profile of the authenticated user
func (s *Service) Me(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return s.userResponse(ctx, user)
}

func (s *Service) userResponse(ctx context.Context, user *models.User) (*UserResponse, error) {
	resp := &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		IsAdmin:   user.IsAdmin,
		CreatedAt: user.CreatedAt,
	}
	lic, err := s.licenses.Get(ctx, user.ID)
	if err != nil {
		// Admins seeded without a license still get a profile
		s.logger.Debug().Err(err).Str("user_id", user.ID).Msg("No license for user")
		return resp, nil
	}
	resp.Tier = lic.Tier
	resp.ExpiresAt = &lic.ExpiresAt
	resp.LastLoginAt = lic.LastLoginAt
	return resp, nil
}
