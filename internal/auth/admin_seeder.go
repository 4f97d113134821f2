package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
)

// AdminLicenseDays is the term granted to a seeded admin license
const AdminLicenseDays = 365

// SeedAdmin ensures an admin user exists for email. A new admin gets an
// enterprise license. An existing user is left untouched.
func (s *Service) SeedAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return fmt.Errorf("admin email and password are required")
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check for admin user: %w", err)
	}
	if existing != nil {
		s.logger.Info().Str("email", email).Bool("is_admin", existing.IsAdmin).Msg("Admin user already present")
		return nil
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return err
	}
	now := time.Now()
	admin := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         "Administrator",
		PasswordHash: hash,
		IsAdmin:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	if _, err := s.licenses.CreateTrial(ctx, admin.ID); err != nil {
		return fmt.Errorf("failed to create admin license: %w", err)
	}
	if _, err := s.licenses.Upgrade(ctx, admin.ID, license.TierEnterprise, AdminLicenseDays); err != nil {
		return fmt.Errorf("failed to upgrade admin license: %w", err)
	}

	s.logger.Info().Str("user_id", admin.ID).Str("email", email).Msg("Admin user created")
	return nil
}
