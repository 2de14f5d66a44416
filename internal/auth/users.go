package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/crypto"
	"semaphore/devicehub/internal/model"
)

type NewUser struct {
	Username string
	Email    string
	Password string
	Role     string
}

// CreateUser lets Admins create any role and Managers create Users they own.
func (s *Service) CreateUser(ctx context.Context, actor Principal, input NewUser) (model.User, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)
	if username == "" {
		return model.User{}, fmt.Errorf("%w: username is required", apperr.ErrValidation)
	}
	if err := validateEmail(email); err != nil {
		return model.User{}, err
	}
	if err := validatePassword(input.Password); err != nil {
		return model.User{}, err
	}
	role := model.RoleUser
	if input.Role != "" {
		parsed, ok := model.ParseRole(input.Role)
		if !ok {
			return model.User{}, fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, input.Role)
		}
		role = parsed
	}

	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleManager:
		if role != model.RoleUser {
			return model.User{}, fmt.Errorf("%w: managers can only create users", apperr.ErrForbidden)
		}
	default:
		return model.User{}, fmt.Errorf("%w: insufficient role", apperr.ErrForbidden)
	}

	user, err := s.newUser(username, email, input.Password, role)
	if err != nil {
		return model.User{}, err
	}
	createdBy := actor.User.ID
	user.CreatedBy = &createdBy
	if err := s.users.CreateUser(ctx, user); err != nil {
		return model.User{}, err
	}
	s.log.Info().Str("user_id", user.ID).Str("role", string(role)).Str("created_by", createdBy).Msg("user created")
	return user, nil
}

// Bootstrap creates the first Admin. It refuses once any Admin exists.
func (s *Service) Bootstrap(ctx context.Context, username, email, password string) (model.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return model.User{}, err
	}
	for _, user := range users {
		if user.Role == model.RoleAdmin {
			return model.User{}, fmt.Errorf("%w: an admin already exists", apperr.ErrConflict)
		}
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return model.User{}, fmt.Errorf("%w: username is required", apperr.ErrValidation)
	}
	if err := validateEmail(email); err != nil {
		return model.User{}, err
	}
	if err := validatePassword(password); err != nil {
		return model.User{}, err
	}
	user, err := s.newUser(username, strings.TrimSpace(email), password, model.RoleAdmin)
	if err != nil {
		return model.User{}, err
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return model.User{}, err
	}
	s.log.Info().Str("user_id", user.ID).Msg("bootstrap admin created")
	return user, nil
}

func (s *Service) newUser(username, email, password string, role model.Role) (model.User, error) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	return model.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    s.clock.Now(),
	}, nil
}

// ListUsers returns everyone for Admins and the caller plus their own Users
// for Managers.
func (s *Service) ListUsers(ctx context.Context, actor Principal) ([]model.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role == model.RoleAdmin {
		return users, nil
	}
	visible := make([]model.User, 0, len(users))
	for _, user := range users {
		if user.ID == actor.User.ID || model.CanManage(actor.User, user) {
			visible = append(visible, user)
		}
	}
	return visible, nil
}

func (s *Service) UpdateUserRole(ctx context.Context, actor Principal, userID, role string) (model.User, error) {
	if actor.Role != model.RoleAdmin {
		return model.User{}, fmt.Errorf("%w: admin role required", apperr.ErrForbidden)
	}
	parsed, ok := model.ParseRole(role)
	if !ok {
		return model.User{}, fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, role)
	}
	if userID == actor.User.ID {
		return model.User{}, fmt.Errorf("%w: cannot change your own role", apperr.ErrForbidden)
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	user.Role = parsed
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return model.User{}, err
	}
	if _, err := s.sessions.DeleteUserSessions(ctx, user.ID); err != nil {
		return model.User{}, err
	}
	s.log.Info().Str("user_id", user.ID).Str("role", string(parsed)).Msg("user role updated")
	return user, nil
}

// ResetUserPassword sets a new password for a managed user and drops their
// sessions.
func (s *Service) ResetUserPassword(ctx context.Context, actor Principal, userID, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	user, err := s.managedUser(ctx, actor, userID)
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return err
	}
	if _, err := s.sessions.DeleteUserSessions(ctx, user.ID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", user.ID).Str("by", actor.User.ID).Msg("password reset")
	return nil
}

// ChangePassword updates the caller's own password after checking the
// current one. All of the caller's sessions end, including this one.
func (s *Service) ChangePassword(ctx context.Context, actor Principal, current, next string) error {
	if err := validatePassword(next); err != nil {
		return err
	}
	user, err := s.users.GetUserByID(ctx, actor.User.ID)
	if err != nil {
		return err
	}
	if err := crypto.CheckPassword(user.PasswordHash, current); err != nil {
		return invalidCredentials()
	}
	hash, err := crypto.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return err
	}
	if _, err := s.sessions.DeleteUserSessions(ctx, user.ID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", user.ID).Msg("password changed")
	return nil
}

// DeactivateUser is the soft delete: the account stays, its sessions go.
func (s *Service) DeactivateUser(ctx context.Context, actor Principal, userID string) error {
	if userID == actor.User.ID {
		return fmt.Errorf("%w: cannot deactivate your own account", apperr.ErrForbidden)
	}
	user, err := s.managedUser(ctx, actor, userID)
	if err != nil {
		return err
	}
	user.Active = false
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return err
	}
	if _, err := s.sessions.DeleteUserSessions(ctx, user.ID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", user.ID).Str("by", actor.User.ID).Msg("user deactivated")
	return nil
}

// DeleteUser hard-deletes an account and its sessions. Admin only.
func (s *Service) DeleteUser(ctx context.Context, actor Principal, userID string) error {
	if actor.Role != model.RoleAdmin {
		return fmt.Errorf("%w: admin role required", apperr.ErrForbidden)
	}
	if userID == actor.User.ID {
		return fmt.Errorf("%w: cannot delete your own account", apperr.ErrForbidden)
	}
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if _, err := s.sessions.DeleteUserSessions(ctx, userID); err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Str("by", actor.User.ID).Msg("user deleted")
	return nil
}

func (s *Service) managedUser(ctx context.Context, actor Principal, userID string) (model.User, error) {
	if userID == "" {
		return model.User{}, fmt.Errorf("%w: userId is required", apperr.ErrValidation)
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	if !model.CanManage(actor.User, user) {
		return model.User{}, fmt.Errorf("%w: cannot manage this user", apperr.ErrForbidden)
	}
	return user, nil
}
