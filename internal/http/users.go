package http

import (
	"context"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/auth"
	"semaphore/devicehub/internal/model"
)

func (s *Server) login(ctx context.Context, c *call) (response, error) {
	result, err := s.svc.Auth.Login(ctx, c.params.str("username", "email", "login"), c.params.raw("password"))
	if err != nil {
		return response{}, err
	}
	return okMessage("login successful", result), nil
}

func (s *Server) logout(ctx context.Context, c *call) (response, error) {
	if err := s.svc.Auth.Logout(ctx, c.token); err != nil {
		return response{}, err
	}
	return okMessage("logged out", nil), nil
}

type sessionView struct {
	Valid bool       `json:"valid"`
	User  model.User `json:"user"`
	Role  model.Role `json:"role"`
}

func (s *Server) validateSession(ctx context.Context, c *call) (response, error) {
	if c.token == "" {
		return response{}, apperr.ErrUnauthorized
	}
	principal, err := s.svc.Auth.ValidateSession(ctx, c.token)
	if err != nil {
		return response{}, err
	}
	return ok(sessionView{Valid: true, User: principal.User, Role: principal.Role}), nil
}

func (s *Server) changePassword(ctx context.Context, c *call) (response, error) {
	err := s.svc.Auth.ChangePassword(ctx, c.actor(), c.params.raw("currentPassword"), c.params.raw("newPassword"))
	if err != nil {
		return response{}, err
	}
	return okMessage("password changed", nil), nil
}

func (s *Server) createUser(ctx context.Context, c *call) (response, error) {
	user, err := s.svc.Auth.CreateUser(ctx, c.actor(), auth.NewUser{
		Username: c.params.str("username"),
		Email:    c.params.str("email"),
		Password: c.params.raw("password"),
		Role:     c.params.str("role"),
	})
	if err != nil {
		return response{}, err
	}
	return okMessage("user created", user), nil
}

func (s *Server) getAllUsers(ctx context.Context, c *call) (response, error) {
	users, err := s.svc.Auth.ListUsers(ctx, c.actor())
	if err != nil {
		return response{}, err
	}
	return ok(users), nil
}

func (s *Server) resetUserPassword(ctx context.Context, c *call) (response, error) {
	password := c.params.raw("newPassword")
	if password == "" {
		password = c.params.raw("password")
	}
	if err := s.svc.Auth.ResetUserPassword(ctx, c.actor(), c.params.str("userId"), password); err != nil {
		return response{}, err
	}
	return okMessage("password reset", nil), nil
}

func (s *Server) deactivateUser(ctx context.Context, c *call) (response, error) {
	if err := s.svc.Auth.DeactivateUser(ctx, c.actor(), c.params.str("userId")); err != nil {
		return response{}, err
	}
	return okMessage("user deactivated", nil), nil
}

func (s *Server) updateUserRole(ctx context.Context, c *call) (response, error) {
	user, err := s.svc.Auth.UpdateUserRole(ctx, c.actor(), c.params.str("userId"), c.params.str("role"))
	if err != nil {
		return response{}, err
	}
	return okMessage("role updated", user), nil
}

func (s *Server) deleteUser(ctx context.Context, c *call) (response, error) {
	if err := s.svc.Auth.DeleteUser(ctx, c.actor(), c.params.str("userId")); err != nil {
		return response{}, err
	}
	return okMessage("user deleted", nil), nil
}
