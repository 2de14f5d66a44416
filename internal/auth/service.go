// Package auth authenticates administrative users, issues session tokens and
// applies the User < Manager < Admin hierarchy to account management.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/clock"
	"semaphore/devicehub/internal/crypto"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// Principal is the caller resolved from a valid session.
type Principal struct {
	User      model.User
	Role      model.Role
	SessionID string
}

type LoginResult struct {
	User         model.User `json:"user"`
	SessionToken string     `json:"sessionToken"`
	Role         model.Role `json:"role"`
}

type Options struct {
	Secret string
	Issuer string
	Clock  clock.Clock
	Logger zerolog.Logger
}

type Service struct {
	users    store.Users
	sessions store.Sessions
	secret   string
	issuer   string
	clock    clock.Clock
	log      zerolog.Logger
}

func NewService(users store.Users, sessions store.Sessions, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Service{
		users:    users,
		sessions: sessions,
		secret:   opts.Secret,
		issuer:   opts.Issuer,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
}

// Login accepts a username or an email. Every earlier session of the user is
// dropped before the new one is created.
func (s *Service) Login(ctx context.Context, login, password string) (LoginResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: username and password are required", apperr.ErrValidation)
	}

	user, err := s.users.GetUserByLogin(ctx, login)
	if errors.Is(err, apperr.ErrNotFound) {
		s.log.Warn().Str("login", login).Msg("login for unknown user")
		return LoginResult{}, invalidCredentials()
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !user.Active {
		s.log.Warn().Str("user_id", user.ID).Msg("login for inactive user")
		return LoginResult{}, invalidCredentials()
	}
	if err := crypto.CheckPassword(user.PasswordHash, password); err != nil {
		if !errors.Is(err, crypto.ErrPasswordMismatch) {
			s.log.Error().Err(err).Str("user_id", user.ID).Msg("stored password hash unreadable")
		}
		s.log.Warn().Str("user_id", user.ID).Msg("invalid password")
		return LoginResult{}, invalidCredentials()
	}

	if _, err := s.sessions.DeleteUserSessions(ctx, user.ID); err != nil {
		return LoginResult{}, err
	}
	now := s.clock.Now()
	session := model.Session{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Role:         user.Role,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return LoginResult{}, err
	}

	user.LastLogin = &now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return LoginResult{}, err
	}

	token, err := NewSessionToken(s.secret, s.issuer, now, Claims{UserID: user.ID, SessionID: session.ID})
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign session token: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("login successful")
	return LoginResult{User: user, SessionToken: token, Role: user.Role}, nil
}

// ValidateSession resolves a token to its caller. A session whose user is
// gone or inactive is deleted on the spot.
func (s *Service) ValidateSession(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, fmt.Errorf("%w: missing session token", apperr.ErrUnauthorized)
	}
	claims, err := ParseToken(s.secret, s.issuer, token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: invalid session token", apperr.ErrUnauthorized)
	}

	session, err := s.sessions.GetSession(ctx, claims.SessionID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Principal{}, fmt.Errorf("%w: session expired", apperr.ErrUnauthorized)
	}
	if err != nil {
		return Principal{}, err
	}
	if session.UserID != claims.UserID {
		return Principal{}, fmt.Errorf("%w: invalid session token", apperr.ErrUnauthorized)
	}

	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return Principal{}, err
	}
	if err != nil || !user.Active {
		if err := s.sessions.DeleteSession(ctx, session.ID); err != nil {
			s.log.Error().Err(err).Str("session_id", session.ID).Msg("failed to drop orphaned session")
		}
		return Principal{}, fmt.Errorf("%w: account unavailable", apperr.ErrUnauthorized)
	}

	if err := s.sessions.TouchSession(ctx, session.ID, s.clock.Now()); err != nil {
		s.log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to refresh session activity")
	}
	return Principal{User: user, Role: user.Role, SessionID: session.ID}, nil
}

// Logout is idempotent: unknown or malformed tokens succeed silently.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := ParseToken(s.secret, s.issuer, token)
	if err != nil {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, claims.SessionID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", claims.UserID).Msg("logout")
	return nil
}

func invalidCredentials() error {
	return fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be less than %d characters", apperr.ErrValidation, maxPasswordLength)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: invalid email format", apperr.ErrValidation)
	}
	return nil
}
