package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aussiebroadwan/authgate/internal/authgate/domain"
	"github.com/aussiebroadwan/authgate/internal/authgate/idp"
	"github.com/aussiebroadwan/authgate/pkg/authsdk"
	"github.com/aussiebroadwan/authgate/pkg/jwtx"
	"github.com/aussiebroadwan/authgate/pkg/slogx"
)

// DefaultRole is granted when a registration names no roles.
const DefaultRole = "USER"

// Provider is the part of idp.Client the service uses.
type Provider interface {
	CreateUser(ctx context.Context, u domain.NewUser) (string, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
	GetAccessToken(ctx context.Context, username, password string) (string, error)
	ResendVerificationEmail(ctx context.Context, username string) error
}

var _ Provider = (*idp.Client)(nil)

type UserService struct {
	Provider Provider

	// DefaultRole overrides the package DefaultRole when set.
	DefaultRole string
}

// ExistsByUsername reports whether the provider knows username.
func (s *UserService) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := s.Provider.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, idp.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
}

// Register creates the account and returns it with the roles that were
// requested. The request is assumed to be shape-validated.
func (s *UserService) Register(ctx context.Context, req authsdk.RegisterRequest) (authsdk.UserResponse, error) {
	log := slogx.FromContext(ctx)

	// 1. Best effort username check; the provider has the final word.
	exists, err := s.ExistsByUsername(ctx, req.Username)
	if err != nil {
		log.Error("username check failed", slog.String("username", req.Username), slog.Any("error", err))
		return authsdk.UserResponse{}, err
	}
	if exists {
		log.Info("registration rejected, username taken", slog.String("username", req.Username))
		return authsdk.UserResponse{}, ErrUsernameTaken
	}

	// 2. Default role.
	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{s.defaultRole()}
	}

	// Stored and echoed exactly as submitted; parsing only checks it.
	if _, err := time.Parse(time.RFC3339, req.DateOfBirth); err != nil {
		return authsdk.UserResponse{}, fmt.Errorf("date of birth: %w", err)
	}

	// 3. Create in the provider.
	id, err := s.Provider.CreateUser(ctx, domain.NewUser{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Roles:       roles,
	})
	if err != nil {
		if errors.Is(err, idp.ErrAlreadyExists) {
			return authsdk.UserResponse{}, ErrUsernameTaken
		}
		log.Error("failed to create user", slog.String("username", req.Username), slog.Any("error", err))
		return authsdk.UserResponse{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	log.Info("user registered", slog.String("username", req.Username), slog.String("user_id", id))

	return authsdk.UserResponse{
		ID:          id,
		Username:    req.Username,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Roles:       sortedRoles(roles),
	}, nil
}

// Login exchanges credentials for a provider access token. Every failure is
// ErrInvalidCredentials; the cause is only logged.
func (s *UserService) Login(ctx context.Context, req authsdk.LoginRequest) (authsdk.AuthResponse, error) {
	log := slogx.FromContext(ctx)

	token, err := s.Provider.GetAccessToken(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, idp.ErrClientConfiguration) {
			log.Error("login failed on client configuration", slog.String("username", req.Username))
		} else {
			log.Warn("login failed", slog.String("username", req.Username), slog.Any("error", err))
		}
		return authsdk.AuthResponse{}, ErrInvalidCredentials
	}

	user, err := s.Provider.GetUserByUsername(ctx, req.Username)
	if err != nil {
		log.Warn("login: user lookup failed", slog.String("username", req.Username), slog.Any("error", err))
		return authsdk.AuthResponse{}, ErrInvalidCredentials
	}

	roles, err := s.Provider.GetUserRoles(ctx, user.ID)
	if err != nil {
		log.Warn("login: role lookup failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return authsdk.AuthResponse{}, ErrInvalidCredentials
	}

	log.Info("user logged in", slog.String("username", user.Username), slog.String("user_id", user.ID))

	return authsdk.AuthResponse{
		Token:    token,
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Roles:    sortedRoles(roles),
	}, nil
}

// GetCurrentUser resolves the caller from the verified token claims in ctx.
func (s *UserService) GetCurrentUser(ctx context.Context) (authsdk.UserResponse, error) {
	log := slogx.FromContext(ctx)

	claims, ok := jwtx.FromContext(ctx)
	if !ok {
		return authsdk.UserResponse{}, ErrUnauthenticated
	}
	username := claims.Principal()
	if username == "" {
		return authsdk.UserResponse{}, ErrUnauthenticated
	}

	user, err := s.Provider.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, idp.ErrNotFound) {
			return authsdk.UserResponse{}, ErrUserNotFound
		}
		return authsdk.UserResponse{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	roles, err := s.Provider.GetUserRoles(ctx, user.ID)
	if err != nil {
		if errors.Is(err, idp.ErrNotFound) {
			return authsdk.UserResponse{}, ErrUserNotFound
		}
		return authsdk.UserResponse{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	return authsdk.UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		DateOfBirth: normalizeDateOfBirth(log, user),
		Roles:       sortedRoles(roles),
	}, nil
}

// ResendVerificationEmail asks the provider to resend the verification
// mail for username.
func (s *UserService) ResendVerificationEmail(ctx context.Context, username string) error {
	err := s.Provider.ResendVerificationEmail(ctx, username)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, idp.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, idp.ErrAlreadyVerified):
		return ErrAlreadyVerified
	default:
		slogx.FromContext(ctx).Error("resend verification email failed",
			slog.String("username", username),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
}

func (s *UserService) defaultRole() string {
	if s.DefaultRole != "" {
		return s.DefaultRole
	}
	return DefaultRole
}

// normalizeDateOfBirth returns the stored attribute when it is RFC 3339.
// Missing or unparsable values become "".
func normalizeDateOfBirth(log *slog.Logger, u domain.User) string {
	if u.DateOfBirth == "" {
		log.Warn("user has no date of birth", slog.String("user_id", u.ID))
		return ""
	}
	if _, err := time.Parse(time.RFC3339, u.DateOfBirth); err != nil {
		log.Warn("unparsable date of birth",
			slog.String("user_id", u.ID),
			slog.String("value", u.DateOfBirth),
		)
		return ""
	}
	return u.DateOfBirth
}

func sortedRoles(roles []string) []string {
	out := append([]string{}, roles...)
	slices.Sort(out)
	return slices.Compact(out)
}
