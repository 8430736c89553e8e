package idp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/aussiebroadwan/authgate/internal/authgate/domain"
	"github.com/aussiebroadwan/authgate/pkg/slogx"
	"github.com/google/uuid"
)

// CreateUser registers u with the provider, sets its password and grants
// its roles. It returns the provider's user id.
//
// The steps are not transactional. A user created before a later step
// fails stays in the provider.
func (c *Client) CreateUser(ctx context.Context, u domain.NewUser) (id string, err error) {
	defer c.observe("create_user", time.Now(), &err)
	log := slogx.FromContext(ctx)

	token, err := c.adminToken()
	if err != nil {
		return "", err
	}

	// 1. Exact username search.
	existing, err := c.searchUsers(ctx, token, u.Username)
	if err != nil {
		return "", err
	}
	if _, ok := exactMatch(existing, u.Username); ok {
		log.Warn("user already exists in identity provider", slog.String("username", u.Username))
		return "", ErrAlreadyExists
	}

	// 2. Create the user. The date of birth is stored as submitted.
	rep := gocloak.User{
		Username:      gocloak.StringP(u.Username),
		Email:         gocloak.StringP(u.Email),
		FirstName:     gocloak.StringP(u.FirstName),
		LastName:      gocloak.StringP(u.LastName),
		Enabled:       gocloak.BoolP(true),
		EmailVerified: gocloak.BoolP(!c.cfg.RequireEmailVerification),
		Attributes: &map[string][]string{
			domain.AttrDateOfBirth: {u.DateOfBirth},
		},
	}
	if c.cfg.RequireEmailVerification {
		rep.RequiredActions = &[]string{actionVerifyEmail}
	}

	id, err = c.gc.CreateUser(ctx, token, c.cfg.Realm, rep)
	if statusOf(err) == http.StatusConflict {
		log.Warn("identity provider reported username conflict", slog.String("username", u.Username))
		return "", ErrAlreadyExists
	}
	if err != nil {
		return "", apiError("create user", err)
	}

	// 3. The id is the last segment of the Location header.
	if _, err := uuid.Parse(id); err != nil {
		return "", providerErr("create user", fmt.Errorf("location does not end in a user id: %q", id))
	}
	log.Info("created user in identity provider",
		slog.String("username", u.Username),
		slog.String("user_id", id),
	)

	// 4. Set a permanent password.
	if err := c.gc.SetPassword(ctx, token, id, c.cfg.Realm, u.Password, false); err != nil {
		err = apiError("reset password", err)
		log.Error("failed to set password for new user",
			slog.String("user_id", id),
			slog.Any("error", err),
		)
		return "", err
	}

	// 5. Grant roles.
	if err := c.AssignRoles(ctx, id, u.Roles); err != nil {
		log.Error("failed to assign roles to new user",
			slog.String("user_id", id),
			slog.Any("error", err),
		)
		return "", err
	}

	return id, nil
}

// GetUserByUsername returns the user whose username matches exactly, or
// ErrNotFound.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (user domain.User, err error) {
	defer c.observe("get_user", time.Now(), &err)

	token, err := c.adminToken()
	if err != nil {
		return domain.User{}, err
	}
	users, err := c.searchUsers(ctx, token, username)
	if err != nil {
		return domain.User{}, err
	}
	rep, ok := exactMatch(users, username)
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return toDomain(rep), nil
}

// searchUsers runs the provider's exact username search. The provider
// still matches case-insensitively, see exactMatch.
func (c *Client) searchUsers(ctx context.Context, token, username string) ([]*gocloak.User, error) {
	users, err := c.gc.GetUsers(ctx, token, c.cfg.Realm, gocloak.GetUsersParams{
		Username: gocloak.StringP(username),
		Exact:    gocloak.BoolP(true),
	})
	if err != nil {
		return nil, apiError("search users", err)
	}
	return users, nil
}

// exactMatch picks the user named username. The provider stores usernames
// lower-cased, so the comparison ignores case.
func exactMatch(users []*gocloak.User, username string) (*gocloak.User, bool) {
	for _, u := range users {
		if u != nil && strings.EqualFold(gocloak.PString(u.Username), username) {
			return u, true
		}
	}
	return nil, false
}
