package idp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/aussiebroadwan/authgate/pkg/slogx"
)

// AssignRoles grants the named realm roles to the user. Roles the realm
// does not define are skipped with a warning; nothing is sent when none
// remain.
func (c *Client) AssignRoles(ctx context.Context, userID string, roles []string) (err error) {
	defer c.observe("assign_roles", time.Now(), &err)
	log := slogx.FromContext(ctx)

	token, err := c.adminToken()
	if err != nil {
		return err
	}

	found := make([]gocloak.Role, 0, len(roles))
	granted := make([]string, 0, len(roles))
	for _, name := range roles {
		role, err := c.gc.GetRealmRole(ctx, token, c.cfg.Realm, name)
		if statusOf(err) == http.StatusNotFound {
			log.Warn("role not found, skipping", slog.String("role", name))
			continue
		}
		if err != nil {
			return apiError("get role", err)
		}
		found = append(found, *role)
		granted = append(granted, gocloak.PString(role.Name))
	}

	if len(found) == 0 {
		return nil
	}

	if err := c.gc.AddRealmRoleToUser(ctx, token, c.cfg.Realm, userID, found); err != nil {
		return apiError("assign roles", err)
	}

	log.Info("assigned roles",
		slog.String("user_id", userID),
		slog.Any("roles", granted),
	)
	return nil
}

// GetUserRoles lists the user's realm role names.
func (c *Client) GetUserRoles(ctx context.Context, userID string) (roles []string, err error) {
	defer c.observe("get_user_roles", time.Now(), &err)

	token, err := c.adminToken()
	if err != nil {
		return nil, err
	}

	reps, err := c.gc.GetRealmRolesByUserID(ctx, token, c.cfg.Realm, userID)
	if statusOf(err) == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apiError("get user roles", err)
	}

	roles = make([]string, 0, len(reps))
	for _, r := range reps {
		if r != nil {
			roles = append(roles, gocloak.PString(r.Name))
		}
	}
	return roles, nil
}
