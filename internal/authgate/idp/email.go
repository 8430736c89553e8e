package idp

import (
	"context"
	"log/slog"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/aussiebroadwan/authgate/pkg/slogx"
)

// ResendVerificationEmail asks the provider to mail the user a
// VERIFY_EMAIL action link. Verified users get ErrAlreadyVerified and no
// mail is requested.
func (c *Client) ResendVerificationEmail(ctx context.Context, username string) (err error) {
	defer c.observe("resend_verification", time.Now(), &err)
	log := slogx.FromContext(ctx)

	user, err := c.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}

	token, err := c.adminToken()
	if err != nil {
		return err
	}
	err = c.gc.ExecuteActionsEmail(ctx, token, c.cfg.Realm, gocloak.ExecuteActionsEmail{
		UserID:  gocloak.StringP(user.ID),
		Actions: &[]string{actionVerifyEmail},
	})
	if err != nil {
		return apiError("execute actions email", err)
	}

	log.Info("verification email requested",
		slog.String("username", username),
		slog.String("user_id", user.ID),
	)
	return nil
}
