package idp

import (
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/aussiebroadwan/authgate/internal/authgate/domain"
)

const actionVerifyEmail = "VERIFY_EMAIL"

func toDomain(u *gocloak.User) domain.User {
	user := domain.User{
		ID:            gocloak.PString(u.ID),
		Username:      gocloak.PString(u.Username),
		Email:         gocloak.PString(u.Email),
		FirstName:     gocloak.PString(u.FirstName),
		LastName:      gocloak.PString(u.LastName),
		Enabled:       gocloak.PBool(u.Enabled),
		EmailVerified: gocloak.PBool(u.EmailVerified),
	}
	if u.Attributes != nil {
		user.Attributes = *u.Attributes
		if vals := user.Attributes[domain.AttrDateOfBirth]; len(vals) > 0 {
			user.DateOfBirth = vals[0]
		}
	}
	if u.CreatedTimestamp != nil && *u.CreatedTimestamp > 0 {
		user.CreatedAt = time.UnixMilli(*u.CreatedTimestamp).UTC()
	}
	return user
}
