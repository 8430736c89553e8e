package domain

import "time"

// AttrDateOfBirth is the provider user attribute holding the date of birth.
const AttrDateOfBirth = "dateOfBirth"

// User is an account as stored by the identity provider. Roles are looked
// up separately.
type User struct {
	ID            string // provider assigned, opaque
	Username      string
	Email         string
	FirstName     string
	LastName      string
	DateOfBirth   string // verbatim attribute value, usually RFC 3339
	Enabled       bool
	EmailVerified bool
	Attributes    map[string][]string
	CreatedAt     time.Time
}

// NewUser is what registration hands to the provider.
type NewUser struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	DateOfBirth string // validated RFC 3339, stored as submitted
	Roles       []string
}
