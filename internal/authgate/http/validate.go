package http

import (
	"context"
	"errors"
	"net/mail"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/aussiebroadwan/authgate/pkg/authsdk"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// registerInput carries the registration rules. Field errors are keyed by
// the json names.
type registerInput struct {
	Username    string   `json:"username"    validate:"required,max=255,nospace"`
	Email       string   `json:"email"       validate:"required,email,bareaddr"`
	Password    string   `json:"password"    validate:"min=8"`
	FirstName   string   `json:"firstName"   validate:"required,notblank"`
	LastName    string   `json:"lastName"    validate:"required,notblank"`
	DateOfBirth string   `json:"dateOfBirth" validate:"required,datetime=2006-01-02T15:04:05Z07:00,past"`
	Roles       []string `json:"roles"       validate:"dive,notblank"`
}

type nowKey struct{}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(v.RegisterValidation("notblank", validators.NotBlank))
	must(v.RegisterValidation("nospace", func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), unicode.IsSpace) < 0
	}))
	must(v.RegisterValidation("bareaddr", func(fl validator.FieldLevel) bool {
		return bareAddress(fl.Field().String())
	}))
	must(v.RegisterValidationCtx("past", func(ctx context.Context, fl validator.FieldLevel) bool {
		t, err := time.Parse(time.RFC3339, fl.Field().String())
		if err != nil {
			return true // datetime reports it
		}
		now, ok := ctx.Value(nowKey{}).(time.Time)
		if !ok {
			now = time.Now()
		}
		return t.Before(now)
	}))
	return v
}

// validateRegister checks the shape of a registration. The result maps
// JSON field names to a message and is empty when the request is valid.
func validateRegister(req authsdk.RegisterRequest, now time.Time) map[string]string {
	in := registerInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Roles:       req.Roles,
	}

	fields := make(map[string]string)
	err := validate.StructCtx(context.WithValue(context.Background(), nowKey{}, now), in)
	if err == nil {
		return fields
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["request"] = "is invalid"
		return fields
	}
	for _, fe := range verrs {
		// Slice elements come back as "roles[1]"
		name, _, _ := strings.Cut(fe.Field(), "[")
		if _, seen := fields[name]; !seen {
			fields[name] = fieldMessage(name, fe)
		}
	}
	return fields
}

func fieldMessage(name string, fe validator.FieldError) string {
	if name == "roles" {
		return "must not contain empty role names"
	}
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "nospace":
		return "must not contain whitespace"
	case "email", "bareaddr":
		return "must be a valid email address"
	case "datetime":
		return "must be an RFC 3339 timestamp"
	case "past":
		return "must be in the past"
	default:
		return "is invalid"
	}
}

// bareAddress accepts an address only, not "Name <addr>", and wants a dot
// in the domain.
func bareAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@")+1:], ".")
}
