package idp

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyExists       = errors.New("idp: user already exists")
	ErrNotFound            = errors.New("idp: not found")
	ErrInvalidCredentials  = errors.New("idp: invalid credentials")
	ErrAlreadyVerified     = errors.New("idp: email already verified")
	ErrClientConfiguration = errors.New("idp: client configuration error")
	ErrProvider            = errors.New("idp: provider error")
)

// StatusError is an unexpected answer from the provider. It matches
// ErrProvider with errors.Is.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("idp: %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("idp: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrProvider }

// providerErr wraps a failure without a provider answer so it matches
// ErrProvider while keeping the cause.
func providerErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}
