package service

import "errors"

var (
	ErrUsernameTaken       = errors.New("username already taken")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrAlreadyVerified     = errors.New("email already verified")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrUnauthenticated     = errors.New("no authenticated principal")
)
