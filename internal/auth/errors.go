package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid login name or secret")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrSecretTooShort     = errors.New("secret must be at least 6 characters")
)
