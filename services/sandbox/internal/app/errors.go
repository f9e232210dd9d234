package app

import "errors"

var (
	// ErrInvalidCredentials is shown to end users; it must not reveal whether the email exists.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")

	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrNameRequired       = errors.New("name required")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrBookNotFound = errors.New("book not found")
	// ErrNotReady is returned for cover or PDF requests before generation produced them.
	ErrNotReady = errors.New("not ready")
)
