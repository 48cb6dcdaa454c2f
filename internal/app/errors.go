package app

import "errors"

var (
	// ErrInvalidInput marks request validation failures.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmailTaken indicates a registration with an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials covers both unknown email and wrong
	// password, deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound indicates an unknown user id.
	ErrUserNotFound = errors.New("user not found")
)
