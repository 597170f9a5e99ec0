package auth

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
)

// Refinements of the base kinds. errors.Is against the base kind still holds.
var (
	ErrNoRole                  = fmt.Errorf("%w: no role assigned", ErrForbidden)
	ErrInvalidRequirement      = fmt.Errorf("%w: invalid permission requirement", ErrForbidden)
	ErrInsufficientPermissions = fmt.Errorf("%w: insufficient permissions", ErrForbidden)

	ErrResetCodeInvalid = fmt.Errorf("%w: invalid reset code", ErrInvalidInput)
	ErrResetCodeExpired = fmt.Errorf("%w: reset code has expired, please request a new one", ErrInvalidInput)
	ErrResetCooldown    = fmt.Errorf("%w: a reset code was already sent, please wait before requesting a new one", ErrInvalidInput)
)
