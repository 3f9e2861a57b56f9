package astroglossary

import "errors"

var (
	ErrPostExists      = errors.New("post with this ID already exists")
	ErrPostNotFound    = errors.New("post not found")
	ErrMissingField    = errors.New("all fields are required")
	ErrInvalidType     = errors.New("invalid type")
	ErrInvalidTitle    = errors.New("title must start with a letter")
	ErrInvalidDate     = errors.New("invalid date")
	ErrSourceImmutable = errors.New("source cannot be changed")
	ErrDateImmutable   = errors.New("date cannot be changed")
	ErrMissingID       = errors.New("post ID is required")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
)

// IsValidationError reports whether err is one of the errors produced by post validation.
// Validation errors are shown to the user and never retried.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrMissingField),
		errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrInvalidTitle),
		errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrSourceImmutable),
		errors.Is(err, ErrDateImmutable),
		errors.Is(err, ErrMissingID):
		return true
	}
	return false
}
