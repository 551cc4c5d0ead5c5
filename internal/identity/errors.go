package identity

import "errors"

var (
	// ErrNotFound is returned when no active identity matches a lookup.
	ErrNotFound = errors.New("identity not found")
	// ErrDuplicateIdentity is returned when an email, phone or biometric
	// template already belongs to another active identity.
	ErrDuplicateIdentity = errors.New("identity already exists")
	// ErrInvalidRole is returned for roles outside patient/doctor/admin.
	ErrInvalidRole = errors.New("invalid role")
	// ErrEmptyTemplate is returned when enabling biometrics without a template.
	ErrEmptyTemplate = errors.New("biometric template is required")
)
