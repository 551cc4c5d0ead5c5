// Package profile stores the demographic profile linked 1:1 to an identity.
// Authentication only reads the display name from it.
package profile

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("profile not found")
	ErrExists   = errors.New("profile already exists")
)

// EmergencyContact is stored as a JSON document.
type EmergencyContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship,omitempty"`
}

// Profile holds the demographics of a portal user.
type Profile struct {
	IdentityID       string
	FullName         string
	DateOfBirth      *time.Time
	Gender           string
	EmergencyContact *EmergencyContact
	CreatedAt        time.Time
}

// Store persists profiles.
type Store interface {
	Create(ctx context.Context, p Profile) error
	Get(ctx context.Context, identityID string) (Profile, error)
}

// DisplayNamer resolves the name shown next to an identity.
type DisplayNamer interface {
	DisplayName(ctx context.Context, identityID string) (string, error)
}
