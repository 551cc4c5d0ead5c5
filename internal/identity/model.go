package identity

import (
	"time"

	"github.com/visioncare/telehealth/internal/lockout"
)

// Role is the authorization role carried by an identity and its tokens.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	default:
		return false
	}
}

// Identity is the durable authentication record of a portal user.
type Identity struct {
	ID           string
	Email        string
	Phone        string
	PasswordHash []byte
	Role         Role

	FailedLoginCount int
	LockUntil        *time.Time

	BiometricTemplate []byte
	BiometricDigest   string
	BiometricEnabled  bool
	DeviceFingerprint string

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LoginState returns the lockout view of the record.
func (i Identity) LoginState() lockout.State {
	return lockout.State{FailedCount: i.FailedLoginCount, LockUntil: i.LockUntil}
}

// NewIdentity carries the fields needed to create an identity.
type NewIdentity struct {
	Email    string
	Phone    string
	Password string
	Role     Role
}

// Biometric is an enrollment update.
type Biometric struct {
	Template          []byte
	Digest            string
	DeviceFingerprint string
}
