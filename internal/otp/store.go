package otp

import (
	"context"
	"time"
)

// Challenge is the pending passcode of one identity.
type Challenge struct {
	CodeHash  string
	ExpiresAt time.Time
}

// Result is the outcome of consuming a challenge.
type Result int

const (
	// ResultMissing means there is no live challenge: none was issued, it
	// expired, it was already used or it was burned by too many mismatches.
	ResultMissing Result = iota
	ResultMismatch
	ResultVerified
)

func (r Result) String() string {
	switch r {
	case ResultVerified:
		return "verified"
	case ResultMismatch:
		return "mismatch"
	default:
		return "expired"
	}
}

// Store keeps at most one challenge per identity, outside the identity record.
type Store interface {
	// Put replaces any existing challenge for identityID. ttl bounds how long
	// the store keeps the entry around.
	Put(ctx context.Context, identityID string, ch Challenge, ttl time.Duration) error
	// Consume checks codeHash against the live challenge at now. A match
	// deletes the challenge. A mismatch counts against maxAttempts and the
	// challenge is deleted once that many mismatches have been seen.
	Consume(ctx context.Context, identityID, codeHash string, now time.Time, maxAttempts int) (Result, error)
}
