package passcode

import (
	"context"
	"time"
)

// Store persists passcode records. Implementations must make TryConsume a
// single indivisible check-and-increment against the backing storage.
type Store interface {
	CreatePasscode(ctx context.Context, pc Passcode) error
	GetPasscode(ctx context.Context, id string) (Passcode, error)
	GetPasscodeByCode(ctx context.Context, code string) (Passcode, error)

	// TryConsume increments usage_count by one iff the passcode is active and
	// below its finite limit. Returns false without error when the slot was
	// lost (already exhausted, or exhausted by a concurrent consumer).
	TryConsume(ctx context.Context, id string) (bool, error)

	// RotateCredentials replaces the bearer code and expiry under an optimistic
	// version check; resetUsage additionally zeroes the usage counter. Fails
	// with ErrVersionConflict when a concurrent rotation won, ErrRevoked when
	// the passcode is no longer active.
	RotateCredentials(ctx context.Context, id, code string, expiresAt time.Time, resetUsage bool, version int64) (Passcode, error)

	// Revoke sets status=revoked. Idempotent: revoking twice is a no-op.
	Revoke(ctx context.Context, id string) error
}

// AttemptFilter narrows audit log reads. Zero values mean "any".
type AttemptFilter struct {
	SubjectID  string
	PasscodeID string
	DeviceID   string
	Result     Result
	Direction  Direction
	Scope      string
	From       time.Time
	To         time.Time

	Limit     int
	Offset    int
	Ascending bool // default is newest first
}

// AuditLog is the append-only trail of access attempts. Append must never
// fail silently; a failed append fails the enclosing verification.
type AuditLog interface {
	Append(ctx context.Context, rec AccessAttempt) (string, error)
	Query(ctx context.Context, f AttemptFilter) ([]AccessAttempt, error)
	CountByRange(ctx context.Context, f AttemptFilter) (int64, error)

	// HourlyCounts buckets attempts in the filter range by hour of day (UTC).
	HourlyCounts(ctx context.Context, f AttemptFilter) ([24]int64, error)
	// DeviceActivity breaks the filter range down per device.
	DeviceActivity(ctx context.Context, f AttemptFilter) ([]DeviceActivity, error)
	// LastActivity returns the most recent attempt timestamp for a device,
	// any result. ok is false when the device has never been seen.
	LastActivity(ctx context.Context, deviceID string) (t time.Time, ok bool, err error)
}
