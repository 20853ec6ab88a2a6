package passcode

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"passgate.org/internal/audit"
	"passgate.org/internal/authz"
	"passgate.org/internal/directory"
	"passgate.org/internal/ids"
)

// LifecycleConfig carries the tunables of issuance and refresh.
type LifecycleConfig struct {
	// RefreshWindow is how far Refresh pushes expiry into the future.
	RefreshWindow time.Duration
	// StoreTimeout bounds every call into the backing store.
	StoreTimeout time.Duration
}

// Lifecycle issues, refreshes, and revokes passcodes. It never touches the
// usage counter; that field belongs to the Verifier alone.
type Lifecycle struct {
	store Store
	dir   directory.SubjectDirectory
	gate  authz.Gate
	cfg   LifecycleConfig
}

func NewLifecycle(store Store, dir directory.SubjectDirectory, gate authz.Gate, cfg LifecycleConfig) *Lifecycle {
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	return &Lifecycle{store: store, dir: dir, gate: gate, cfg: cfg}
}

// Issue creates a new active passcode for the subject, gated by the caller's
// permission within the subject's merchant.
func (l *Lifecycle) Issue(ctx context.Context, callerID, subjectID string, kind Kind, c Constraints) (Passcode, error) {
	exists, err := l.dir.Exists(ctx, subjectID)
	if err != nil {
		return Passcode{}, fmt.Errorf("directory lookup: %w", err)
	}
	if !exists {
		return Passcode{}, ErrSubjectNotFound
	}
	merchantID, err := l.dir.MerchantID(ctx, subjectID)
	if err != nil {
		return Passcode{}, fmt.Errorf("resolve merchant: %w", err)
	}

	dec, err := l.gate.Check(ctx, callerID, authz.ResourcePasscode, authz.ActionGenerate, merchantID)
	if err != nil {
		return Passcode{}, fmt.Errorf("permission check: %w", err)
	}
	if !dec.Granted {
		return Passcode{}, fmt.Errorf("%w: %s", ErrPermissionDenied, dec.Reason)
	}

	active, err := l.dir.MerchantActive(ctx, subjectID)
	if err != nil {
		return Passcode{}, fmt.Errorf("directory lookup: %w", err)
	}
	if !active {
		return Passcode{}, ErrMerchantInactive
	}

	now := time.Now().UTC()
	expiresAt, limit, err := resolveConstraints(c, now)
	if err != nil {
		return Passcode{}, err
	}

	pc := Passcode{
		ID:           ids.New(),
		SubjectID:    subjectID,
		Kind:         kind,
		Code:         newCode(),
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
		UsageLimit:   limit,
		UsageCount:   0,
		Status:       StatusActive,
		AllowedScope: append([]string(nil), c.AllowedScope...),
		Version:      1,
		UpdatedAt:    now,
	}

	sctx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()
	if err := l.store.CreatePasscode(sctx, pc); err != nil {
		return Passcode{}, fmt.Errorf("create passcode: %w", err)
	}

	_ = audit.LogEvent(ctx, "passcode.issued", map[string]any{
		"passcode_id": pc.ID,
		"subject_id":  subjectID,
		"kind":        string(kind),
		"expires_at":  expiresAt.Format(time.RFC3339),
	})
	return pc, nil
}

// Refresh rotates the bearer code and extends expiry by the configured
// window. Visitor passcodes keep their consumption history; employee
// passcodes re-arm the rolling window, so their counter resets. Refresh
// never conflicts with Verify on the usage counter; concurrent refreshes on
// the same id are serialized by an optimistic version check.
func (l *Lifecycle) Refresh(ctx context.Context, callerID, passcodeID string) (Passcode, error) {
	sctx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	pc, err := l.store.GetPasscode(sctx, passcodeID)
	if err != nil {
		return Passcode{}, err
	}
	if pc.Status == StatusRevoked {
		return Passcode{}, ErrRevoked
	}

	merchantID, err := l.dir.MerchantID(ctx, pc.SubjectID)
	if err != nil {
		return Passcode{}, fmt.Errorf("resolve merchant: %w", err)
	}
	dec, err := l.gate.Check(ctx, callerID, authz.ResourcePasscode, authz.ActionRefresh, merchantID)
	if err != nil {
		return Passcode{}, fmt.Errorf("permission check: %w", err)
	}
	if !dec.Granted {
		return Passcode{}, fmt.Errorf("%w: %s", ErrPermissionDenied, dec.Reason)
	}

	resetUsage := pc.Kind == KindEmployee
	expiresAt := time.Now().UTC().Add(l.cfg.RefreshWindow)

	updated, err := l.store.RotateCredentials(sctx, pc.ID, newCode(), expiresAt, resetUsage, pc.Version)
	if err != nil {
		return Passcode{}, err
	}

	_ = audit.LogEvent(ctx, "passcode.refreshed", map[string]any{
		"passcode_id": pc.ID,
		"kind":        string(pc.Kind),
		"expires_at":  expiresAt.Format(time.RFC3339),
		"usage_reset": resetUsage,
	})
	return updated, nil
}

// Revoke transitions the passcode to revoked. The transition is one-way and
// idempotent: revoking an already-revoked passcode is a no-op.
func (l *Lifecycle) Revoke(ctx context.Context, callerID, passcodeID, reason string) error {
	sctx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	pc, err := l.store.GetPasscode(sctx, passcodeID)
	if err != nil {
		return err
	}

	merchantID, err := l.dir.MerchantID(ctx, pc.SubjectID)
	if err != nil {
		return fmt.Errorf("resolve merchant: %w", err)
	}
	dec, err := l.gate.Check(ctx, callerID, authz.ResourcePasscode, authz.ActionRevoke, merchantID)
	if err != nil {
		return fmt.Errorf("permission check: %w", err)
	}
	if !dec.Granted {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, dec.Reason)
	}

	if err := l.store.Revoke(sctx, pc.ID); err != nil {
		return err
	}

	_ = audit.LogEvent(ctx, "passcode.revoked", map[string]any{
		"passcode_id": pc.ID,
		"reason":      reason,
	})
	return nil
}

func resolveConstraints(c Constraints, now time.Time) (time.Time, int64, error) {
	expiresAt := c.ExpiresAt
	if expiresAt.IsZero() {
		if c.TTL <= 0 {
			return time.Time{}, 0, fmt.Errorf("%w: expiry is required", ErrInvalidConstraints)
		}
		expiresAt = now.Add(c.TTL)
	}
	if !expiresAt.After(now) {
		return time.Time{}, 0, fmt.Errorf("%w: expiry is in the past", ErrInvalidConstraints)
	}

	limit := c.UsageLimit
	if c.Unlimited {
		limit = UnlimitedUsage
	} else if limit < 0 {
		return time.Time{}, 0, fmt.Errorf("%w: negative usage limit", ErrInvalidConstraints)
	}
	return expiresAt.UTC(), limit, nil
}

// newCode generates an opaque bearer token. Uniqueness is backed by the
// store's constraint on the code column.
func newCode() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
