package passcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"passgate.org/internal/ids"
	"passgate.org/internal/obs"
)

// AttemptPublisher receives every audited attempt for live fan-out.
// Implementations must not block.
type AttemptPublisher interface {
	Publish(rec AccessAttempt)
}

// VerifierConfig carries the verifier tunables.
type VerifierConfig struct {
	// StoreTimeout bounds each round trip to the backing store.
	StoreTimeout time.Duration
}

// Verifier is the hot path: it validates a scan against a passcode,
// atomically consumes one usage unit, and appends exactly one audit record
// per call regardless of the outcome.
type Verifier struct {
	store   Store
	auditLg AuditLog
	pub     AttemptPublisher // optional
	timeout time.Duration
	now     func() time.Time
}

func NewVerifier(store Store, auditLog AuditLog, pub AttemptPublisher, cfg VerifierConfig) *Verifier {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	return &Verifier{
		store:   store,
		auditLg: auditLog,
		pub:     pub,
		timeout: cfg.StoreTimeout,
		now:     time.Now,
	}
}

// Verify evaluates one swipe. Business failures (NOT_FOUND, REVOKED,
// EXPIRED, EXHAUSTED, SCOPE_DENIED) come back as the outcome's FailReason
// with a nil error. A non-nil error means infrastructure trouble: the store
// was unreachable (ErrStoreUnavailable) or the mandatory audit append failed
// (ErrAuditWrite). A verification never reports success without a durable
// audit row.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (VerificationOutcome, error) {
	start := v.now()

	outcome, pc, err := v.evaluate(ctx, req)
	if err != nil {
		return VerificationOutcome{}, err
	}

	rec := AccessAttempt{
		ID:         ids.New(),
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		Direction:  req.Direction,
		Result:     outcome.Result,
		FailReason: outcome.FailReason,
		Scope:      req.Scope,
		Timestamp:  v.now().UTC(),
	}
	if pc != nil {
		rec.SubjectID = pc.SubjectID
		rec.PasscodeID = pc.ID
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
	defer cancel()
	if _, err := v.auditLg.Append(actx, rec); err != nil {
		obs.IncAuditAppendFailure()
		return VerificationOutcome{}, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	if v.pub != nil {
		v.pub.Publish(rec)
	}
	obs.ObserveVerify(string(outcome.Result), string(outcome.FailReason), v.now().Sub(start))
	return outcome, nil
}

// evaluate walks the rule chain. The atomic consume may lose a race against
// a concurrent verifier that took the last slot; in that case the rules are
// re-evaluated against a fresh record exactly once, which bounds retries
// while keeping the exactly-N-successes property.
func (v *Verifier) evaluate(ctx context.Context, req VerifyRequest) (VerificationOutcome, *Passcode, error) {
	sctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	pc, err := v.store.GetPasscodeByCode(sctx, req.Code)
	if errors.Is(err, ErrNotFound) {
		return VerificationOutcome{Result: ResultFailed, FailReason: ReasonNotFound}, nil, nil
	}
	if err != nil {
		return VerificationOutcome{}, nil, fmt.Errorf("%w: lookup: %v", ErrStoreUnavailable, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			pc, err = v.store.GetPasscode(sctx, pc.ID)
			if err != nil {
				return VerificationOutcome{}, nil, fmt.Errorf("%w: reload: %v", ErrStoreUnavailable, err)
			}
		}

		if outcome, ok := v.check(pc, req.Scope); !ok {
			return outcome, &pc, nil
		}

		consumed, err := v.store.TryConsume(sctx, pc.ID)
		if err != nil {
			return VerificationOutcome{}, nil, fmt.Errorf("%w: consume: %v", ErrStoreUnavailable, err)
		}
		if consumed {
			snapshot := pc
			snapshot.UsageCount++
			return VerificationOutcome{Result: ResultSuccess, Passcode: &snapshot}, &snapshot, nil
		}
	}

	// Two lost consume attempts: the last slot went to concurrent verifiers.
	return VerificationOutcome{Result: ResultFailed, FailReason: ReasonExhausted}, &pc, nil
}

// check applies rules 2..5 in their fixed precedence order. ok is true when
// the passcode is eligible for consumption.
func (v *Verifier) check(pc Passcode, scope string) (VerificationOutcome, bool) {
	switch {
	case pc.Status == StatusRevoked:
		return outcomeFailed(ReasonRevoked, pc), false
	case pc.ExpiredAt(v.now()):
		return outcomeFailed(ReasonExpired, pc), false
	case pc.Exhausted():
		return outcomeFailed(ReasonExhausted, pc), false
	case !pc.AllowsScope(scope):
		return outcomeFailed(ReasonScopeDenied, pc), false
	}
	return VerificationOutcome{}, true
}

func outcomeFailed(reason FailReason, pc Passcode) VerificationOutcome {
	snapshot := pc
	return VerificationOutcome{Result: ResultFailed, FailReason: reason, Passcode: &snapshot}
}
