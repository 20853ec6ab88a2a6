package passcode

import (
	"time"
)

// Kind distinguishes visitor credentials from long-lived employee ones.
type Kind string

const (
	KindVisitor  Kind = "visitor"
	KindEmployee Kind = "employee"
)

// Status is the persisted lifecycle state of a passcode. Expiry and
// exhaustion are evaluated at verification time and never stored.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Direction of a swipe at an access point.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Result of a verification attempt.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
)

// FailReason explains a failed verification. Empty on success.
type FailReason string

const (
	ReasonNotFound    FailReason = "NOT_FOUND"
	ReasonRevoked     FailReason = "REVOKED"
	ReasonExpired     FailReason = "EXPIRED"
	ReasonExhausted   FailReason = "EXHAUSTED"
	ReasonScopeDenied FailReason = "SCOPE_DENIED"
)

// UnlimitedUsage marks a passcode without a finite usage limit.
const UnlimitedUsage int64 = -1

// Passcode is a time- and usage-bounded access credential tied to one subject.
type Passcode struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	Kind         Kind      `json:"kind"`
	Code         string    `json:"code"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	UsageLimit   int64     `json:"usage_limit"` // UnlimitedUsage when unbounded
	UsageCount   int64     `json:"usage_count"`
	Status       Status    `json:"status"`
	AllowedScope []string  `json:"allowed_scope"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Unlimited reports whether the passcode has no finite usage limit.
func (p Passcode) Unlimited() bool { return p.UsageLimit < 0 }

// ExpiredAt reports whether the passcode is past its expiry at the given instant.
func (p Passcode) ExpiredAt(now time.Time) bool { return now.After(p.ExpiresAt) }

// Exhausted reports whether a finite usage limit has been reached.
func (p Passcode) Exhausted() bool {
	return !p.Unlimited() && p.UsageCount >= p.UsageLimit
}

// AllowsScope reports whether the given location is covered by the passcode.
func (p Passcode) AllowsScope(scope string) bool {
	for _, s := range p.AllowedScope {
		if s == scope {
			return true
		}
	}
	return false
}

// Constraints supply the bounds for a newly issued passcode. Either ExpiresAt
// or TTL must be set; TTL is resolved against issue time when ExpiresAt is zero.
type Constraints struct {
	UsageLimit   int64
	Unlimited    bool
	ExpiresAt    time.Time
	TTL          time.Duration
	AllowedScope []string
}

// AccessAttempt is the immutable audit record of one verification call.
// PasscodeID and SubjectID are empty when the code did not resolve.
type AccessAttempt struct {
	ID         string     `json:"id"`
	SubjectID  string     `json:"subject_id,omitempty"`
	PasscodeID string     `json:"passcode_id,omitempty"`
	DeviceID   string     `json:"device_id"`
	DeviceType string     `json:"device_type"`
	Direction  Direction  `json:"direction"`
	Result     Result     `json:"result"`
	FailReason FailReason `json:"fail_reason,omitempty"`
	Scope      string     `json:"scope"`
	Timestamp  time.Time  `json:"timestamp"`
}

// VerifyRequest describes one swipe/scan presented at a device.
type VerifyRequest struct {
	Code       string
	DeviceID   string
	DeviceType string
	Direction  Direction
	Scope      string
}

// VerificationOutcome is the business result of a Verify call. Failure
// reasons are values, not errors; callers branch on Result.
type VerificationOutcome struct {
	Result     Result     `json:"result"`
	FailReason FailReason `json:"fail_reason,omitempty"`
	Passcode   *Passcode  `json:"passcode,omitempty"`
}

// DeviceState classifies a device by audit trail recency.
type DeviceState string

const (
	DeviceActive  DeviceState = "active"
	DeviceOffline DeviceState = "offline"
	DeviceUnknown DeviceState = "unknown"
)

// DeviceStatus is derived on demand from the audit log; it is never persisted.
type DeviceStatus struct {
	DeviceID         string      `json:"device_id"`
	IsOnline         bool        `json:"is_online"`
	TodayCount       int64       `json:"today_count"`
	CurrentHourCount int64       `json:"current_hour_count"`
	LastActivity     *time.Time  `json:"last_activity,omitempty"`
	State            DeviceState `json:"state"`
}

// DeviceActivity is one row of the per-device stats breakdown.
type DeviceActivity struct {
	DeviceID     string    `json:"device_id"`
	Count        int64     `json:"count"`
	Success      int64     `json:"success"`
	Failed       int64     `json:"failed"`
	LastActivity time.Time `json:"last_activity"`
}

// Stats aggregates verification outcomes over a time range.
type Stats struct {
	Total       int64            `json:"total"`
	Success     int64            `json:"success"`
	Failed      int64            `json:"failed"`
	SuccessRate float64          `json:"success_rate"`
	ByHour      [24]int64        `json:"by_hour"`
	ByDevice    []DeviceActivity `json:"by_device"`
}
