package passcode

import "errors"

var (
	ErrNotFound           = errors.New("passcode: not found")
	ErrSubjectNotFound    = errors.New("passcode: subject not found")
	ErrMerchantInactive   = errors.New("passcode: merchant inactive")
	ErrInvalidConstraints = errors.New("passcode: invalid constraints")
	ErrRevoked            = errors.New("passcode: revoked")
	ErrPermissionDenied   = errors.New("passcode: permission denied")
	ErrVersionConflict    = errors.New("passcode: version conflict")
	ErrConflict           = errors.New("passcode: resource conflict")
	ErrStoreUnavailable   = errors.New("passcode: store unavailable")
	ErrAuditWrite         = errors.New("passcode: audit write failed")
)
