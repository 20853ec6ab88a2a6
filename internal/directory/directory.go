// Package directory exposes the read-only subject/merchant lookup the
// lifecycle consumes. The authoritative identity store lives outside this
// engine; deployments adapt it behind SubjectDirectory.
package directory

import (
	"context"
	"errors"
	"sync"
)

var ErrUnknownSubject = errors.New("directory: unknown subject")

// SubjectDirectory answers existence and merchant-state questions about
// subjects. All methods are read-only.
type SubjectDirectory interface {
	Exists(ctx context.Context, subjectID string) (bool, error)
	MerchantActive(ctx context.Context, subjectID string) (bool, error)
	// MerchantID resolves the merchant a subject belongs to, used as the
	// scope argument of permission checks.
	MerchantID(ctx context.Context, subjectID string) (string, error)
}

type subject struct {
	merchantID string
}

// InMemory is a SubjectDirectory backed by process memory. Used by tests and
// the smoke tooling; production wires the real identity service instead.
type InMemory struct {
	mu        sync.RWMutex
	subjects  map[string]subject
	merchants map[string]bool // merchant id -> active
}

func NewInMemory() *InMemory {
	return &InMemory{
		subjects:  make(map[string]subject),
		merchants: make(map[string]bool),
	}
}

// AddMerchant registers a merchant and its active flag.
func (d *InMemory) AddMerchant(id string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.merchants[id] = active
}

// AddSubject registers a subject under a merchant.
func (d *InMemory) AddSubject(subjectID, merchantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subjects[subjectID] = subject{merchantID: merchantID}
}

func (d *InMemory) Exists(ctx context.Context, subjectID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.subjects[subjectID]
	return ok, nil
}

func (d *InMemory) MerchantActive(ctx context.Context, subjectID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sub, ok := d.subjects[subjectID]
	if !ok {
		return false, ErrUnknownSubject
	}
	return d.merchants[sub.merchantID], nil
}

func (d *InMemory) MerchantID(ctx context.Context, subjectID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sub, ok := d.subjects[subjectID]
	if !ok {
		return "", ErrUnknownSubject
	}
	return sub.merchantID, nil
}
