package passcode

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store and AuditLog with in-process concurrency safety.
// Tests and the smoke tooling run against it; production uses store/pg.
type InMemory struct {
	mu       sync.RWMutex
	byID     map[string]*Passcode
	byCode   map[string]string // code -> id
	attempts []AccessAttempt
}

var (
	_ Store    = (*InMemory)(nil)
	_ AuditLog = (*InMemory)(nil)
)

func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[string]*Passcode),
		byCode: make(map[string]string),
	}
}

func (s *InMemory) CreatePasscode(ctx context.Context, pc Passcode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[pc.ID]; ok {
		return ErrConflict
	}
	if _, ok := s.byCode[pc.Code]; ok {
		return ErrConflict
	}
	cp := pc
	s.byID[pc.ID] = &cp
	s.byCode[pc.Code] = pc.ID
	return nil
}

func (s *InMemory) GetPasscode(ctx context.Context, id string) (Passcode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, ok := s.byID[id]
	if !ok {
		return Passcode{}, ErrNotFound
	}
	return clonePasscode(pc), nil
}

func (s *InMemory) GetPasscodeByCode(ctx context.Context, code string) (Passcode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return Passcode{}, ErrNotFound
	}
	return clonePasscode(s.byID[id]), nil
}

// TryConsume performs the check-and-increment under the store lock, the
// in-process equivalent of the conditional UPDATE in store/pg.
func (s *InMemory) TryConsume(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if pc.Status != StatusActive {
		return false, nil
	}
	if !pc.Unlimited() && pc.UsageCount >= pc.UsageLimit {
		return false, nil
	}
	pc.UsageCount++
	pc.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *InMemory) RotateCredentials(ctx context.Context, id, code string, expiresAt time.Time, resetUsage bool, version int64) (Passcode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.byID[id]
	if !ok {
		return Passcode{}, ErrNotFound
	}
	if pc.Status == StatusRevoked {
		return Passcode{}, ErrRevoked
	}
	if pc.Version != version {
		return Passcode{}, ErrVersionConflict
	}
	if _, taken := s.byCode[code]; taken {
		return Passcode{}, ErrConflict
	}
	delete(s.byCode, pc.Code)
	pc.Code = code
	pc.ExpiresAt = expiresAt.UTC()
	if resetUsage {
		pc.UsageCount = 0
	}
	pc.Version++
	pc.UpdatedAt = time.Now().UTC()
	s.byCode[code] = pc.ID
	return clonePasscode(pc), nil
}

func (s *InMemory) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if pc.Status == StatusRevoked {
		return nil
	}
	pc.Status = StatusRevoked
	pc.Version++
	pc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) Append(ctx context.Context, rec AccessAttempt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, rec)
	return rec.ID, nil
}

func (s *InMemory) Query(ctx context.Context, f AttemptFilter) ([]AccessAttempt, error) {
	s.mu.RLock()
	matched := s.matchLocked(f)
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if f.Ascending {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (s *InMemory) CountByRange(ctx context.Context, f AttemptFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchLocked(f))), nil
}

func (s *InMemory) HourlyCounts(ctx context.Context, f AttemptFilter) ([24]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var buckets [24]int64
	for _, rec := range s.matchLocked(f) {
		buckets[rec.Timestamp.UTC().Hour()]++
	}
	return buckets, nil
}

func (s *InMemory) DeviceActivity(ctx context.Context, f AttemptFilter) ([]DeviceActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDevice := make(map[string]*DeviceActivity)
	for _, rec := range s.matchLocked(f) {
		act, ok := byDevice[rec.DeviceID]
		if !ok {
			act = &DeviceActivity{DeviceID: rec.DeviceID}
			byDevice[rec.DeviceID] = act
		}
		act.Count++
		if rec.Result == ResultSuccess {
			act.Success++
		} else {
			act.Failed++
		}
		if rec.Timestamp.After(act.LastActivity) {
			act.LastActivity = rec.Timestamp
		}
	}

	out := make([]DeviceActivity, 0, len(byDevice))
	for _, act := range byDevice {
		out = append(out, *act)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *InMemory) LastActivity(ctx context.Context, deviceID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	var seen bool
	for _, rec := range s.attempts {
		if rec.DeviceID != deviceID {
			continue
		}
		if !seen || rec.Timestamp.After(last) {
			last = rec.Timestamp
			seen = true
		}
	}
	return last, seen, nil
}

// PurgeBefore drops audit records older than the cutoff. Only the retention
// job calls this; nothing else deletes from the trail.
func (s *InMemory) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.attempts[:0]
	var purged int64
	for _, rec := range s.attempts {
		if rec.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	s.attempts = kept
	return purged, nil
}

func (s *InMemory) matchLocked(f AttemptFilter) []AccessAttempt {
	var out []AccessAttempt
	for _, rec := range s.attempts {
		if !matches(rec, f) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func matches(rec AccessAttempt, f AttemptFilter) bool {
	if f.SubjectID != "" && rec.SubjectID != f.SubjectID {
		return false
	}
	if f.PasscodeID != "" && rec.PasscodeID != f.PasscodeID {
		return false
	}
	if f.DeviceID != "" && rec.DeviceID != f.DeviceID {
		return false
	}
	if f.Result != "" && rec.Result != f.Result {
		return false
	}
	if f.Direction != "" && rec.Direction != f.Direction {
		return false
	}
	if f.Scope != "" && rec.Scope != f.Scope {
		return false
	}
	if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.Timestamp.After(f.To) {
		return false
	}
	return true
}

func clonePasscode(pc *Passcode) Passcode {
	out := *pc
	out.AllowedScope = append([]string(nil), pc.AllowedScope...)
	return out
}
