package authz

import (
	"context"
	"strings"
	"sync"
)

const (
	ResourcePasscode = "passcode"

	ActionGenerate  = "generate"
	ActionRefresh   = "refresh"
	ActionRevoke    = "revoke"
	ActionAuditRead = "audit.read"
)

// Decision is the outcome of a capability check.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// Gate answers whether a caller may perform an action on a resource within an
// optional scope (merchant id). The engine treats it as an opaque oracle and
// performs no role-hierarchy logic of its own.
type Gate interface {
	Check(ctx context.Context, callerID, resource, action, scopeID string) (Decision, error)
}

// Key builds the permission key for a resource/action pair, e.g.
// "passcode.generate".
func Key(resource, action string) string {
	return resource + "." + action
}

// StaticGate is a Gate backed by an in-process grant table. Used in tests,
// tooling, and deployments where the real RBAC service is not wired in.
type StaticGate struct {
	mu       sync.RWMutex
	allowAll bool
	grants   map[string]map[string]struct{} // caller -> key@scope
}

// NewStaticGate returns an empty gate that denies everything.
func NewStaticGate() *StaticGate {
	return &StaticGate{grants: make(map[string]map[string]struct{})}
}

// NewAllowAllGate returns a gate that grants every check.
func NewAllowAllGate() *StaticGate {
	return &StaticGate{allowAll: true, grants: make(map[string]map[string]struct{})}
}

// Grant allows callerID to perform the permission key within scopeID.
// An empty scopeID grants the key across all scopes.
func (g *StaticGate) Grant(callerID, key, scopeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.grants[callerID]
	if !ok {
		set = make(map[string]struct{})
		g.grants[callerID] = set
	}
	set[grantKey(key, scopeID)] = struct{}{}
}

func (g *StaticGate) Check(ctx context.Context, callerID, resource, action, scopeID string) (Decision, error) {
	if g.allowAll {
		return Decision{Granted: true}, nil
	}
	key := Key(resource, action)
	g.mu.RLock()
	defer g.mu.RUnlock()
	set, ok := g.grants[strings.TrimSpace(callerID)]
	if !ok {
		return Decision{Granted: false, Reason: "unknown caller"}, nil
	}
	if _, ok := set[grantKey(key, scopeID)]; ok {
		return Decision{Granted: true}, nil
	}
	if _, ok := set[grantKey(key, "")]; ok {
		return Decision{Granted: true}, nil
	}
	return Decision{Granted: false, Reason: "missing permission " + key}, nil
}

func grantKey(key, scopeID string) string {
	if scopeID == "" {
		return key
	}
	return key + "@" + scopeID
}
