package authz

import (
	"context"
	"testing"
)

func TestStaticGateDeniesByDefault(t *testing.T) {
	gate := NewStaticGate()
	dec, err := gate.Check(context.Background(), "caller", ResourcePasscode, ActionGenerate, "m1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dec.Granted {
		t.Fatalf("empty gate must deny")
	}
	if dec.Reason == "" {
		t.Fatalf("denial must carry a reason")
	}
}

func TestStaticGateScopedGrant(t *testing.T) {
	gate := NewStaticGate()
	gate.Grant("op", PermPasscodeRevoke, "m1")
	ctx := context.Background()

	dec, _ := gate.Check(ctx, "op", ResourcePasscode, ActionRevoke, "m1")
	if !dec.Granted {
		t.Fatalf("expected grant within scope")
	}
	dec, _ = gate.Check(ctx, "op", ResourcePasscode, ActionRevoke, "m2")
	if dec.Granted {
		t.Fatalf("grant must not leak across scopes")
	}
	dec, _ = gate.Check(ctx, "op", ResourcePasscode, ActionGenerate, "m1")
	if dec.Granted {
		t.Fatalf("grant must not cover other actions")
	}
}

func TestStaticGateGlobalGrant(t *testing.T) {
	gate := NewStaticGate()
	gate.Grant("auditor", PermPasscodeAuditRead, "")

	dec, _ := gate.Check(context.Background(), "auditor", ResourcePasscode, ActionAuditRead, "any-merchant")
	if !dec.Granted {
		t.Fatalf("scope-wide grant must apply to all scopes")
	}
}

func TestAllowAllGate(t *testing.T) {
	gate := NewAllowAllGate()
	dec, _ := gate.Check(context.Background(), "anyone", ResourcePasscode, ActionRefresh, "m9")
	if !dec.Granted {
		t.Fatalf("allow-all gate must grant")
	}
}

func TestPermissionKeys(t *testing.T) {
	if Key(ResourcePasscode, ActionAuditRead) != PermPasscodeAuditRead {
		t.Fatalf("key mismatch: %s", Key(ResourcePasscode, ActionAuditRead))
	}
	if len(BuiltinPermissions) != 4 {
		t.Fatalf("unexpected builtin catalog: %v", BuiltinPermissions)
	}
}
