package authz

// Permission is a fine-grained capability known to the gate.
type Permission struct {
	Key         string
	Description string
}

const (
	PermPasscodeGenerate  = "passcode.generate"
	PermPasscodeRefresh   = "passcode.refresh"
	PermPasscodeRevoke    = "passcode.revoke"
	PermPasscodeAuditRead = "passcode.audit.read"
)

var BuiltinPermissions = []Permission{
	{Key: PermPasscodeGenerate, Description: "Issue passcodes for subjects"},
	{Key: PermPasscodeRefresh, Description: "Rotate passcode credentials"},
	{Key: PermPasscodeRevoke, Description: "Revoke issued passcodes"},
	{Key: PermPasscodeAuditRead, Description: "Read the access attempt trail"},
}
