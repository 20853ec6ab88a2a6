package httpapi

import (
	"net/http"
	"strings"

	"passgate.org/internal/audit"
	"passgate.org/internal/authz"
)

// requireAuditRead authenticates the caller token and gates the handler on
// the audit-read capability. All scope isolation lives inside the gate.
func (a *API) requireAuditRead(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		claims, err := authz.ParseAndValidate(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid or missing token"})
			return
		}

		ctx := authz.ContextWithCaller(r.Context(), claims.Subject, claims.Roles)
		if rid := r.Header.Get("X-Request-Id"); rid != "" {
			ctx = audit.WithRequestID(ctx, rid)
		}

		dec, err := a.gate.Check(ctx, claims.Subject, authz.ResourcePasscode, authz.ActionAuditRead, "")
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "permission check failed"})
			return
		}
		if !dec.Granted {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": dec.Reason})
			return
		}

		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
