package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"passgate.org/internal/authz"
	"passgate.org/internal/obs"
	"passgate.org/internal/passcode"
)

// ReadyProbe reports readiness (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the ops HTTP surface: health, metrics, and privileged read-only
// views over stats and the audit trail. Lifecycle and verification stay
// language-level APIs consumed by the access-point integration layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	stats    *passcode.StatsAggregator
	auditLog passcode.AuditLog
	gate     authz.Gate
}

func New(rp ReadyProbe, version string, stats *passcode.StatsAggregator, auditLog passcode.AuditLog, gate authz.Gate) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		stats:      stats,
		auditLog:   auditLog,
		gate:       gate,
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	a.mux.HandleFunc("GET /v1/stats", a.requireAuditRead(a.Stats))
	a.mux.HandleFunc("GET /v1/devices/{id}/status", a.requireAuditRead(a.DeviceStatus))
	a.mux.HandleFunc("GET /v1/attempts", a.requireAuditRead(a.Attempts))

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the server handler with metrics instrumentation applied.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "passgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "passgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	f, err := attemptFilterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	stats, err := a.stats.ComputeStats(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if deviceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "device id is required"})
		return
	}
	status, err := a.stats.DeviceStatus(r.Context(), deviceID, time.Now().UTC())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "status unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) Attempts(w http.ResponseWriter, r *http.Request) {
	f, err := attemptFilterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	attempts, err := a.auditLog.Query(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "audit log unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func attemptFilterFromQuery(r *http.Request) (passcode.AttemptFilter, error) {
	q := r.URL.Query()
	f := passcode.AttemptFilter{
		SubjectID: q.Get("subject_id"),
		DeviceID:  q.Get("device_id"),
		Scope:     q.Get("scope"),
		Result:    passcode.Result(q.Get("result")),
		Direction: passcode.Direction(q.Get("direction")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return passcode.AttemptFilter{}, err
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return passcode.AttemptFilter{}, err
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return passcode.AttemptFilter{}, err
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return passcode.AttemptFilter{}, err
		}
		f.Offset = n
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
