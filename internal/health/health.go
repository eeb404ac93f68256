// Package health serves the liveness and readiness probes for the therapy
// server.
//
// /healthz answers 200 as long as the process can serve HTTP. /readyz runs
// every registered [Checker] against its dependency, the trial store's
// database pool for instance, and answers 503 as soon as one fails. Both
// endpoints reply with a JSON report: a "status" of "ok" or "fail" plus a
// per-check "checks" map on readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Each readiness check gets this long before its context is cancelled.
const checkTimeout = 5 * time.Second

// Checker probes one dependency for readiness. Check returns nil when the
// dependency can serve and an error describing the outage otherwise; it must
// honor its context.
type Checker struct {
	// Name keys this check in the JSON report, e.g. "trial-store".
	Name string

	Check func(ctx context.Context) error
}

// Pinger is the probe shape shared by connection pools such as pgxpool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck wraps a connection pool's Ping as a named readiness check.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// report is the body both probes reply with.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the two probe endpoints. The checker list is fixed at
// construction, so a Handler needs no locking.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers. Readiness evaluates them
// one after another in the order given.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz reports liveness. It never fails.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz evaluates every checker and reports 200 only when all of them
// pass. Each check runs with [checkTimeout] on top of the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep, ready := h.evaluate(r.Context())

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	h.respond(w, status, rep)
}

// evaluate runs the checkers and folds their outcomes into a report.
func (h *Handler) evaluate(ctx context.Context) (report, bool) {
	rep := report{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	ready := true

	for _, c := range h.checkers {
		if err := h.runCheck(ctx, c); err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = "fail"
			ready = false
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	return rep, ready
}

func (h *Handler) runCheck(ctx context.Context, c Checker) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.Check(ctx)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) respond(w http.ResponseWriter, status int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
