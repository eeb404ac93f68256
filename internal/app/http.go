package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aphelia-health/aphelia/internal/trial"
)

// summaryResponse is the dashboard aggregate for one patient.
type summaryResponse struct {
	UserID         string  `json:"user_id"`
	Accuracy       int     `json:"accuracy"`
	LatencySeconds float64 `json:"latency_seconds"`
	VocabVariance  int     `json:"vocab_variance"`
	TotalTrials    int     `json:"total_trials"`
}

// attemptResponse is one trial log row.
type attemptResponse struct {
	TaskID     string    `json:"task_id"`
	Target     string    `json:"target"`
	Perceived  string    `json:"perceived"`
	Similarity float64   `json:"similarity"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// progressResponse is the patient's current therapy day pointer.
type progressResponse struct {
	UserID string `json:"user_id"`
	Day    int    `json:"day"`
}

// handleSummary serves GET /api/summary?user_id=<id>.
func (a *App) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	s, err := a.store.Summarize(r.Context(), userID)
	if err != nil {
		slog.Error("summary query failed", "user_id", userID, "err", err)
		http.Error(w, "summary unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		UserID:         userID,
		Accuracy:       s.Accuracy,
		LatencySeconds: s.LatencySeconds,
		VocabVariance:  s.VocabVariance,
		TotalTrials:    s.TotalTrials,
	})
}

// handleHistory serves GET /api/history?user_id=<id>&limit=<n>, newest
// first.
func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	limit := trial.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	attempts, err := a.store.History(r.Context(), userID, limit)
	if err != nil {
		slog.Error("history query failed", "user_id", userID, "err", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	out := make([]attemptResponse, 0, len(attempts))
	for _, at := range attempts {
		out = append(out, attemptResponse{
			TaskID:     at.TaskID,
			Target:     at.Target,
			Perceived:  at.Perceived,
			Similarity: at.Similarity,
			LatencyMs:  at.Latency.Milliseconds(),
			Timestamp:  at.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleProgress serves GET /api/progress?user_id=<id>.
func (a *App) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	day, err := a.progress.Day(r.Context(), userID)
	if err != nil {
		slog.Error("progress query failed", "user_id", userID, "err", err)
		http.Error(w, "progress unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, progressResponse{UserID: userID, Day: day})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode failed", "err", err)
	}
}
