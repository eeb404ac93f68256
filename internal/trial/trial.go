// Package trial defines the clinical trial log: one record per completed
// recognition cycle, the storage contract for persisting and summarising
// them, and the fire-and-forget recorder the engine uses.
//
// Recording is a side effect, not a dependency of correctness: a failed
// write is logged and counted but never surfaces to the patient and never
// blocks a task-state transition.
package trial

import (
	"context"
	"time"
)

// SummaryWindow is the number of most recent trials aggregated by Summarize.
const SummaryWindow = 100

// SuccessfulSimilarity is the similarity at or above which a trial counts
// towards vocabulary variance.
const SuccessfulSimilarity = 0.7

// Attempt is one completed speech-capture-and-score cycle. Attempts are
// immutable once created.
type Attempt struct {
	// UserID identifies the patient.
	UserID string

	// TaskID identifies the task instance (e.g., "worksheet_12" or
	// "vault_cafe-order_s2").
	TaskID string

	// Target is the intended utterance.
	Target string

	// Perceived is the normalised transcript the capture backend heard.
	Perceived string

	// Similarity is the string-similarity score in [0,1].
	Similarity float64

	// Latency is the duration from capture start to result received.
	Latency time.Duration

	// Timestamp is when the attempt completed.
	Timestamp time.Time
}

// Summary aggregates a patient's most recent trials for the dashboard.
type Summary struct {
	// Accuracy is the mean similarity as a rounded percentage.
	Accuracy int

	// LatencySeconds is the mean latency in seconds, one decimal.
	LatencySeconds float64

	// VocabVariance counts distinct targets with at least one trial at or
	// above SuccessfulSimilarity.
	VocabVariance int

	// TotalTrials is the number of trials aggregated.
	TotalTrials int
}

// Store is the durable trial log contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// Record appends one attempt to the log.
	Record(ctx context.Context, a Attempt) error

	// Summarize aggregates the user's most recent SummaryWindow trials.
	// A user with no trials gets a zero Summary and no error.
	Summarize(ctx context.Context, userID string) (Summary, error)

	// History returns the user's attempts ordered by time descending,
	// at most limit entries (a non-positive limit applies a default).
	History(ctx context.Context, userID string, limit int) ([]Attempt, error)
}
