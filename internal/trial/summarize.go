package trial

import (
	"math"
	"time"
)

// DefaultHistoryLimit applies when History is called with a non-positive limit.
const DefaultHistoryLimit = 50

// Summarize aggregates attempts (expected: most recent first, at most
// SummaryWindow entries) into a Summary. Shared by every Store
// implementation so the aggregation rules live in exactly one place.
func Summarize(attempts []Attempt) Summary {
	if len(attempts) == 0 {
		return Summary{}
	}

	var simSum float64
	var latSum time.Duration
	vocab := make(map[string]bool)
	for _, a := range attempts {
		simSum += a.Similarity
		latSum += a.Latency
		if a.Similarity >= SuccessfulSimilarity {
			vocab[a.Target] = true
		}
	}

	n := float64(len(attempts))
	return Summary{
		Accuracy:       int(math.Round(simSum / n * 100)),
		LatencySeconds: math.Round(latSum.Seconds()/n*10) / 10,
		VocabVariance:  len(vocab),
		TotalTrials:    len(attempts),
	}
}
