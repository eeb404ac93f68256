package engine

import (
	"fmt"

	"github.com/aphelia-health/aphelia/internal/curriculum"
	"github.com/aphelia-health/aphelia/internal/match"
)

// strategy supplies the per-variant behaviour of the shared state machine:
// the scoring lane, feedback texts, and the touch-fallback option set. One
// strategy value exists per variant; strategies are stateless.
type strategy interface {
	// speech reports whether the variant runs a capture cycle.
	speech() bool

	// evaluate scores a normalised non-empty transcript.
	evaluate(m *match.Matcher, t *curriculum.Task, transcript string) (pass bool, score float64)

	// recordTarget is the canonical target stored on a trial attempt and
	// passed to the capture backend as a recognition hint.
	recordTarget(t *curriculum.Task) string

	// successMessage is shown when the task completes.
	successMessage() string

	// retryMessage is shown after a scored miss.
	retryMessage(perceived string) string

	// fallbackOptions returns the touch-fallback labels, or nil when the
	// variant has no fallback panel.
	fallbackOptions(t *curriculum.Task) []string
}

func strategyFor(v curriculum.Variant) strategy {
	switch v {
	case curriculum.VariantCrisis:
		return crisisStrategy{}
	case curriculum.VariantMatching:
		return matchingStrategy{}
	case curriculum.VariantSequencing:
		return sequencingStrategy{}
	}
	return namingStrategy{}
}

// namingStrategy covers free-recall naming and roleplay steps: one target
// utterance plus aliases, scored through the full matcher decision.
type namingStrategy struct{}

func (namingStrategy) speech() bool { return true }

func (namingStrategy) evaluate(m *match.Matcher, t *curriculum.Task, transcript string) (bool, float64) {
	d := m.Decide(transcript, t.Target, t.Aliases)
	return d.Pass, d.Score
}

func (namingStrategy) recordTarget(t *curriculum.Task) string { return t.Target }

func (namingStrategy) successMessage() string { return "Excellent! You said it perfectly!" }

func (namingStrategy) retryMessage(string) string { return "Let's try that again!" }

func (namingStrategy) fallbackOptions(*curriculum.Task) []string { return nil }

// answerSetEvaluate scores a transcript against a task's valid-answer set,
// passing on the best lane and reporting the best similarity. Crisis and
// matching tasks accept several phrasings, so the recorded score is the
// closest one.
func answerSetEvaluate(m *match.Matcher, t *curriculum.Task, transcript string) (bool, float64) {
	pass := false
	best := 0.0
	for _, answer := range t.ValidAnswers {
		d := m.Decide(transcript, answer, nil)
		if d.Pass {
			pass = true
		}
		if d.Score > best {
			best = d.Score
		}
	}
	return pass, best
}

// touchOptions builds the fallback label set: the one correct option plus
// the authored distractors.
func touchOptions(t *curriculum.Task) []string {
	if t.FallbackCorrect == "" {
		return nil
	}
	opts := make([]string, 0, len(t.FallbackIncorrect)+1)
	opts = append(opts, t.FallbackCorrect)
	opts = append(opts, t.FallbackIncorrect...)
	return opts
}

// crisisStrategy covers crisis-response selection: say (or tap) the safe
// response to a depicted situation.
type crisisStrategy struct{}

func (crisisStrategy) speech() bool { return true }

func (crisisStrategy) evaluate(m *match.Matcher, t *curriculum.Task, transcript string) (bool, float64) {
	return answerSetEvaluate(m, t, transcript)
}

func (crisisStrategy) recordTarget(t *curriculum.Task) string { return t.FallbackCorrect }

func (crisisStrategy) successMessage() string { return "Excellent! You knew exactly what to do." }

func (crisisStrategy) retryMessage(perceived string) string {
	return fmt.Sprintf("I heard %q. Let's try again or use the buttons.", perceived)
}

func (crisisStrategy) fallbackOptions(t *curriculum.Task) []string { return touchOptions(t) }

// matchingStrategy covers association matching: say (or tap) the concept
// that fits the shown context.
type matchingStrategy struct{}

func (matchingStrategy) speech() bool { return true }

func (matchingStrategy) evaluate(m *match.Matcher, t *curriculum.Task, transcript string) (bool, float64) {
	return answerSetEvaluate(m, t, transcript)
}

func (matchingStrategy) recordTarget(t *curriculum.Task) string { return t.FallbackCorrect }

func (matchingStrategy) successMessage() string { return "Exactly right! Brilliant." }

func (matchingStrategy) retryMessage(perceived string) string {
	return fmt.Sprintf("I heard %q. Think about the connection shown.", perceived)
}

func (matchingStrategy) fallbackOptions(t *curriculum.Task) []string { return touchOptions(t) }

// sequencingStrategy covers step ordering. There is no capture cycle; the
// board is the native input surface, so no timed fallback either.
type sequencingStrategy struct{}

func (sequencingStrategy) speech() bool { return false }

func (sequencingStrategy) evaluate(*match.Matcher, *curriculum.Task, string) (bool, float64) {
	return false, 0
}

func (sequencingStrategy) recordTarget(*curriculum.Task) string { return "" }

func (sequencingStrategy) successMessage() string { return "Perfect sequence!" }

func (sequencingStrategy) retryMessage(string) string { return "" }

func (sequencingStrategy) fallbackOptions(*curriculum.Task) []string { return nil }
