// Package match implements the scoring side of speech-therapy trials: a
// symmetric string-similarity score plus the pass/fail decision applied to
// every recognised utterance.
//
// The decision combines four acceptance lanes, checked in order:
//
//  1. Exact match after normalisation (lowercase, trimmed).
//  2. Substring containment in either direction — tolerates leading or
//     trailing noise words from imperfect recognition.
//  3. Similarity at or above an adaptive threshold. Short targets produce
//     unstable bigram scores, so targets of three runes or fewer use a
//     lower threshold (0.4) than longer targets (0.6).
//  4. Alias acceptance: any accepted alias passing lanes 1–3 against the
//     transcript. Substring containment applies to aliases exactly as it
//     does to the raw target.
//
// An optional phonetic lane (Double Metaphone code overlap ranked by
// Jaro-Winkler, via matchr) can be enabled with WithPhonetic for patients
// whose articulation drifts from spelling. It is off by default so the
// threshold semantics above stay exact.
package match

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// shortTargetRunes is the normalised target length at or below which
	// the lower threshold applies.
	shortTargetRunes = 3

	shortThreshold = 0.4
	longThreshold  = 0.6

	// defaultPhoneticThreshold is the minimum Jaro-Winkler score for a
	// phonetic-code match to be accepted when the phonetic lane is on.
	defaultPhoneticThreshold = 0.70
)

// Decision is the outcome of matching one transcript against one target.
type Decision struct {
	// Pass reports whether the utterance is accepted.
	Pass bool

	// Score is the similarity between transcript and target in [0,1].
	// It is always the raw target score, even when the pass came from an
	// alias or substring lane, so recorded trials stay comparable.
	Score float64

	// Threshold is the adaptive threshold that applied to the target.
	Threshold float64
}

// Option is a functional option for configuring a Matcher.
type Option func(*Matcher)

// WithPhonetic enables the phonetic acceptance lane with the given minimum
// Jaro-Winkler score. Pass 0 to use the default (0.70).
func WithPhonetic(threshold float64) Option {
	return func(m *Matcher) {
		m.phonetic = true
		if threshold > 0 {
			m.phoneticThreshold = threshold
		}
	}
}

// Matcher scores transcripts against therapy targets. The zero-configured
// Matcher from New is ready to use; all methods are safe for concurrent use
// (the Matcher is read-only after construction).
type Matcher struct {
	phonetic          bool
	phoneticThreshold float64
}

// New returns a Matcher configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Score returns the Sørensen–Dice bigram similarity between a and b in
// [0,1]. The measure is symmetric and robust to minor ASR noise; both
// inputs are normalised before comparison.
func (m *Matcher) Score(a, b string) float64 {
	return diceCoefficient(Normalize(a), Normalize(b))
}

// Threshold returns the adaptive pass threshold for target: 0.4 when the
// normalised target is three runes or fewer, 0.6 otherwise.
func (m *Matcher) Threshold(target string) float64 {
	if len([]rune(Normalize(target))) <= shortTargetRunes {
		return shortThreshold
	}
	return longThreshold
}

// Decide evaluates transcript against target and its accepted aliases.
func (m *Matcher) Decide(transcript, target string, aliases []string) Decision {
	t := Normalize(transcript)
	tgt := Normalize(target)
	threshold := m.Threshold(target)

	d := Decision{
		Score:     diceCoefficient(t, tgt),
		Threshold: threshold,
	}
	if t == "" {
		return d
	}

	if m.accepts(t, tgt, threshold) {
		d.Pass = true
		return d
	}
	for _, alias := range aliases {
		a := Normalize(alias)
		if a == "" {
			continue
		}
		if m.accepts(t, a, threshold) {
			d.Pass = true
			return d
		}
	}
	return d
}

// accepts runs the per-candidate lanes: exact, substring, threshold, and
// (when enabled) phonetic.
func (m *Matcher) accepts(transcript, candidate string, threshold float64) bool {
	if transcript == candidate {
		return true
	}
	if strings.Contains(transcript, candidate) || strings.Contains(candidate, transcript) {
		return true
	}
	if diceCoefficient(transcript, candidate) >= threshold {
		return true
	}
	if m.phonetic && m.phoneticMatch(transcript, candidate) {
		return true
	}
	return false
}

// phoneticMatch reports whether transcript and candidate share a Double
// Metaphone code and score at least the phonetic threshold on Jaro-Winkler.
func (m *Matcher) phoneticMatch(transcript, candidate string) bool {
	p1, s1 := matchr.DoubleMetaphone(transcript)
	p2, s2 := matchr.DoubleMetaphone(candidate)
	overlap := (p1 != "" && (p1 == p2 || p1 == s2)) ||
		(s1 != "" && (s1 == p2 || s1 == s2))
	if !overlap {
		return false
	}
	return matchr.JaroWinkler(transcript, candidate, true) >= m.phoneticThreshold
}

// Normalize lowercases and trims surrounding whitespace. All matching and
// trial persistence operates on normalised text.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// diceCoefficient computes the Sørensen–Dice coefficient over character
// bigrams. Identical strings score 1; strings shorter than two runes only
// match exactly.
func diceCoefficient(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) < 2 || len(rb) < 2 {
		return 0
	}

	bigrams := make(map[string]int, len(ra)-1)
	for i := 0; i < len(ra)-1; i++ {
		bigrams[string(ra[i:i+2])]++
	}

	var intersect int
	for i := 0; i < len(rb)-1; i++ {
		g := string(rb[i : i+2])
		if bigrams[g] > 0 {
			bigrams[g]--
			intersect++
		}
	}
	return 2 * float64(intersect) / float64(len(ra)-1+len(rb)-1)
}
