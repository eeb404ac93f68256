package match_test

import (
	"testing"

	"github.com/aphelia-health/aphelia/internal/match"
)

func TestThreshold_ShortVsLongTargets(t *testing.T) {
	t.Parallel()

	m := match.New()

	tests := []struct {
		target string
		want   float64
	}{
		{"go", 0.4},
		{"cup", 0.4},
		{"  go  ", 0.4}, // trimming applies before the length check
		{"door", 0.6},
		{"breakfast", 0.6},
	}
	for _, tt := range tests {
		if got := m.Threshold(tt.target); got != tt.want {
			t.Errorf("Threshold(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestDecide_ExactMatchAlwaysPasses(t *testing.T) {
	t.Parallel()

	m := match.New()

	d := m.Decide("  Cup ", "cup", nil)
	if !d.Pass {
		t.Fatalf("Decide(%q, %q): pass=false, want true", "  Cup ", "cup")
	}
	if d.Score != 1 {
		t.Errorf("Decide exact: score=%v, want 1", d.Score)
	}
}

func TestDecide_SubstringContainmentPasses(t *testing.T) {
	t.Parallel()

	m := match.New()

	// Trailing noise words around the target.
	if d := m.Decide("a cup please", "cup", nil); !d.Pass {
		t.Errorf("transcript containing target: pass=false, want true")
	}
	// Transcript contained in the target.
	if d := m.Decide("break", "breakfast", nil); !d.Pass {
		t.Errorf("transcript contained in target: pass=false, want true")
	}
}

func TestDecide_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	m := match.New()

	// "sandwich" vs "sand which": high bigram overlap, passes 0.6.
	if d := m.Decide("sand wich", "sandwich", nil); !d.Pass {
		t.Errorf("Decide(%q, %q): pass=false, want true (score=%v)", "sand wich", "sandwich", d.Score)
	}

	// Unrelated words fail against a long target.
	d := m.Decide("window", "breakfast", nil)
	if d.Pass {
		t.Errorf("Decide(%q, %q): pass=true, want false (score=%v)", "window", "breakfast", d.Score)
	}
	if d.Threshold != 0.6 {
		t.Errorf("Decide long target: threshold=%v, want 0.6", d.Threshold)
	}
}

func TestDecide_AliasWithZeroOverlapPasses(t *testing.T) {
	t.Parallel()

	m := match.New()

	// "mug" shares no characters with "cup" but is an accepted alias.
	d := m.Decide("mug", "cup", []string{"mug"})
	if !d.Pass {
		t.Fatalf("alias exact match: pass=false, want true")
	}
	// Score stays the raw target score so trial records remain comparable.
	if d.Score == 1 {
		t.Errorf("alias pass: score=%v, want raw target similarity < 1", d.Score)
	}
}

func TestDecide_AliasSubstringContainment(t *testing.T) {
	t.Parallel()

	m := match.New()

	// Substring lane applies against aliases the same as the raw target.
	if d := m.Decide("the mug there", "cup", []string{"mug"}); !d.Pass {
		t.Errorf("alias substring containment: pass=false, want true")
	}
}

func TestDecide_EmptyTranscriptNeverPasses(t *testing.T) {
	t.Parallel()

	m := match.New()

	if d := m.Decide("   ", "cup", []string{"mug"}); d.Pass {
		t.Errorf("empty transcript: pass=true, want false")
	}
}

func TestScore_SymmetricAndBounded(t *testing.T) {
	t.Parallel()

	m := match.New()

	pairs := [][2]string{
		{"breakfast", "break fast"},
		{"cup", "mug"},
		{"hello", "world"},
		{"go", "no"},
	}
	for _, p := range pairs {
		ab := m.Score(p[0], p[1])
		ba := m.Score(p[1], p[0])
		if ab != ba {
			t.Errorf("Score(%q,%q)=%v != Score(%q,%q)=%v", p[0], p[1], ab, p[1], p[0], ba)
		}
		if ab < 0 || ab > 1 {
			t.Errorf("Score(%q,%q)=%v out of [0,1]", p[0], p[1], ab)
		}
	}

	if got := m.Score("water", "water"); got != 1 {
		t.Errorf("Score(identical) = %v, want 1", got)
	}
}

func TestDecide_PhoneticLaneOptIn(t *testing.T) {
	t.Parallel()

	// "fone" is phonetically "phone" but shares too few bigrams for the
	// 0.6 threshold. Default matcher rejects; phonetic matcher accepts.
	plain := match.New()
	if d := plain.Decide("fone", "phone", nil); d.Pass {
		t.Fatalf("default matcher passed %q vs %q (score=%v); phonetic lane should be off", "fone", "phone", d.Score)
	}

	phon := match.New(match.WithPhonetic(0))
	if d := phon.Decide("fone", "phone", nil); !d.Pass {
		t.Errorf("phonetic matcher: pass=false, want true")
	}
}
