package worksheet_test

import (
	"testing"

	"github.com/aphelia-health/aphelia/internal/curriculum"
	"github.com/aphelia-health/aphelia/internal/worksheet"
)

func threeTasks() []*curriculum.Task {
	return []*curriculum.Task{
		{Index: 1, Variant: curriculum.VariantNaming, Target: "cup"},
		{Index: 2, Variant: curriculum.VariantNaming, Target: "spoon"},
		{Index: 3, Variant: curriculum.VariantNaming, Target: "plate"},
	}
}

func TestAdvanceThroughList(t *testing.T) {
	t.Parallel()
	completions := 0
	s := worksheet.New(threeTasks(), func() { completions++ })

	if got := s.Current(); got == nil || got.Index != 1 {
		t.Fatalf("Current = %+v, want task 1", got)
	}

	next, done := s.Advance()
	if done || next == nil || next.Index != 2 {
		t.Fatalf("first Advance = (%+v, %v)", next, done)
	}
	if completions != 0 {
		t.Fatal("completion fired before list exhausted")
	}

	if _, done = s.Advance(); done {
		t.Fatal("second Advance reported done with one task left")
	}

	next, done = s.Advance()
	if !done || next != nil {
		t.Fatalf("third Advance = (%+v, %v), want (nil, true)", next, done)
	}
	if completions != 1 {
		t.Fatalf("completions = %d, want exactly 1", completions)
	}
	if s.Current() != nil {
		t.Error("Current after completion is not nil")
	}

	// Extra calls never re-fire completion.
	if _, done := s.Advance(); !done {
		t.Error("Advance after completion reported not done")
	}
	if completions != 1 {
		t.Errorf("completions after extra Advance = %d, want 1", completions)
	}
}

func TestEmptyListStartsCompleted(t *testing.T) {
	t.Parallel()
	fired := false
	s := worksheet.New(nil, func() { fired = true })

	if !s.Done() {
		t.Error("empty list not done")
	}
	if s.Current() != nil {
		t.Error("Current on empty list is not nil")
	}
	if _, done := s.Advance(); !done {
		t.Error("Advance on empty list reported not done")
	}
	if fired {
		t.Error("completion fired for a list that was never worked")
	}
}

func TestIndexTracksPosition(t *testing.T) {
	t.Parallel()
	s := worksheet.New(threeTasks(), nil)

	if s.Index() != 0 || s.Len() != 3 {
		t.Fatalf("Index/Len = %d/%d", s.Index(), s.Len())
	}
	s.Advance()
	if s.Index() != 1 {
		t.Errorf("Index after one Advance = %d, want 1", s.Index())
	}
	s.Advance()
	s.Advance()
	if s.Index() != 3 {
		t.Errorf("Index after completion = %d, want 3", s.Index())
	}
}

func TestScenarioSequencing(t *testing.T) {
	t.Parallel()
	sc := &curriculum.Scenario{
		ID:    "cafe-order",
		Title: "Ordering at a cafe",
		Steps: []curriculum.ScenarioStep{
			{NPCDialogue: "What can I get you?", Target: "a coffee please"},
			{NPCDialogue: "Anything else?", Target: "no thank you"},
		},
	}
	completions := 0
	s := worksheet.NewScenario(sc, func() { completions++ })

	first := s.Current()
	if first == nil || first.Variant != curriculum.VariantRoleplayStep {
		t.Fatalf("Current = %+v, want roleplay step", first)
	}
	if first.ID() != "vault_cafe-order_s1" {
		t.Errorf("first step trial ID = %q", first.ID())
	}

	next, done := s.Advance()
	if done || next.ID() != "vault_cafe-order_s2" {
		t.Fatalf("Advance = (%+v, %v)", next, done)
	}
	if _, done = s.Advance(); !done {
		t.Fatal("scenario did not complete after last step")
	}
	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}
}
