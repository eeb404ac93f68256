// Package curriculum provides read-only therapy task and scenario records.
//
// Curriculum content is authored as YAML files: a worksheet library (one
// Task per entry), a daily plan (ordered task references per therapy day),
// and roleplay scenarios (ordered conversational steps). The engine never
// mutates these records; they are loaded once at startup and shared.
//
// Supported input formats:
//   - Worksheet library YAML ([LoadWorksheets], [LoadWorksheetsFromReader])
//   - Daily plan YAML ([LoadDays], [LoadDaysFromReader])
//   - Scenario YAML ([LoadScenarios], [LoadScenariosFromReader])
package curriculum

import "fmt"

// Variant tags the interaction style of a task.
type Variant string

const (
	// VariantNaming is free-recall naming: the patient names a pictured
	// concept, with escalating hints and fuzzy-matched scoring.
	VariantNaming Variant = "naming"

	// VariantCrisis is crisis-response selection: the patient says (or
	// taps) the safe response to a depicted situation.
	VariantCrisis Variant = "crisis"

	// VariantMatching is association matching: the patient says (or taps)
	// the concept that matches the shown context.
	VariantMatching Variant = "matching"

	// VariantSequencing is step ordering: the patient arranges shuffled
	// step cards into canonical order. No speech component.
	VariantSequencing Variant = "sequencing"

	// VariantRoleplayStep is one conversational turn inside a roleplay
	// scenario, scored like a naming task.
	VariantRoleplayStep Variant = "roleplay-step"
)

// IsValid reports whether v is a recognised variant tag.
func (v Variant) IsValid() bool {
	switch v {
	case VariantNaming, VariantCrisis, VariantMatching, VariantSequencing, VariantRoleplayStep:
		return true
	}
	return false
}

// Speech reports whether this variant involves a speech-capture cycle.
func (v Variant) Speech() bool {
	return v != VariantSequencing
}

// Hints holds the three escalating disclosure tiers for a spoken task.
// Level 1 is a semantic cue, level 2 embeds the target in a sentence frame,
// level 3 reveals the full answer.
type Hints struct {
	Semantic string `yaml:"semantic"`
	Sentence string `yaml:"sentence"`
	Reveal   string `yaml:"reveal"`
}

// Level returns the hint text for level 1..3, or "" otherwise.
func (h Hints) Level(level int) string {
	switch level {
	case 1:
		return h.Semantic
	case 2:
		return h.Sentence
	case 3:
		return h.Reveal
	}
	return ""
}

// Step is one entry of a sequencing task. Number is the canonical 1-based
// position the step belongs in.
type Step struct {
	Number      int    `yaml:"number"`
	Description string `yaml:"description"`
}

// Task is one immutable worksheet entry. Which fields are meaningful
// depends on Variant; Validate enforces the per-variant requirements.
type Task struct {
	// Index is the unique worksheet index, 1-based.
	Index int `yaml:"index"`

	// Variant selects the interaction style.
	Variant Variant `yaml:"variant"`

	// Target is the expected utterance for speech variants.
	Target string `yaml:"target"`

	// Aliases are additional accepted utterances for the target.
	Aliases []string `yaml:"aliases,omitempty"`

	// Hints holds the escalating hint texts (naming and roleplay steps).
	Hints Hints `yaml:"hints,omitempty"`

	// Prompt is the instruction read/shown before the first attempt.
	Prompt string `yaml:"prompt,omitempty"`

	// DisplayText is the written form shown on full reveal and success.
	DisplayText string `yaml:"display_text,omitempty"`

	// UsageExample is a sentence using the target, shown after success.
	UsageExample string `yaml:"usage_example,omitempty"`

	// ImageRef is an opaque asset locator resolved by the caller; may be
	// empty. The engine forwards it without validation.
	ImageRef string `yaml:"image_ref,omitempty"`

	// ValidAnswers are accepted substrings for crisis/matching variants:
	// a transcript containing any of them passes.
	ValidAnswers []string `yaml:"valid_answers,omitempty"`

	// FallbackCorrect is the correct touch-fallback option label.
	FallbackCorrect string `yaml:"fallback_correct,omitempty"`

	// FallbackIncorrect are the distractor touch-fallback option labels.
	FallbackIncorrect []string `yaml:"fallback_incorrect,omitempty"`

	// Steps are the sequencing entries (sequencing variant only).
	Steps []Step `yaml:"steps,omitempty"`

	// TrialID overrides the identifier used for trial records. Set for
	// tasks synthesised at runtime (roleplay scenario steps); never
	// authored in YAML.
	TrialID string `yaml:"-"`
}

// ID returns the stable identifier used for trial records.
func (t *Task) ID() string {
	if t.TrialID != "" {
		return t.TrialID
	}
	return taskID(t.Index)
}

// StepTask synthesises the Task for the i-th (0-based) step of a roleplay
// scenario. Step tasks score and record like naming tasks but carry a
// scenario-scoped trial identifier.
func StepTask(s *Scenario, i int) *Task {
	st := s.Steps[i]
	return &Task{
		Variant:     VariantRoleplayStep,
		Target:      st.Target,
		Aliases:     st.Aliases,
		Hints:       st.Hints,
		Prompt:      st.NPCDialogue,
		DisplayText: st.DisplayText,
		ImageRef:    st.ImageRef,
		TrialID:     fmt.Sprintf("vault_%s_s%d", s.ID, i+1),
	}
}

// ScenarioStep is one conversational turn of a roleplay scenario.
type ScenarioStep struct {
	// NPCDialogue is the authored line spoken to the patient before their
	// turn.
	NPCDialogue string `yaml:"npc_dialogue"`

	// Target is the expected patient reply.
	Target string `yaml:"target"`

	// Aliases are additional accepted replies.
	Aliases []string `yaml:"aliases,omitempty"`

	// Hints holds the escalating hint texts for this turn.
	Hints Hints `yaml:"hints,omitempty"`

	// DisplayText is the written form of the reply.
	DisplayText string `yaml:"display_text,omitempty"`

	// ImageRef is an opaque asset locator; may be empty.
	ImageRef string `yaml:"image_ref,omitempty"`
}

// Scenario is an ordered multi-step roleplay exercise.
type Scenario struct {
	// ID is the unique scenario identifier (e.g., "cafe-order").
	ID string `yaml:"id"`

	// Title is the display name.
	Title string `yaml:"title"`

	// Steps are the conversational turns, in order.
	Steps []ScenarioStep `yaml:"steps"`
}

// Day is one therapy day: an ordered list of worksheet indices.
type Day struct {
	// Day is the 1-based day number within the program.
	Day int `yaml:"day"`

	// Tasks are worksheet indices, completed in order.
	Tasks []int `yaml:"tasks"`
}
