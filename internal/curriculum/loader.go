package curriculum

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// StageSize is the number of consecutive worksheets grouped into one stage
// on the program overview.
const StageSize = 7

// worksheetFile is the top-level structure of a worksheet library YAML file.
type worksheetFile struct {
	Worksheets []Task `yaml:"worksheets"`
}

// dailyFile is the top-level structure of a daily plan YAML file.
type dailyFile struct {
	Days []Day `yaml:"days"`
}

// scenarioFile is the top-level structure of a scenario YAML file.
type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Library holds the loaded curriculum: the worksheet tasks indexed by
// worksheet index, the daily plan, and the roleplay scenarios.
// A Library is read-only after Load and safe for concurrent use.
type Library struct {
	tasks     map[int]*Task
	order     []int
	days      map[int]Day
	lastDay   int
	scenarios map[string]*Scenario
}

// LoadWorksheets reads and validates a worksheet library YAML file.
func LoadWorksheets(path string) ([]Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("curriculum: open worksheets %q: %w", path, err)
	}
	defer f.Close()

	tasks, err := LoadWorksheetsFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("curriculum: parse worksheets %q: %w", path, err)
	}
	return tasks, nil
}

// LoadWorksheetsFromReader parses worksheet YAML from r and validates every
// task. Useful in tests where content is built from string literals.
func LoadWorksheetsFromReader(r io.Reader) ([]Task, error) {
	var wf worksheetFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch authoring typos
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	var errs []error
	seen := make(map[int]bool, len(wf.Worksheets))
	for i := range wf.Worksheets {
		t := &wf.Worksheets[i]
		if seen[t.Index] {
			errs = append(errs, fmt.Errorf("worksheet %d: duplicate index", t.Index))
		}
		seen[t.Index] = true
		if err := validateTask(t); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return wf.Worksheets, nil
}

// LoadDays reads a daily plan YAML file.
func LoadDays(path string) ([]Day, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("curriculum: open days %q: %w", path, err)
	}
	defer f.Close()

	days, err := LoadDaysFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("curriculum: parse days %q: %w", path, err)
	}
	return days, nil
}

// LoadDaysFromReader parses daily plan YAML from r.
func LoadDaysFromReader(r io.Reader) ([]Day, error) {
	var df dailyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&df); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	var errs []error
	seen := make(map[int]bool, len(df.Days))
	for _, d := range df.Days {
		if d.Day <= 0 {
			errs = append(errs, fmt.Errorf("day %d: day number must be positive", d.Day))
		}
		if seen[d.Day] {
			errs = append(errs, fmt.Errorf("day %d: duplicate day", d.Day))
		}
		seen[d.Day] = true
		if len(d.Tasks) == 0 {
			errs = append(errs, fmt.Errorf("day %d: no tasks", d.Day))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return df.Days, nil
}

// LoadScenarios reads a scenario YAML file.
func LoadScenarios(path string) ([]Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("curriculum: open scenarios %q: %w", path, err)
	}
	defer f.Close()

	scenarios, err := LoadScenariosFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("curriculum: parse scenarios %q: %w", path, err)
	}
	return scenarios, nil
}

// LoadScenariosFromReader parses scenario YAML from r.
func LoadScenariosFromReader(r io.Reader) ([]Scenario, error) {
	var sf scenarioFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(sf.Scenarios))
	for _, s := range sf.Scenarios {
		if s.ID == "" {
			errs = append(errs, errors.New("scenario with empty id"))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("scenario %q: duplicate id", s.ID))
		}
		seen[s.ID] = true
		if len(s.Steps) == 0 {
			errs = append(errs, fmt.Errorf("scenario %q: no steps", s.ID))
		}
		for i, st := range s.Steps {
			if st.Target == "" {
				errs = append(errs, fmt.Errorf("scenario %q step %d: empty target", s.ID, i+1))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return sf.Scenarios, nil
}

// NewLibrary assembles a Library from loaded records and cross-validates
// day references against the worksheet set.
func NewLibrary(tasks []Task, days []Day, scenarios []Scenario) (*Library, error) {
	lib := &Library{
		tasks:     make(map[int]*Task, len(tasks)),
		days:      make(map[int]Day, len(days)),
		scenarios: make(map[string]*Scenario, len(scenarios)),
	}
	for i := range tasks {
		t := &tasks[i]
		lib.tasks[t.Index] = t
		lib.order = append(lib.order, t.Index)
	}
	sort.Ints(lib.order)

	var errs []error
	for _, d := range days {
		lib.days[d.Day] = d
		if d.Day > lib.lastDay {
			lib.lastDay = d.Day
		}
		for _, idx := range d.Tasks {
			if _, ok := lib.tasks[idx]; !ok {
				errs = append(errs, fmt.Errorf("day %d references unknown worksheet %d", d.Day, idx))
			}
		}
	}
	for i := range scenarios {
		lib.scenarios[scenarios[i].ID] = &scenarios[i]
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return lib, nil
}

// Task returns the worksheet with the given index, or nil.
func (l *Library) Task(index int) *Task {
	return l.tasks[index]
}

// TotalWorksheets returns the number of worksheets in the library.
func (l *Library) TotalWorksheets() int {
	return len(l.tasks)
}

// DayTasks resolves the ordered task list for a therapy day. The second
// return is false when the day does not exist (program complete).
func (l *Library) DayTasks(day int) ([]*Task, bool) {
	d, ok := l.days[day]
	if !ok {
		return nil, false
	}
	tasks := make([]*Task, 0, len(d.Tasks))
	for _, idx := range d.Tasks {
		tasks = append(tasks, l.tasks[idx])
	}
	return tasks, true
}

// LastDay returns the highest day number in the plan, 0 when empty.
func (l *Library) LastDay() int {
	return l.lastDay
}

// Scenario returns the roleplay scenario with the given ID, or nil.
func (l *Library) Scenario(id string) *Scenario {
	return l.scenarios[id]
}

// StageWorksheets returns the tasks of the 1-based stage: worksheets
// (stage-1)*StageSize+1 through stage*StageSize, in index order.
func (l *Library) StageWorksheets(stage int) []*Task {
	if stage <= 0 {
		return nil
	}
	start := (stage-1)*StageSize + 1
	end := stage * StageSize
	var tasks []*Task
	for _, idx := range l.order {
		if idx >= start && idx <= end {
			tasks = append(tasks, l.tasks[idx])
		}
	}
	return tasks
}

// validateTask enforces per-variant field requirements.
func validateTask(t *Task) error {
	var errs []error
	if t.Index <= 0 {
		errs = append(errs, fmt.Errorf("worksheet %d: index must be positive", t.Index))
	}
	if !t.Variant.IsValid() {
		errs = append(errs, fmt.Errorf("worksheet %d: unknown variant %q", t.Index, t.Variant))
		return errors.Join(errs...)
	}

	switch t.Variant {
	case VariantNaming, VariantRoleplayStep:
		if t.Target == "" {
			errs = append(errs, fmt.Errorf("worksheet %d: %s task requires a target", t.Index, t.Variant))
		}
	case VariantCrisis, VariantMatching:
		if len(t.ValidAnswers) == 0 {
			errs = append(errs, fmt.Errorf("worksheet %d: %s task requires valid_answers", t.Index, t.Variant))
		}
		if t.FallbackCorrect == "" {
			errs = append(errs, fmt.Errorf("worksheet %d: %s task requires fallback_correct", t.Index, t.Variant))
		}
		if len(t.FallbackIncorrect) == 0 {
			errs = append(errs, fmt.Errorf("worksheet %d: %s task requires fallback_incorrect options", t.Index, t.Variant))
		}
	case VariantSequencing:
		if len(t.Steps) < 2 {
			errs = append(errs, fmt.Errorf("worksheet %d: sequencing task requires at least 2 steps", t.Index))
		}
		want := make(map[int]bool, len(t.Steps))
		for i := range t.Steps {
			want[i+1] = false
		}
		for _, s := range t.Steps {
			if _, ok := want[s.Number]; !ok || want[s.Number] {
				errs = append(errs, fmt.Errorf("worksheet %d: step numbers must be a permutation of 1..%d", t.Index, len(t.Steps)))
				break
			}
			want[s.Number] = true
		}
	}
	return errors.Join(errs...)
}

func taskID(index int) string {
	return "worksheet_" + strconv.Itoa(index)
}
