// Package worksheet sequences ordered task lists for one therapy session.
//
// A Sequencer walks a day's worksheets (or a roleplay scenario's steps) one
// task at a time. The caller drives a task to success through the trial
// engine, then calls Advance; exhausting the list fires the completion
// callback exactly once. Progress persistence is the caller's job.
package worksheet

import (
	"sync"

	"github.com/aphelia-health/aphelia/internal/curriculum"
)

// Sequencer holds an ordered task list and the current position. Safe for
// concurrent use.
type Sequencer struct {
	mu         sync.Mutex
	tasks      []*curriculum.Task
	index      int
	done       bool
	onComplete func()
}

// New creates a Sequencer over tasks. onComplete may be nil; when set it is
// invoked exactly once, when Advance moves past the last task. An empty
// task list starts completed and never invokes onComplete.
func New(tasks []*curriculum.Task, onComplete func()) *Sequencer {
	return &Sequencer{
		tasks:      append([]*curriculum.Task(nil), tasks...),
		done:       len(tasks) == 0,
		onComplete: onComplete,
	}
}

// NewScenario creates a Sequencer over the steps of a roleplay scenario,
// each synthesised as a roleplay-step task.
func NewScenario(s *curriculum.Scenario, onComplete func()) *Sequencer {
	tasks := make([]*curriculum.Task, len(s.Steps))
	for i := range s.Steps {
		tasks[i] = curriculum.StepTask(s, i)
	}
	return New(tasks, onComplete)
}

// Current returns the active task, or nil once the list is exhausted.
func (s *Sequencer) Current() *curriculum.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	return s.tasks[s.index]
}

// Advance moves to the next task after a verified success of the current
// one. It returns the new active task, or (nil, true) when the list is
// exhausted; the first exhausting call invokes the completion callback.
// Calls after completion stay at (nil, true) without re-firing it.
func (s *Sequencer) Advance() (next *curriculum.Task, done bool) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil, true
	}
	s.index++
	if s.index < len(s.tasks) {
		next = s.tasks[s.index]
		s.mu.Unlock()
		return next, false
	}
	s.done = true
	cb := s.onComplete
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil, true
}

// Index returns the zero-based position of the active task. After
// completion it equals Len.
func (s *Sequencer) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index > len(s.tasks) {
		return len(s.tasks)
	}
	return s.index
}

// Len returns the number of tasks in the list.
func (s *Sequencer) Len() int {
	return len(s.tasks)
}

// Done reports whether the list is exhausted.
func (s *Sequencer) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
