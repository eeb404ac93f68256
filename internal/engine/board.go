package engine

import (
	"fmt"
	"math/rand/v2"

	"github.com/aphelia-health/aphelia/internal/curriculum"
)

// Board is the sequencing mini-game: N ordered slots filled from a
// shuffled pool of step cards. Items go into the first empty slot on
// placement; the win check runs only once every slot is filled and
// requires slot i to hold the step whose canonical number is i+1.
//
// Board is not synchronised; the owning Engine serialises access.
type Board struct {
	items  []curriculum.Step
	slots  []int // index into items, -1 when empty
	placed []bool
}

// NewBoard builds a board for the given steps, shuffled once with rng.
func NewBoard(steps []curriculum.Step, rng *rand.Rand) *Board {
	b := &Board{
		items:  append([]curriculum.Step(nil), steps...),
		slots:  make([]int, len(steps)),
		placed: make([]bool, len(steps)),
	}
	for i := range b.slots {
		b.slots[i] = -1
	}
	rng.Shuffle(len(b.items), func(i, j int) {
		b.items[i], b.items[j] = b.items[j], b.items[i]
	})
	return b
}

// Place puts the i-th available item into the first empty slot.
func (b *Board) Place(i int) error {
	if i < 0 || i >= len(b.items) {
		return fmt.Errorf("engine: board item %d out of range", i)
	}
	if b.placed[i] {
		return fmt.Errorf("engine: board item %d already placed", i)
	}
	for s := range b.slots {
		if b.slots[s] == -1 {
			b.slots[s] = i
			b.placed[i] = true
			return nil
		}
	}
	return fmt.Errorf("engine: board is full")
}

// Remove clears the given slot, returning its item to the pool.
func (b *Board) Remove(slot int) error {
	if slot < 0 || slot >= len(b.slots) {
		return fmt.Errorf("engine: board slot %d out of range", slot)
	}
	if i := b.slots[slot]; i != -1 {
		b.placed[i] = false
		b.slots[slot] = -1
	}
	return nil
}

// Full reports whether every slot is filled.
func (b *Board) Full() bool {
	for _, i := range b.slots {
		if i == -1 {
			return false
		}
	}
	return true
}

// Win reports whether every slot holds the step belonging there. Only
// meaningful when the board is full.
func (b *Board) Win() bool {
	for s, i := range b.slots {
		if i == -1 || b.items[i].Number != s+1 {
			return false
		}
	}
	return true
}

// Reset clears all placements and reshuffles the pool. The new shuffle
// then stays fixed until the next reset.
func (b *Board) Reset(rng *rand.Rand) {
	for i := range b.slots {
		b.slots[i] = -1
	}
	for i := range b.placed {
		b.placed[i] = false
	}
	rng.Shuffle(len(b.items), func(i, j int) {
		b.items[i], b.items[j] = b.items[j], b.items[i]
	})
}

// BoardView is a detached copy of the board's presentable state.
type BoardView struct {
	// Slots holds the placed step description per slot, "" when empty.
	Slots []string

	// Available lists all step descriptions in shuffled pool order.
	Available []string

	// Placed marks which Available entries are currently on the board.
	Placed []bool
}

// View copies the current board state.
func (b *Board) View() BoardView {
	v := BoardView{
		Slots:     make([]string, len(b.slots)),
		Available: make([]string, len(b.items)),
		Placed:    append([]bool(nil), b.placed...),
	}
	for s, i := range b.slots {
		if i != -1 {
			v.Slots[s] = b.items[i].Description
		}
	}
	for i, st := range b.items {
		v.Available[i] = st.Description
	}
	return v
}
