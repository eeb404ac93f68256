package engine_test

import (
	"math/rand/v2"
	"testing"

	"github.com/aphelia-health/aphelia/internal/curriculum"
	"github.com/aphelia-health/aphelia/internal/engine"
)

func testBoard() *engine.Board {
	steps := []curriculum.Step{
		{Number: 1, Description: "one"},
		{Number: 2, Description: "two"},
	}
	return engine.NewBoard(steps, rand.New(rand.NewPCG(1, 2)))
}

func TestBoardPlaceErrors(t *testing.T) {
	t.Parallel()
	b := testBoard()

	if err := b.Place(5); err == nil {
		t.Error("out-of-range place succeeded")
	}
	if err := b.Place(0); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := b.Place(0); err == nil {
		t.Error("double place of the same item succeeded")
	}
}

func TestBoardRemoveEmptySlot(t *testing.T) {
	t.Parallel()
	b := testBoard()

	if err := b.Remove(0); err != nil {
		t.Errorf("Remove on empty slot: %v", err)
	}
	if err := b.Remove(7); err == nil {
		t.Error("out-of-range remove succeeded")
	}
}

func TestBoardWinByCanonicalNumber(t *testing.T) {
	t.Parallel()
	b := testBoard()

	// Place items in canonical order regardless of shuffle position.
	for want := 1; want <= 2; want++ {
		v := b.View()
		for i, desc := range v.Available {
			num := 1
			if desc == "two" {
				num = 2
			}
			if num == want && !v.Placed[i] {
				if err := b.Place(i); err != nil {
					t.Fatalf("Place(%d): %v", i, err)
				}
				break
			}
		}
	}
	if !b.Full() {
		t.Fatal("board not full")
	}
	if !b.Win() {
		t.Error("canonical order did not win")
	}
}
