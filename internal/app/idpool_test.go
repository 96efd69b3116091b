package app

import (
	"testing"

	"github.com/spacehost/spacehost/internal/domain"
)

func TestIDPoolNeverHandsOutZero(t *testing.T) {
	pool := NewIDPool()
	for i := 0; i < domain.MaxPlayerID; i++ {
		id, err := pool.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if id == 0 {
			t.Fatal("allocated the reserved id 0")
		}
	}
}

func TestIDPoolUniqueness(t *testing.T) {
	pool := NewIDPool()
	seen := make(map[domain.PlayerID]bool)
	for i := 0; i < domain.MaxPlayerID; i++ {
		id, err := pool.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
	}
}

func TestIDPoolExhaustion(t *testing.T) {
	pool := NewIDPool()
	for i := 0; i < domain.MaxPlayerID; i++ {
		if _, err := pool.Allocate(); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
	if _, err := pool.Allocate(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestIDPoolReleaseMakesIDAllocatableAgain(t *testing.T) {
	pool := NewIDPool()
	ids := make([]domain.PlayerID, 0, domain.MaxPlayerID)
	for i := 0; i < domain.MaxPlayerID; i++ {
		id, _ := pool.Allocate()
		ids = append(ids, id)
	}

	pool.Release(ids[10])
	id, err := pool.Allocate()
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if id != ids[10] {
		t.Fatalf("expected released id %d, got %d", ids[10], id)
	}
}

func TestIDPoolAvoidsImmediateReuse(t *testing.T) {
	pool := NewIDPool()
	first, _ := pool.Allocate()
	pool.Release(first)

	// The scan starts after the last assignment, so the next allocation
	// must not hand the just-released id straight back.
	second, _ := pool.Allocate()
	if second == first {
		t.Fatalf("id %d reused immediately after release", first)
	}
}
