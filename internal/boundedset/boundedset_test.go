package boundedset

import "testing"

func TestAddAndContains(t *testing.T) {
	s := New(4)
	if !s.Add(1) {
		t.Fatalf("expected new add to return true")
	}
	if s.Add(1) {
		t.Fatalf("expected re-add of existing member to return false")
	}
	if !s.Contains(1) {
		t.Fatalf("expected member to be present")
	}
	if s.Len() != 1 {
		t.Fatalf("expected len 1, got %d", s.Len())
	}
}

func TestEvictsWhenOverCapacity(t *testing.T) {
	s := New(3)
	s.Add(1)
	s.Add(2)
	s.Add(3)
	if s.Len() != 3 {
		t.Fatalf("expected len 3, got %d", s.Len())
	}
	s.Add(4)
	if s.Len() != 3 {
		t.Fatalf("expected len to stay bounded at 3, got %d", s.Len())
	}
}

func TestEvictionKeepsSizeBoundedWhenAllReferenced(t *testing.T) {
	s := New(2)
	s.Add(1)
	s.Add(2)
	// touch 1 so it is marked referenced; 2 was just added and also
	// referenced, so the first eviction sweep clears both ref bits and
	// evicts whichever the hand lands on first -- exercise that eviction
	// keeps set size bounded rather than asserting a specific victim,
	// since the policy is explicitly approximate.
	s.Contains(1)
	s.Add(3)
	if s.Len() != 2 {
		t.Fatalf("expected len to remain 2, got %d", s.Len())
	}
}
