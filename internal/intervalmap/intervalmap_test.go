package intervalmap

import "testing"

func TestTryGet_UniqueInterval(t *testing.T) {
	var m Map[string]
	if _, err := m.GetOrAdd(0x1000, 0x1010, "a"); err != nil {
		t.Fatalf("GetOrAdd: %v", err)
	}

	v, ok := m.TryGet(0x1000)
	if !ok || v != "a" {
		t.Fatalf("TryGet(start) = %v, %v", v, ok)
	}
	v, ok = m.TryGet(0x100f)
	if !ok || v != "a" {
		t.Fatalf("TryGet(end-1) = %v, %v", v, ok)
	}
	if _, ok := m.TryGet(0x1010); ok {
		t.Fatalf("TryGet(end) should miss (half-open)")
	}
}

func TestTryGet_TieBreakSmallestStartThenEnd(t *testing.T) {
	var m Map[int]
	// GetOrAdd does not check for overlaps, so both overlapping intervals
	// are stored; verify the tie-break across these two non-identical-key
	// intervals that both contain the probed point.
	if _, err := m.GetOrAdd(10, 20, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetOrAdd(5, 15, 2); err != nil {
		t.Fatal(err)
	}
	// point 12 is contained by both [5,15) and [10,20); smallest start wins.
	v, ok := m.TryGet(12)
	if !ok || v != 2 {
		t.Fatalf("expected smallest-start interval value 2, got %v ok=%v", v, ok)
	}
}

func TestAddOrUpdate_OverlapWithoutResolverErrors(t *testing.T) {
	var m Map[int]
	if _, err := m.GetOrAdd(0, 10, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddOrUpdate(5, 15, 2, nil); err != ErrOverlap {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}
}

func TestAddOrUpdate_OverlapWithResolverCalledOncePerExisting(t *testing.T) {
	var m Map[int]
	m.GetOrAdd(0, 10, 1)
	m.GetOrAdd(20, 30, 2)

	calls := 0
	_, err := m.AddOrUpdate(5, 25, 100, func(existingStart uint64, existing int) int {
		calls++
		return existing + 1000
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected resolver called exactly twice, got %d", calls)
	}
	if v, _ := m.TryGet(0); v != 1001 {
		t.Fatalf("expected resolved value 1001, got %d", v)
	}
	// Point 25 lies only in [20,30): the new [5,25) excludes it.
	if v, _ := m.TryGet(25); v != 1002 {
		t.Fatalf("expected resolved value 1002, got %d", v)
	}
}

func TestEmptyRangeRejected(t *testing.T) {
	var m Map[int]
	if _, err := m.GetOrAdd(5, 5, 0); err != ErrEmptyRange {
		t.Fatalf("expected ErrEmptyRange, got %v", err)
	}
}

func TestRemoveAndRoundTrip(t *testing.T) {
	var m Map[int]
	m.GetOrAdd(0x1000, 0x1010, 42)
	if v, ok := m.TryGet(0x1000); !ok || v != 42 {
		t.Fatalf("insert then get failed: %v %v", v, ok)
	}
	if n := m.Remove(0x1000); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, ok := m.TryGet(0x1000); ok {
		t.Fatalf("expected miss after remove")
	}
}

func TestGetOverlaps(t *testing.T) {
	var m Map[int]
	m.GetOrAdd(0, 10, 1)
	m.GetOrAdd(10, 20, 2)
	m.GetOrAdd(15, 25, 3)
	m.GetOrAdd(100, 110, 4)

	buf := make([]uint64, 8)
	n := m.GetOverlaps(5, 16, buf)
	if n != 3 {
		t.Fatalf("expected 3 overlaps, got %d (%v)", n, buf[:n])
	}
}

func TestInOrderTraversalSortedByStartThenEnd(t *testing.T) {
	var m Map[int]
	inputs := [][2]uint64{{50, 60}, {10, 20}, {30, 40}, {10, 15}, {0, 5}}
	for _, in := range inputs {
		m.GetOrAdd(in[0], in[1], 0)
	}
	list := m.AsList()
	if len(list) != len(inputs) {
		t.Fatalf("expected %d entries, got %d", len(inputs), len(list))
	}

	var prevStart, prevEnd uint64
	first := true
	var rec func(n *node[int])
	var got [][2]uint64
	rec = func(n *node[int]) {
		if n == nil {
			return
		}
		rec(n.left)
		got = append(got, [2]uint64{n.start, n.end})
		rec(n.right)
	}
	rec(m.root)
	for _, g := range got {
		if !first {
			if g[0] < prevStart || (g[0] == prevStart && g[1] < prevEnd) {
				t.Fatalf("in-order traversal not sorted: %v after (%d,%d)", g, prevStart, prevEnd)
			}
		}
		prevStart, prevEnd, first = g[0], g[1], false
	}
}

func TestClearAndCount(t *testing.T) {
	var m Map[int]
	m.GetOrAdd(0, 10, 1)
	m.GetOrAdd(20, 30, 2)
	if m.Count() != 2 {
		t.Fatalf("expected count 2, got %d", m.Count())
	}
	m.Clear()
	if m.Count() != 0 {
		t.Fatalf("expected count 0 after clear, got %d", m.Count())
	}
	if m.ContainsKey(0) {
		t.Fatalf("expected empty map after clear")
	}
}
