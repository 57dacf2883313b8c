package epoch

import "testing"

func TestDeferRunsImmediatelyWhenUnpinned(t *testing.T) {
	g := New()
	ran := false
	g.Defer(g.Current(), func() { ran = true })
	if !ran {
		t.Fatalf("expected Defer to run immediately with no outstanding pins")
	}
}

func TestDeferWaitsForUnpin(t *testing.T) {
	g := New()
	e := g.Pin()
	ran := false
	g.Defer(e, func() { ran = true })
	if ran {
		t.Fatalf("expected Defer to wait while reader is pinned")
	}
	g.Unpin(e)
	if !ran {
		t.Fatalf("expected Defer callback to run once the pin was released")
	}
}

func TestAdvanceReclaimsDrainedEpochs(t *testing.T) {
	g := New()
	e0 := g.Pin()
	ran := false
	g.Defer(e0, func() { ran = true })

	g.Advance() // e0 still pinned, should not reclaim
	if ran {
		t.Fatalf("did not expect reclamation while e0 still pinned")
	}

	g.Unpin(e0)
	if !ran {
		t.Fatalf("expected reclamation once e0 unpinned")
	}
}

func TestMultipleReadersSameEpoch(t *testing.T) {
	g := New()
	e := g.Pin()
	e2 := g.Pin()
	if e != e2 {
		t.Fatalf("expected both pins to observe the same current epoch")
	}
	ran := false
	g.Defer(e, func() { ran = true })
	g.Unpin(e)
	if ran {
		t.Fatalf("did not expect reclamation with one reader still pinned")
	}
	g.Unpin(e2)
	if !ran {
		t.Fatalf("expected reclamation once all readers of the epoch unpinned")
	}
}
