package objpool

import "testing"

type scratch struct {
	N int
}

func TestGetReturnsFreshValueWhenEmpty(t *testing.T) {
	p := New(func() *scratch { return &scratch{N: -1} }, func(s *scratch) { s.N = 0 }, 4)
	v := p.Get()
	if v.N != -1 {
		t.Fatalf("expected freshly allocated value, got %+v", v)
	}
}

func TestPutResetsBeforeReuse(t *testing.T) {
	p := New(func() *scratch { return &scratch{} }, func(s *scratch) { s.N = 0 }, 4)
	v := p.Get()
	v.N = 42
	p.Put(v)

	v2 := p.Get()
	if v2.N != 0 {
		t.Fatalf("expected reused value to be reset, got %+v", v2)
	}
}

func TestOverflowBoundedDoesNotBlockPut(t *testing.T) {
	p := New(func() *scratch { return &scratch{} }, func(s *scratch) {}, 2)
	for i := 0; i < 16; i++ {
		p.Put(&scratch{N: i})
	}
	// Put must never block even once the overflow bag is full; excess
	// values fall through to sync.Pool instead.
}
