package speculative

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kestrelcore/fabric/pkg/capability"
	"github.com/kestrelcore/fabric/pkg/translate"
)

type countingCompiler struct {
	mu    sync.Mutex
	calls map[uint64]int
	fail  map[uint64]bool
}

func newCountingCompiler() *countingCompiler {
	return &countingCompiler{calls: make(map[uint64]int), fail: make(map[uint64]bool)}
}

func (c *countingCompiler) Compile(_ context.Context, addr uint64, _ capability.ExecMode) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[addr]++
	if c.fail[addr] {
		return "", errors.New("compile failed")
	}
	return "artifact", nil
}

func (c *countingCompiler) Register(addr uint64, artifact string) {}

func (c *countingCompiler) callCount(addr uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[addr]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordExecutionArmsAtThreshold(t *testing.T) {
	cache := translate.New[string]()
	compiler := newCountingCompiler()
	tr := New[string](cache, WithCompiler[string](compiler))
	tr.Start(context.Background())
	defer tr.Stop(context.Background())

	tr.RecordBranch(1, 2)
	tr.RecordExecution(1)
	tr.RecordExecution(1)
	if compiler.callCount(2) != 0 {
		t.Fatalf("expected no compile before threshold crossed")
	}
	tr.RecordExecution(1) // third execution crosses SpecThreshold

	waitFor(t, func() bool { return compiler.callCount(2) > 0 })
}

func TestRecordCallEnqueuesUnconditionally(t *testing.T) {
	cache := translate.New[string]()
	compiler := newCountingCompiler()
	tr := New[string](cache, WithCompiler[string](compiler))
	tr.Start(context.Background())
	defer tr.Stop(context.Background())

	tr.RecordCall(10, 20)
	waitFor(t, func() bool { return compiler.callCount(20) > 0 })
}

func TestTryEnqueueDropsOnDepthOverflow(t *testing.T) {
	cache := translate.New[string]()
	compiler := newCountingCompiler()
	tr := New[string](cache, WithCompiler[string](compiler))

	tr.tryEnqueue(99, MaxDepth)
	if tr.Drops() != 1 {
		t.Fatalf("expected one drop from depth overflow, got %d", tr.Drops())
	}
}

func TestTryEnqueueCountsCacheHitInsteadOfQueueing(t *testing.T) {
	cache := translate.New[string]()
	cache.TryAdd(55, 16, "already-present")
	compiler := newCountingCompiler()
	tr := New[string](cache, WithCompiler[string](compiler))

	tr.tryEnqueue(55, 0)
	if tr.Hits() != 1 {
		t.Fatalf("expected one hit, got %d", tr.Hits())
	}
	if tr.QueueLen() != 0 {
		t.Fatalf("expected nothing queued for an address already cached")
	}
}

func TestTryEnqueueDedupsInFlightAddress(t *testing.T) {
	cache := translate.New[string]()
	compiler := newCountingCompiler()
	tr := New[string](cache, WithCompiler[string](compiler))

	tr.tryEnqueue(70, 0)
	tr.tryEnqueue(70, 0)
	if tr.Drops() != 1 {
		t.Fatalf("expected second enqueue of same in-flight address to be dropped, drops=%d", tr.Drops())
	}
	if tr.QueueLen() != 1 {
		t.Fatalf("expected exactly one queued task, got %d", tr.QueueLen())
	}
}

type recordingGate struct {
	mu    sync.Mutex
	calls []int
}

func (g *recordingGate) Schedule(priority int, work func()) {
	g.mu.Lock()
	g.calls = append(g.calls, priority)
	g.mu.Unlock()
	work()
}

func TestAdmissionGateIsConsulted(t *testing.T) {
	cache := translate.New[string]()
	compiler := newCountingCompiler()
	gate := &recordingGate{}
	tr := New[string](cache, WithCompiler[string](compiler), WithAdmissionGate[string](gate))
	tr.Start(context.Background())
	defer tr.Stop(context.Background())

	tr.RecordCall(1, 2)
	waitFor(t, func() bool { return compiler.callCount(2) > 0 })

	gate.mu.Lock()
	defer gate.mu.Unlock()
	if len(gate.calls) == 0 || gate.calls[0] != PriorityLow {
		t.Fatalf("expected gate to be consulted with PriorityLow, got %v", gate.calls)
	}
}
