package workqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kestrelcore/fabric/pkg/capability"
)

type fakeCompiler struct {
	mu         sync.Mutex
	registered map[uint64]string
	failAddr   uint64
}

func newFakeCompiler() *fakeCompiler {
	return &fakeCompiler{registered: make(map[uint64]string)}
}

func (f *fakeCompiler) Compile(_ context.Context, addr uint64, mode capability.ExecMode) (string, error) {
	if addr == f.failAddr {
		return "", errors.New("boom")
	}
	return "artifact", nil
}

func (f *fakeCompiler) Register(addr uint64, artifact string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[addr] = artifact
}

func (f *fakeCompiler) has(addr uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.registered[addr]
	return ok
}

type fakeNotifier struct {
	mu    sync.Mutex
	addrs []uint64
}

func (n *fakeNotifier) NotifyProduced(addr uint64, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addrs = append(n.addrs, addr)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.addrs)
}

func TestWorkerPoolCompilesAndRegistersSuccessfully(t *testing.T) {
	q := NewRequestQueue()
	compiler := newFakeCompiler()
	notifier := &fakeNotifier{}
	pool := New[string](q,
		WithCompiler[string](compiler),
		WithNotifier[string](notifier),
		WithWorkers[string](2),
		WithBatchSize[string](4),
		WithFlushInterval[string](10*time.Millisecond),
	)

	pool.Start(context.Background())
	q.Enqueue(42, capability.ExecModeJIT, PriorityCritical)

	deadline := time.Now().Add(2 * time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if notifier.count() != 1 {
		t.Fatalf("expected notifier to observe one produced artifact, got %d", notifier.count())
	}
	if !compiler.has(42) {
		t.Fatalf("expected compiler.Register to have been called for addr 42")
	}
	if pool.Produced() != 1 {
		t.Fatalf("expected produced counter 1, got %d", pool.Produced())
	}

	if err := pool.Stop(); err != nil {
		t.Fatalf("unexpected error from Stop: %v", err)
	}
}

func TestWorkerPoolCountsFailuresWithoutRequeue(t *testing.T) {
	q := NewRequestQueue()
	compiler := newFakeCompiler()
	compiler.failAddr = 7
	pool := New[string](q,
		WithCompiler[string](compiler),
		WithWorkers[string](1),
		WithFlushInterval[string](10*time.Millisecond),
	)

	pool.Start(context.Background())
	q.Enqueue(7, capability.ExecModeJIT, PriorityCritical)

	deadline := time.Now().Add(2 * time.Second)
	for pool.Failures() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if pool.Failures() != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", pool.Failures())
	}
	if compiler.has(7) {
		t.Fatalf("expected failed compile not to be registered")
	}
	if q.DedupLen() != 0 {
		t.Fatalf("expected failed request not to be re-enqueued, dedup len=%d", q.DedupLen())
	}

	pool.Stop()
}

func TestNewPanicsWithoutCompiler(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when WithCompiler is omitted")
		}
	}()
	New[string](NewRequestQueue())
}
