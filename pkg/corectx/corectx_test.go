package corectx

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrelcore/fabric/pkg/capability"
	"github.com/kestrelcore/fabric/pkg/workqueue"
)

type sizedArtifact struct {
	name string
	size uint64
}

func (a sizedArtifact) Size() uint64 { return a.size }

func TestNewRequiresCompileFunc(t *testing.T) {
	_, err := New[sizedArtifact](Config[sizedArtifact]{})
	if err == nil {
		t.Fatalf("expected error when Compile is nil")
	}
}

func TestRequestCompileSynchronouslyInstallsOnMiss(t *testing.T) {
	var calls atomic.Int64
	compile := func(_ context.Context, addr uint64, _ capability.ExecMode) (sizedArtifact, error) {
		calls.Add(1)
		return sizedArtifact{name: "fn", size: 32}, nil
	}

	cc, err := New[sizedArtifact](Config[sizedArtifact]{Compile: compile, Workers: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cc.Start(ctx)
	defer cc.Close()

	got, err := cc.RequestCompile(ctx, 0x1000, capability.ExecModeJIT)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.name != "fn" {
		t.Fatalf("expected the synchronously compiled artifact back, got %+v", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one compile call, got %d", calls.Load())
	}

	if _, ok := cc.Cache.TryGet(0x1000); !ok {
		t.Fatalf("expected the compiled artifact to already be installed in the cache")
	}
}

func TestRequestCompilePropagatesError(t *testing.T) {
	wantErr := errors.New("jit backend unavailable")
	compile := func(_ context.Context, addr uint64, _ capability.ExecMode) (sizedArtifact, error) {
		return sizedArtifact{}, wantErr
	}
	cc, err := New[sizedArtifact](Config[sizedArtifact]{Compile: compile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cc.Close()

	_, err = cc.RequestCompile(context.Background(), 0x2000, capability.ExecModeJIT)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wantErr, got %v", err)
	}
}

func TestEnqueueSpeculativeDrainsThroughWorkerPool(t *testing.T) {
	var calls atomic.Int64
	compile := func(_ context.Context, addr uint64, _ capability.ExecMode) (sizedArtifact, error) {
		calls.Add(1)
		return sizedArtifact{name: "fn", size: 32}, nil
	}

	cc, err := New[sizedArtifact](Config[sizedArtifact]{Compile: compile, Workers: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cc.Start(ctx)
	defer cc.Close()

	if !cc.EnqueueSpeculative(0x3000, capability.ExecModeJIT, workqueue.PriorityCritical) {
		t.Fatalf("expected enqueue to succeed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := cc.Cache.TryGet(0x3000); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected compiled artifact to appear in cache")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if calls.Load() == 0 {
		t.Fatalf("expected the compile function to have been invoked")
	}
}

func TestHooksReturnsTracer(t *testing.T) {
	compile := func(_ context.Context, addr uint64, _ capability.ExecMode) (sizedArtifact, error) {
		return sizedArtifact{name: "fn", size: 1}, nil
	}
	cc, err := New[sizedArtifact](Config[sizedArtifact]{Compile: compile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cc.Close()

	var _ capability.ExecutorHooks = cc.Hooks()
}

func TestSnapshotReportsAllSubsystems(t *testing.T) {
	compile := func(_ context.Context, addr uint64, _ capability.ExecMode) (sizedArtifact, error) {
		return sizedArtifact{name: "fn", size: 1}, nil
	}
	cc, err := New[sizedArtifact](Config[sizedArtifact]{Compile: compile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cc.Close()

	snap := cc.Snapshot()
	for _, key := range []string{
		"cache_count", "queue_count", "queue_dedup", "queue_bands",
		"worker_produced", "worker_failures",
		"tracer_queue_len", "tracer_hits", "tracer_drops",
		"frame_state", "frame_sync_timeout_scale", "frame_max_work_items",
	} {
		if _, ok := snap[key]; !ok {
			t.Fatalf("expected snapshot to contain key %q", key)
		}
	}
}

func TestEndFrameDrivesFrameControllerAndScheduler(t *testing.T) {
	compile := func(_ context.Context, addr uint64, _ capability.ExecMode) (sizedArtifact, error) {
		return sizedArtifact{name: "fn", size: 1}, nil
	}
	cc, err := New[sizedArtifact](Config[sizedArtifact]{Compile: compile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cc.Close()

	cc.EndFrame(time.Now())
	cc.EndFrame(time.Now().Add(16 * time.Millisecond))
}
