package ldapsync

import (
	"sync"
	"testing"
	"time"
)

func TestSyncBarrierInitialState(t *testing.T) {
	b := NewSyncBarrier()
	if b.State() != SyncInit {
		t.Fatalf("State() = %v, want SyncInit", b.State())
	}
}

func TestSyncBarrierRegisterAfterFlipReturnsFalse(t *testing.T) {
	b := NewSyncBarrier()
	if err := b.WaitRefreshDone(nil); err != nil {
		t.Fatal(err)
	}
	if b.State() != SyncFinished {
		t.Fatalf("State() = %v, want SyncFinished", b.State())
	}
	if b.Register() {
		t.Fatal("Register should return false once the barrier has flipped")
	}
}

func TestSyncBarrierWaitsForPendingBeforeFlipping(t *testing.T) {
	b := NewSyncBarrier()
	if !b.Register() {
		t.Fatal("Register should succeed while still in Init")
	}

	finished := make(chan struct{})
	go func() {
		_ = b.WaitRefreshDone(nil)
		close(finished)
	}()

	select {
	case <-finished:
		t.Fatal("WaitRefreshDone should block while a registered task is still pending")
	case <-time.After(50 * time.Millisecond):
	}

	b.Done()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("WaitRefreshDone should unblock once the pending task completes")
	}
	if b.State() != SyncFinished {
		t.Fatal("expected the barrier to flip to Finished")
	}
}

func TestSyncBarrierOnFinishRunsExactlyOnceAfterFlip(t *testing.T) {
	b := NewSyncBarrier()
	var mu sync.Mutex
	calls := 0
	err := b.WaitRefreshDone(func() error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("onFinish should run exactly once, ran %d times", calls)
	}
}

func TestSyncBarrierReset(t *testing.T) {
	b := NewSyncBarrier()
	_ = b.WaitRefreshDone(nil)
	b.Reset()
	if b.State() != SyncInit {
		t.Fatal("Reset should return the barrier to Init")
	}
	if !b.Register() {
		t.Fatal("Register should succeed again after Reset")
	}
}
