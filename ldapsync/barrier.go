package ldapsync

import "sync"

// SyncState is the two-state gate that tracks whether an instance's
// initial directory refresh is still running.
type SyncState uint8

const (
	SyncInit SyncState = iota + 1
	SyncFinished
)

func (s SyncState) String() string {
	if s == SyncFinished {
		return "finished"
	}
	return "init"
}

// SyncBarrier tracks "initial refresh in progress" vs "live" and gates
// publication of zones until the first-pass refresh completes. Every task
// the dispatcher posts while the state is Init (config, zone and record
// alike) registers with the barrier; the refresh-done signal waits for all of them to drain before
// flipping to Finished.
type SyncBarrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   SyncState
	pending int
}

// NewSyncBarrier returns a barrier in the Init state.
func NewSyncBarrier() *SyncBarrier {
	b := &SyncBarrier{state: SyncInit}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Reset returns the barrier to Init, for a consumer restart.
func (b *SyncBarrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = SyncInit
	b.pending = 0
}

// State reports the current sync state.
func (b *SyncBarrier) State() SyncState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Register records one Init-phase task as outstanding, and reports whether
// it actually did so (false once the barrier has already flipped to
// Finished). Callers must call Done() later if and only if Register
// returned true, so a task dispatched after the flip never decrements
// another task's still-pending count.
func (b *SyncBarrier) Register() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == SyncInit {
		b.pending++
		return true
	}
	return false
}

// Done marks one previously registered task as complete.
func (b *SyncBarrier) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending > 0 {
		b.pending--
	}
	b.cond.Broadcast()
}

// WaitRefreshDone blocks until every task registered during Init has
// completed, then flips the barrier to Finished and returns the publish
// callback's error, if any. onFinish is invoked exactly once, with the
// barrier already in the Finished state, to publish pending zones and
// load them.
func (b *SyncBarrier) WaitRefreshDone(onFinish func() error) error {
	b.mu.Lock()
	for b.pending > 0 {
		b.cond.Wait()
	}
	b.state = SyncFinished
	b.mu.Unlock()
	if onFinish != nil {
		return onFinish()
	}
	return nil
}
