package ldapsync

import (
	"fmt"
	"sync"
)

// ErrAlreadyExclusive is returned by Task.EnterExclusive when another
// caller already holds the task's exclusive-mode token.
var ErrAlreadyExclusive = fmt.Errorf("%w: task is already in exclusive mode", ErrNotImplemented)

// Task is a single-threaded FIFO work queue, the shape the host scheduler
// exposes for both per-zone tasks and the one instance-wide task. Posting
// is non-blocking; work runs strictly in post order on a dedicated
// goroutine, giving the "all mutations to one zone are totally ordered"
// guarantee for free.
type Task struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	excl    bool
}

// NewTask starts a task's worker goroutine and returns it.
func NewTask() *Task {
	t := &Task{}
	t.cond = sync.NewCond(&t.mu)
	go t.run()
	return t
}

func (t *Task) run() {
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.stopped {
			t.cond.Wait()
		}
		if t.stopped && len(t.queue) == 0 {
			t.mu.Unlock()
			return
		}
		fn := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()
		fn()
	}
}

// Post enqueues fn to run after every previously posted function on this
// task. It never blocks on the queue itself.
func (t *Task) Post(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.queue = append(t.queue, fn)
	t.cond.Signal()
}

// Stop drains the remaining queue and stops the worker goroutine.
func (t *Task) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.cond.Broadcast()
	t.mu.Unlock()
}

// ExclusiveToken is released by the holder of a task's exclusive-mode
// guard, the cooperative write barrier used to serialize projection
// against record updates on the same zone.
type ExclusiveToken struct {
	t *Task
}

// Release gives up the exclusive-mode token.
func (x ExclusiveToken) Release() {
	x.t.mu.Lock()
	x.t.excl = false
	x.t.mu.Unlock()
}

// EnterExclusive is the RPC-like call a handler makes before mutating
// shared zone-manager state: it either grants the token or reports that
// the task is already exclusive (another handler is mid-mutation).
func (t *Task) EnterExclusive() (ExclusiveToken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.excl {
		return ExclusiveToken{}, ErrAlreadyExclusive
	}
	t.excl = true
	return ExclusiveToken{t: t}, nil
}

// TaskManager hands out the per-zone task for a served origin (creating
// it lazily on first use) and the single instance-wide task used for
// Config and not-yet-registered Forward/Master work.
type TaskManager struct {
	mu       sync.Mutex
	zones    map[string]*Task
	instance *Task
}

// NewTaskManager returns a manager with its instance task already
// running.
func NewTaskManager() *TaskManager {
	return &TaskManager{zones: make(map[string]*Task), instance: NewTask()}
}

// InstanceTask returns the single instance-wide task.
func (m *TaskManager) InstanceTask() *Task { return m.instance }

// ZoneTask returns the per-zone task for origin, creating it if this is
// the first time origin has been seen.
func (m *TaskManager) ZoneTask(origin Name) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := zoneKey(origin)
	t, ok := m.zones[key]
	if !ok {
		t = NewTask()
		m.zones[key] = t
	}
	return t
}

// DropZoneTask stops and forgets origin's per-zone task, on zone delete.
func (m *TaskManager) DropZoneTask(origin Name) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := zoneKey(origin)
	if t, ok := m.zones[key]; ok {
		t.Stop()
		delete(m.zones, key)
	}
}
