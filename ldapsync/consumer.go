package ldapsync

import (
	"errors"
	"log"
	"sync"
	"time"
)

// PersistentSearch is the directory library's persistent-refresh search
// seam (syncrepl/LDAP Content Sync in practice). The protocol mechanics
// themselves are an out-of-scope external collaborator per section 1; this
// engine only ever calls Run and reacts to the callbacks it invokes. Run
// blocks until the server drops the search, the connection fails, or
// stopCh is closed, and must itself observe stopCh promptly rather than
// only between callbacks.
type PersistentSearch interface {
	Run(conn Conn, base, filter string, stopCh <-chan struct{}, cb PersistentSearchCallbacks) error
}

// PersistentSearchCallbacks are the three events a persistent-refresh
// search can deliver, per 4.G step 5.
type PersistentSearchCallbacks struct {
	Entry       func(dn string, change ChangeType, attrs map[string][]string)
	RefreshDone func()
	Reference   func()
}

const entryFilter = "(|(objectClass=idnsConfigObject)(objectClass=idnsZone)(objectClass=idnsForwardZone)(objectClass=idnsRecord))"

// Consumer implements component G: the long-running change-stream task
// that owns the reserved connection, drives its reconnect loop, and feeds
// entry events to the dispatcher. Cancellation follows the teacher's own
// stop-channel idiom (closed once, observed everywhere) rather than
// context.Context.
type Consumer struct {
	Inst       *Instance
	Reserved   *ReservedConn
	Search     PersistentSearch
	Dispatcher *Dispatcher

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewConsumer builds a consumer ready for Run.
func NewConsumer(inst *Instance, reserved *ReservedConn, search PersistentSearch, dispatcher *Dispatcher) *Consumer {
	return &Consumer{
		Inst:       inst,
		Reserved:   reserved,
		Search:     search,
		Dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
	}
}

// Stop implements the cancellation protocol from 4.G's final paragraph:
// close the stop channel so every blocking wait -- the bind-retry sleep,
// the persistent search itself -- observes it and unwinds. Safe to call
// more than once; does not wait for Run to return.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Consumer) exiting() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// Run implements 4.G's outer reconnect-and-restart loop. It blocks until
// Stop is called; callers typically invoke it in its own goroutine.
func (c *Consumer) Run() {
	for !c.exiting() {
		c.runOnce()
	}
}

// runOnce implements 4.G steps 1-6 for a single reserved-connection
// lifetime.
func (c *Consumer) runOnce() {
	// Step 1: reset sync state to Init.
	c.Inst.Barrier.Reset()

	// Step 2: remove stale on-disk zone files for previously registered
	// zones; projection re-materializes them as entries arrive again.
	if c.Inst.FS != nil {
		c.Inst.Register.Iterate(func(origin Name) {
			if err := c.Inst.FS.Remove(origin); err != nil {
				log.Printf("ldapsync[%s]: removing stale zone files for %s: %v", c.Inst.Name, origin.MasterText(), err)
			}
		})
	}

	// Step 3: block until the reserved connection is bound, honoring
	// shutdown at each wait.
	conn, err := c.waitBound()
	if err != nil {
		if !errors.Is(err, ErrShutdown) {
			log.Printf("ldapsync[%s]: reserved connection: %v", c.Inst.Name, err)
		}
		return
	}

	// Step 4-5: open the persistent-refresh search and deliver callbacks.
	cb := PersistentSearchCallbacks{
		Entry: func(dn string, change ChangeType, attrs map[string][]string) {
			c.Dispatcher.Acquire()
			c.Dispatcher.Dispatch(dn, change, attrs)
		},
		RefreshDone: func() {
			if err := c.Inst.Barrier.WaitRefreshDone(c.Inst.PublishPending); err != nil {
				log.Printf("ldapsync[%s]: publishing pending zones after refresh: %v", c.Inst.Name, err)
			}
		},
		Reference: func() {
			log.Printf("ldapsync[%s]: search continuation references are not supported; ignoring", c.Inst.Name)
		},
	}

	// Step 6: when the call returns, Run calls runOnce again, which starts
	// over at step 1 (barrier reset and stale-file removal) before waiting
	// for the bind; unexpected errors taint the instance.
	if err := c.Search.Run(conn, c.Inst.Base, entryFilter, c.stopCh, cb); err != nil && !c.exiting() {
		c.Reserved.NoteDown()
		log.Printf("ldapsync[%s]: persistent search ended: %v; reconnecting", c.Inst.Name, err)
		if searchSuggestsDivergence(err) {
			c.Inst.Taint("persistent search ended: " + err.Error())
		}
	}
}

// waitBound blocks until the reserved connection reaches Bound, retrying
// with the reconnect state machine's own backoff and observing the stop
// channel between attempts.
func (c *Consumer) waitBound() (Conn, error) {
	for {
		if c.exiting() {
			return nil, ErrShutdown
		}
		conn, err := c.Reserved.Ensure(false)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, ErrSoftQuota) && !errors.Is(err, ErrNotConnected) && !errors.Is(err, ErrNoPerm) {
			return nil, err
		}
		select {
		case <-time.After(250 * time.Millisecond):
		case <-c.stopCh:
			return nil, ErrShutdown
		}
	}
}

// searchSuggestsDivergence mirrors the dispatcher's handler-error gating,
// but for the persistent search's own unexpected-end errors: an end on the
// expected shutdown/backoff sentinels is not cause to mark the instance as
// possibly diverged.
func searchSuggestsDivergence(err error) bool {
	switch {
	case errors.Is(err, ErrShutdown), errors.Is(err, ErrSoftQuota), errors.Is(err, ErrNotConnected):
		return false
	default:
		return true
	}
}
