package ldapsync

import (
	"errors"
	"testing"
	"time"
)

func TestSearchSuggestsDivergence(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{ErrShutdown, false},
		{ErrSoftQuota, false},
		{ErrNotConnected, false},
		{ErrTimeout, true},
		{ErrBadZone, true},
	}
	for _, c := range cases {
		if got := searchSuggestsDivergence(c.err); got != c.want {
			t.Errorf("searchSuggestsDivergence(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

// fakeSearch delivers one Entry and one RefreshDone callback, then blocks
// until stopCh closes.
type fakeSearch struct {
	ran chan struct{}
}

func (f *fakeSearch) Run(conn Conn, base, filter string, stopCh <-chan struct{}, cb PersistentSearchCallbacks) error {
	cb.Entry(base, ChangeModify, map[string][]string{"idnsAllowDynUpdate": {"TRUE"}})
	cb.RefreshDone()
	close(f.ran)
	<-stopCh
	return nil
}

func TestConsumerRunDeliversEntryAndRefreshDoneThenStopsCleanly(t *testing.T) {
	inst := newTestInstance()
	gotEntry := make(chan string, 1)
	d := newTestDispatcher(inst, func(i *Instance, e *Entry) error {
		gotEntry <- e.DN
		return nil
	}, nil, nil)

	conn := &fakeConn{}
	reserved := NewReservedConn(func() (Conn, error) { return conn, nil }, BindNone, Credentials{}, 0, nil)
	search := &fakeSearch{ran: make(chan struct{})}
	c := NewConsumer(inst, reserved, search, d)

	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()

	select {
	case <-search.ran:
	case <-time.After(time.Second):
		t.Fatal("expected the fake search to run")
	}
	select {
	case dn := <-gotEntry:
		if dn != testBase {
			t.Errorf("ConfigHandler received DN %q, want %q", dn, testBase)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the Entry callback to reach the dispatcher")
	}
	if inst.Barrier.State() != SyncFinished {
		t.Fatal("expected RefreshDone to flip the barrier to Finished")
	}

	c.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after Stop")
	}
}

func TestConsumerRunOnceTaintsOnUnexpectedSearchError(t *testing.T) {
	inst := newTestInstance()
	d := newTestDispatcher(inst, nil, nil, nil)
	conn := &fakeConn{}
	reserved := NewReservedConn(func() (Conn, error) { return conn, nil }, BindNone, Credentials{}, 0, nil)

	search := erroringSearch{err: ErrTimeout}
	c := NewConsumer(inst, reserved, search, d)
	c.runOnce()

	tainted, _ := inst.TaintStatus()
	if !tainted {
		t.Fatal("an unexpected persistent-search error should taint the instance")
	}
}

type erroringSearch struct{ err error }

func (s erroringSearch) Run(conn Conn, base, filter string, stopCh <-chan struct{}, cb PersistentSearchCallbacks) error {
	return s.err
}

func TestConsumerWaitBoundReturnsShutdownWhenStopped(t *testing.T) {
	inst := newTestInstance()
	d := newTestDispatcher(inst, nil, nil, nil)
	reserved := NewReservedConn(func() (Conn, error) { return nil, errors.New("dial refused") }, BindNone, Credentials{}, 0, nil)
	c := NewConsumer(inst, reserved, &fakeSearch{ran: make(chan struct{})}, d)

	c.Stop()
	if _, err := c.waitBound(); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown once stopped, got %v", err)
	}
}
