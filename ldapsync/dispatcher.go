package ldapsync

import (
	"errors"
	"log"
)

// Dispatcher implements component H: classify each entry event, enforce a
// concurrency cap, and post a typed task to the appropriate per-zone or
// instance task queue.
type Dispatcher struct {
	Inst *Instance

	ConfigHandler func(*Instance, *Entry) error
	ZoneHandler   func(*Instance, *Entry, ParsedOwner) error
	RecordHandler func(*Instance, *Entry, ParsedOwner) error

	// sem enforces the dispatcher's concurrency cap (section 4.G step 5):
	// the stream consumer waits on it before materializing each entry.
	sem chan struct{}
}

// NewDispatcher returns a dispatcher that admits at most maxConcurrent
// in-flight entry events at a time.
func NewDispatcher(inst *Instance, maxConcurrent int, config func(*Instance, *Entry) error,
	zone func(*Instance, *Entry, ParsedOwner) error, record func(*Instance, *Entry, ParsedOwner) error) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		Inst:          inst,
		ConfigHandler: config,
		ZoneHandler:   zone,
		RecordHandler: record,
		sem:           make(chan struct{}, maxConcurrent),
	}
}

// Acquire blocks until a concurrency-cap slot is free, per 4.G step 5.
// Callers (the stream consumer) call this before constructing the Entry.
func (d *Dispatcher) Acquire() { d.sem <- struct{}{} }

// release frees the slot Acquire claimed; Dispatch calls it when the
// dispatched task finishes (or at once for a skipped entry), so the cap
// bounds entries that are queued or running, not only running ones.
func (d *Dispatcher) release() { <-d.sem }

// Dispatch implements 4.H: classify dn/change/attrs and post the
// appropriate handler onto the correct task. A malformed DN (multi-valued
// RDN, owner not subordinate to its zone) is logged and the entry is
// skipped, per the BadOwnerName/NotImplemented propagation rules in
// section 7 -- it never aborts the consumer.
func (d *Dispatcher) Dispatch(dn string, change ChangeType, attrs map[string][]string) {
	owner, err := NameFromDN(dn, d.Inst.Base)
	if err != nil {
		d.release()
		if errors.Is(err, ErrBadOwnerName) || errors.Is(err, ErrNotImplemented) {
			log.Printf("ldapsync[%s]: BUG skipping malformed entry %q: %v", d.Inst.Name, dn, err)
			return
		}
		log.Printf("ldapsync[%s]: skipping entry %q outside base: %v", d.Inst.Name, dn, err)
		return
	}

	entry := NewEntry(dn, change, attrs)
	switch {
	case owner.IsBase:
		entry.Classes = ClassConfig
	case change == ChangeDelete:
		entry.InferClassesOnDelete(owner, d.Inst.Register, d.Inst.Forward)
	}

	registered := d.Inst.Barrier.Register()
	finish := func() {
		if registered {
			d.Inst.Barrier.Done()
		}
		d.release()
	}

	switch {
	case owner.IsBase:
		d.Inst.Tasks.InstanceTask().Post(func() {
			defer finish()
			if d.ConfigHandler == nil {
				return
			}
			if err := d.ConfigHandler(d.Inst, entry); err != nil {
				log.Printf("ldapsync[%s]: config handler on %q: %v", d.Inst.Name, dn, err)
			}
		})

	case entry.Classes.Has(ClassMasterZone) || entry.Classes.Has(ClassForwardZone):
		d.taskFor(owner.Origin).Post(func() {
			defer finish()
			if d.ZoneHandler == nil {
				return
			}
			if err := d.ZoneHandler(d.Inst, entry, owner); err != nil {
				log.Printf("ldapsync[%s]: zone handler on %q: %v", d.Inst.Name, dn, err)
				if d.suggestsDivergence(err) {
					d.Inst.Taint("zone handler error on " + dn + ": " + err.Error())
				}
			}
		})

	default:
		d.taskFor(owner.Origin).Post(func() {
			defer finish()
			if d.RecordHandler == nil {
				return
			}
			if err := d.RecordHandler(d.Inst, entry, owner); err != nil {
				log.Printf("ldapsync[%s]: record handler on %q: %v", d.Inst.Name, dn, err)
				if d.suggestsDivergence(err) {
					d.Inst.Taint("record handler error on " + dn + ": " + err.Error())
				}
			}
		})
	}
}

// suggestsDivergence reports whether err is the kind of failure that means
// the in-memory zone may now disagree with the directory, as opposed to an
// expected race (a record racing ahead of its zone's registration, or two
// handlers briefly contending for the same task's exclusive-mode token).
func (d *Dispatcher) suggestsDivergence(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExclusive), errors.Is(err, ErrBadOwnerName), errors.Is(err, ErrNotImplemented):
		return false
	default:
		return true
	}
}

// taskFor returns the per-zone task for origin if it is already registered,
// falling back to the instance task so an unregistered zone's first
// master-zone entry (which creates the registration) is never lost.
func (d *Dispatcher) taskFor(origin Name) *Task {
	if _, _, ok := d.Inst.Register.Get(origin); ok {
		return d.Inst.Tasks.ZoneTask(origin)
	}
	return d.Inst.Tasks.InstanceTask()
}
