package ldapsync

import (
	"errors"
	"fmt"
	"log"

	"github.com/miekg/dns"
)

// RecordUpdater implements component J: the single-owner record handler.
// It runs the same diff/journal/apply logic as the projector but scoped to
// one node rather than a whole zone, and triggers a zone reload on damage.
type RecordUpdater struct {
	Inst       *Instance
	NewJournal func(origin Name) Journal
}

// UpdateRecord implements 4.J. entry carries the node's desired records (or
// is a delete event, in which case the desired state is "no rdata for this
// name"); owner identifies the node and its enclosing zone.
func (u *RecordUpdater) UpdateRecord(entry *Entry, owner ParsedOwner) error {
	task := u.Inst.Tasks.ZoneTask(owner.Origin)
	token, err := task.EnterExclusive()
	if err != nil {
		return err
	}
	defer token.Release()

	raw, _, ok := u.Inst.Register.Get(owner.Origin)
	if !ok {
		return fmt.Errorf("%w: zone %s is not registered", ErrNotFound, owner.Origin.MasterText())
	}

	desired, err := u.desiredRData(entry, owner)
	if err != nil {
		return err
	}

	if err := u.applyOnce(raw, owner, desired); err != nil {
		if !errors.Is(err, ErrNotLoaded) && !errors.Is(err, ErrBadZone) {
			return err
		}
		log.Printf("ldapsync[%s]: %v on %s; reloading and retrying once", u.Inst.Name, err, owner.Origin.MasterText())
		if loadErr := raw.Load(owner.Origin); loadErr != nil {
			return fmt.Errorf("reloading %s after %v: %w", owner.Origin.MasterText(), err, loadErr)
		}
		return u.applyOnce(raw, owner, desired)
	}
	return nil
}

// desiredRData implements 4.J steps 2-3: a delete event wants an empty
// rdata-list; otherwise parse the entry, including fake-SOA synthesis for
// the rare case where a record entry is also a master-zone object.
func (u *RecordUpdater) desiredRData(entry *Entry, owner ParsedOwner) (map[uint16][]dns.RR, error) {
	if entry.Change == ChangeDelete {
		return map[uint16][]dns.RR{}, nil
	}
	return ParseEntryRRs(owner.Owner, entry, u.Inst.FakeMName)
}

// applyOnce implements 4.J steps 1, 4-6: open a version, diff the owner
// node, prepend a bumped SOA pair once live, apply, commit, and journal.
func (u *RecordUpdater) applyOnce(raw RawDatabase, owner ParsedOwner, desired map[uint16][]dns.RR) error {
	version := raw.NewVersion()
	node := version.GetOrCreateNode(owner.Owner)
	diff := MinimalZoneDiff(owner.Owner.MasterText(), node, desired)

	syncFinished := u.Inst.Barrier.State() == SyncFinished
	var bumped *dns.SOA
	if syncFinished && len(diff) > 0 {
		if apex := version.Origin(); apex != nil {
			if rrset, ok := apex.RRset(dns.TypeSOA); ok && len(rrset.RRs) > 0 {
				if soa, ok := rrset.RRs[0].(*dns.SOA); ok {
					newSOA := soa.Copy().(*dns.SOA)
					newSOA.Serial = bumpSerialUnixTime(soa.Serial)
					diff = append([]DiffTuple{
						{Op: DiffDel, Name: soa.Hdr.Name, RRType: dns.TypeSOA, RR: soa},
						{Op: DiffAdd, Name: newSOA.Hdr.Name, RRType: dns.TypeSOA, RR: newSOA},
					}, diff...)
					bumped = newSOA
				}
			}
		}
	}

	if err := version.Apply(diff); err != nil {
		version.Abort()
		return err
	}
	if err := version.Commit(); err != nil {
		return fmt.Errorf("committing version for %s: %w", owner.Owner.MasterText(), err)
	}

	if bumped != nil && u.Inst.Write != nil {
		if err := u.Inst.Write.WriteSOA(owner.Origin, bumped); err != nil {
			log.Printf("ldapsync[%s]: writing back bumped serial for %s: %v", u.Inst.Name, owner.Origin.MasterText(), err)
		}
	}
	if syncFinished && len(diff) > 0 && u.NewJournal != nil {
		if err := u.NewJournal(owner.Origin).Append(diff); err != nil {
			log.Printf("ldapsync[%s]: writing journal for %s: %v", u.Inst.Name, owner.Origin.MasterText(), err)
		}
	}
	return nil
}
