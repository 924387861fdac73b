package ldapsync

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// ConfigureInstance implements the "Config → configure_instance" route
// from 4.H: project the idnsConfigObject entry's instance-wide defaults
// onto the global settings layer, and remember its forwarder defaults for
// zones that carry no forwarder attributes of their own.
func ConfigureInstance(inst *Instance, entry *Entry) error {
	mapping := map[string]string{
		"dyn_update": "idnsAllowDynUpdate",
		"sync_ptr":   "idnsAllowSyncPTR",
	}
	if err := inst.GlobalSettings.UpdateFromEntryRollback(mapping, entry); err != nil {
		return err
	}
	policy, _ := entry.Value("idnsForwardPolicy")
	inst.SetDefaultForwarders(strings.ToLower(policy), entry.Values("idnsForwarders"))
	return nil
}

// ZoneHandler implements the "Master/Forward → zone_handler" route from
// 4.H for a Projector: it funnels zone deletes, idnsZoneActive
// deactivation, master-zone projection, and standalone forward-zone
// installs through the one entry point the dispatcher posts to a zone's
// task.
func (p *Projector) ZoneHandler(inst *Instance, entry *Entry, owner ParsedOwner) error {
	origin := owner.Origin

	if entry.Change == ChangeDelete {
		if entry.Classes.Has(ClassForwardZone) && !entry.Classes.Has(ClassMasterZone) {
			return p.removeForwardZone(origin)
		}
		return p.removeMasterZone(origin)
	}

	if text, ok := entry.Value("idnsZoneActive"); ok {
		if active, err := strconv.ParseBool(text); err == nil && !active {
			return p.removeMasterZone(origin)
		}
	}

	if entry.Classes.Has(ClassMasterZone) {
		return p.ProjectMasterZone(entry, owner)
	}
	if entry.Classes.Has(ClassForwardZone) {
		return p.installStandaloneForwardZone(entry, origin)
	}
	return nil
}

// removeMasterZone tears a served master zone down: unpublish and unload
// it from the view, drop its register entry and per-zone task, and remove
// its on-disk files. Used for an explicit delete event, a zone-type change
// away from master, and idnsZoneActive=FALSE alike.
func (p *Projector) removeMasterZone(origin Name) error {
	task := p.Inst.Tasks.ZoneTask(origin)
	token, err := task.EnterExclusive()
	if err != nil {
		return err
	}
	defer token.Release()

	if _, _, ok := p.Inst.Register.Get(origin); !ok {
		return nil // already gone; delete of an unregistered zone is a no-op
	}
	if p.Inst.View != nil {
		if err := p.Inst.View.Unload(origin); err != nil {
			log.Printf("ldapsync[%s]: removing zone %s: unload: %v", p.Inst.Name, origin.MasterText(), err)
		}
	}
	p.Inst.Register.Delete(origin)
	p.Inst.ClearPending(origin)
	p.Inst.Tasks.DropZoneTask(origin)
	if p.FS != nil {
		if err := p.FS.Remove(origin); err != nil {
			return fmt.Errorf("removing files for %s: %w", origin.MasterText(), err)
		}
	}
	return nil
}

// removeForwardZone tears down a standalone idnsForwardZone entry: drop
// the forward-table installation and the forward register entry.
func (p *Projector) removeForwardZone(origin Name) error {
	if err := p.Forward.Remove(origin); err != nil {
		return fmt.Errorf("removing forward entry for %s: %w", origin.MasterText(), err)
	}
	p.Inst.Forward.Delete(origin)
	if p.Inst.View != nil {
		if err := p.Inst.View.Flush(); err != nil {
			log.Printf("ldapsync[%s]: flushing view after removing forward zone %s: %v", p.Inst.Name, origin.MasterText(), err)
		}
	}
	return nil
}

// installStandaloneForwardZone handles an idnsForwardZone object that
// carries no idnsZone classes of its own (the ordinary case; a zone that
// is both master and forward goes through ProjectMasterZone's embedded
// applyForwarderOverride instead, per design note in section 9). A
// missing or invalid forwarder list disables forwarding for the origin
// rather than erroring, matching the master-zone path's fallback.
func (p *Projector) installStandaloneForwardZone(entry *Entry, origin Name) error {
	policy, _ := entry.Value("idnsForwardPolicy")
	forwarders := entry.Values("idnsForwarders")
	policy = strings.ToLower(policy)

	if policy == "" || policy == "none" || !validForwarders(forwarders) {
		if err := p.Forward.Remove(origin); err != nil {
			log.Printf("ldapsync[%s]: removing forward entry for %s: %v", p.Inst.Name, origin.MasterText(), err)
		}
		p.Inst.Forward.Delete(origin)
		return nil
	}

	if err := p.Forward.Install(origin, policy, forwarders); err != nil {
		return fmt.Errorf("installing forward table entry for %s: %w", origin.MasterText(), err)
	}
	p.Inst.Forward.Add(origin)
	if _, _, ok := p.Inst.Register.Get(origin); ok {
		if err := p.removeMasterZone(origin); err != nil {
			return err
		}
	}
	if p.Inst.View != nil {
		if err := p.Inst.View.Flush(); err != nil {
			return fmt.Errorf("flushing view cache after installing forward zone %s: %w", origin.MasterText(), err)
		}
	}
	return nil
}

// RecordHandler implements the "Record → record_handler" route from 4.H
// for a RecordUpdater, matching the Dispatcher's handler signature.
func (u *RecordUpdater) RecordHandler(inst *Instance, entry *Entry, owner ParsedOwner) error {
	return u.UpdateRecord(entry, owner)
}
