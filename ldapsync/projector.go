package ldapsync

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/miekg/dns"
)

// ForwardTable installs/removes forward-zone delegation, and ACLTable and
// UpdatePolicyTable install the ACL and dynamic-update-policy rules that
// gate query/transfer/update traffic. All three are thin seams onto the
// embedded name-server's ACL parser and forwarding table -- out-of-scope
// external collaborators per section 1; this engine only ever calls them,
// never reimplements their rule languages.
type ForwardTable interface {
	Install(origin Name, policy string, forwarders []string) error
	Remove(origin Name) error
}

type ACLTable interface {
	InstallQuery(origin Name, rule string) error
	InstallTransfer(origin Name, rule string) error
	InstallMostRestrictive(origin Name) error
}

type UpdatePolicyTable interface {
	InstallSimpleSecure(origin Name, policy string) error
	InstallEmpty(origin Name) error
}

// ZoneFS manages the on-disk paths for a zone's raw file, journal, and
// signing-key directory (section 6). The name-server runtime owns the
// keys/ directory's contents; this engine only ever ensures the zone
// directory (with keys/) exists and the raw file starts clean, and removes
// the whole zone directory on zone teardown.
type ZoneFS interface {
	Paths(origin Name) (rawPath, journalPath string)
	EnsureClean(origin Name) error
	Remove(origin Name) error
}

// DiskZoneFS is the straightforward filesystem-backed ZoneFS: each zone
// gets <directory>/master/<filesafe-name>/{raw,journal,keys/}.
type DiskZoneFS struct {
	Directory string
}

func (fs *DiskZoneFS) zoneDir(origin Name) string {
	return filepath.Join(fs.Directory, "master", FilesafeName(origin))
}

func (fs *DiskZoneFS) Paths(origin Name) (string, string) {
	dir := fs.zoneDir(origin)
	return filepath.Join(dir, "raw"), filepath.Join(dir, "journal")
}

func (fs *DiskZoneFS) EnsureClean(origin Name) error {
	dir := fs.zoneDir(origin)
	if err := os.MkdirAll(filepath.Join(dir, "keys"), 0o750); err != nil {
		return fmt.Errorf("creating zone directory %q: %w", dir, err)
	}
	raw, _ := fs.Paths(origin)
	if err := os.Remove(raw); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale zone file %q: %w", raw, err)
	}
	return nil
}

func (fs *DiskZoneFS) Remove(origin Name) error {
	return os.RemoveAll(fs.zoneDir(origin))
}

// Projector implements component I: the master-zone handler. One call
// projects a single idnsZone directory entry into the in-memory zone
// database, applying the minimal diff with correct SOA-serial semantics
// and journal persistence.
type Projector struct {
	Inst     *Instance
	Forward  ForwardTable
	ACL      ACLTable
	Policy   UpdatePolicyTable
	FS       ZoneFS
	NewRawDB func(origin Name) RawDatabase
	NewJournal func(origin Name) Journal
}

// ProjectMasterZone runs the full state machine from 4.I:
// Creating -> DiffingVersion -> {DiffEmpty | DiffApplied -> JournalWritten -> Loaded}.
func (p *Projector) ProjectMasterZone(entry *Entry, owner ParsedOwner) error {
	origin := owner.Origin
	task := p.Inst.Tasks.ZoneTask(origin)
	token, err := task.EnterExclusive()
	if err != nil {
		return err
	}
	defer token.Release()

	if handled, err := p.applyForwarderOverride(entry, origin); handled || err != nil {
		return err
	}
	if err := p.Forward.Remove(origin); err != nil {
		log.Printf("ldapsync[%s]: removing stale forward entry for %s: %v", p.Inst.Name, origin.MasterText(), err)
	}
	p.Inst.Forward.Delete(origin)

	isNew, err := p.ensureZoneObject(entry, origin)
	if err != nil {
		return err
	}

	settings, _ := p.Inst.Register.GetSettings(origin)
	if err := p.updateSettings(settings, entry, origin); err != nil {
		if isNew {
			p.rollback(origin)
		}
		return err
	}
	p.installACLs(entry, origin)

	if isNew {
		if p.Inst.Barrier.State() == SyncFinished {
			if p.Inst.View != nil {
				if err := p.Inst.View.Publish(origin); err != nil {
					p.rollback(origin)
					return fmt.Errorf("publishing %s: %w", origin.MasterText(), err)
				}
			}
		} else {
			p.Inst.MarkPending(origin)
		}
	}

	desired, err := ParseEntryRRs(origin, entry, p.Inst.FakeMName)
	if err != nil {
		if isNew {
			p.rollback(origin)
		}
		return err
	}

	raw, _, _ := p.Inst.Register.Get(origin)
	version := raw.NewVersion()
	live := version.Origin()
	diff := MinimalZoneDiff(origin.MasterText(), live, desired)

	var currentSOA *dns.SOA
	if rrset, ok := live.RRset(dns.TypeSOA); ok && len(rrset.RRs) > 0 {
		if soa, ok := rrset.RRs[0].(*dns.SOA); ok {
			currentSOA = soa
		}
	}

	syncFinished := p.Inst.Barrier.State() == SyncFinished
	analysis := DiffAnalyzeSerial(diff, isNew, syncFinished, currentSOA)
	if analysis.Discard {
		version.Abort()
		return nil
	}

	if err := version.Apply(analysis.Diff); err != nil {
		version.Abort()
		if isNew {
			p.rollback(origin)
		}
		return fmt.Errorf("applying diff to %s: %w", origin.MasterText(), err)
	}
	if err := version.Commit(); err != nil {
		if isNew {
			p.rollback(origin)
		}
		return fmt.Errorf("committing version for %s: %w", origin.MasterText(), err)
	}

	if analysis.SerialBumped && p.Inst.Write != nil {
		var bumped *dns.SOA
		for _, t := range analysis.Diff {
			if soa, ok := t.RR.(*dns.SOA); ok && t.Op == DiffAdd {
				bumped = soa
			}
		}
		if bumped != nil {
			if err := p.Inst.Write.WriteSOA(origin, bumped); err != nil {
				log.Printf("ldapsync[%s]: writing back bumped serial for %s: %v", p.Inst.Name, origin.MasterText(), err)
			}
		}
	}

	if syncFinished && !isNew && p.NewJournal != nil {
		if err := p.NewJournal(origin).Append(analysis.Diff); err != nil {
			log.Printf("ldapsync[%s]: writing journal for %s: %v", p.Inst.Name, origin.MasterText(), err)
		}
	}

	if syncFinished && analysis.DataChanged && p.Inst.View != nil {
		if err := p.Inst.View.Unload(origin); err != nil {
			log.Printf("ldapsync[%s]: reload %s: unload: %v", p.Inst.Name, origin.MasterText(), err)
		}
		if err := raw.Load(origin); err != nil {
			log.Printf("ldapsync[%s]: reload %s: load: %v", p.Inst.Name, origin.MasterText(), err)
		}
		if err := p.Inst.View.Publish(origin); err != nil {
			log.Printf("ldapsync[%s]: reload %s: publish: %v", p.Inst.Name, origin.MasterText(), err)
		}
	}

	return nil
}

// applyForwarderOverride implements 4.I step 3: a valid forward policy
// takes over the entry entirely, deleting any existing master projection
// of the same origin. It returns handled=true when the entry was consumed
// as a forward takeover and the caller should not continue as master.
func (p *Projector) applyForwarderOverride(entry *Entry, origin Name) (bool, error) {
	policy, _ := entry.Value("idnsForwardPolicy")
	forwarders := entry.Values("idnsForwarders")
	policy = strings.ToLower(policy)

	if policy == "" || policy == "none" || len(forwarders) == 0 || !validForwarders(forwarders) {
		return false, nil
	}

	if err := p.Forward.Install(origin, policy, forwarders); err != nil {
		return true, fmt.Errorf("installing forward table entry for %s: %w", origin.MasterText(), err)
	}
	if _, _, ok := p.Inst.Register.Get(origin); ok {
		p.rollback(origin)
	}
	p.Inst.Forward.Add(origin)
	if p.Inst.View != nil {
		if err := p.Inst.View.Flush(); err != nil {
			return true, fmt.Errorf("flushing view cache after forward takeover of %s: %w", origin.MasterText(), err)
		}
	}
	return true, nil
}

func validForwarders(forwarders []string) bool {
	if len(forwarders) == 0 {
		return false
	}
	for _, f := range forwarders {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return true
}

// ensureZoneObject implements 4.I step 4: create the zone's register entry,
// on-disk paths, and settings layer on first sight.
func (p *Projector) ensureZoneObject(entry *Entry, origin Name) (isNew bool, err error) {
	if raw, secure, ok := p.Inst.Register.Get(origin); ok {
		// A zone-template placeholder is registered with an empty DN; the
		// first projection of its directory entry records the real one.
		if dn, _, _ := p.Inst.Register.GetDN(origin); dn == "" {
			settings, _ := p.Inst.Register.GetSettings(origin)
			p.Inst.Register.Add(origin, entry.DN, ZoneHandles{Raw: raw, Secure: secure, Settings: settings})
		}
		return false, nil
	}
	if p.Inst.View != nil && p.Inst.View.HasEmptyZone(origin) {
		if err := p.Inst.View.Unload(origin); err != nil {
			return false, fmt.Errorf("unloading built-in empty zone %s: %w", origin.MasterText(), err)
		}
	}
	if p.FS != nil {
		if err := p.FS.EnsureClean(origin); err != nil {
			return false, err
		}
	}
	var rawDB RawDatabase
	if p.NewRawDB != nil {
		rawDB = p.NewRawDB(origin)
	} else {
		rawDB = NewMemoryZoneDB(origin)
	}
	settings := NewLayer(p.Inst.GlobalSettings, zoneSettingDefs)
	p.Inst.Register.Add(origin, entry.DN, ZoneHandles{Raw: rawDB, Settings: settings})
	return true, nil
}

// updateSettings implements 4.I step 5: project idnsAllowDynUpdate,
// idnsAllowSyncPTR, and idnsUpdatePolicy onto the zone's settings layer and
// install (or clear) the dynamic-update policy.
func (p *Projector) updateSettings(settings *Layer, entry *Entry, origin Name) error {
	mapping := map[string]string{
		"dyn_update":    "idnsAllowDynUpdate",
		"sync_ptr":      "idnsAllowSyncPTR",
		"update_policy": "idnsUpdatePolicy",
	}
	if err := settings.UpdateFromEntryRollback(mapping, entry); err != nil {
		return err
	}
	if p.Policy == nil {
		return nil
	}
	if dynUpdate, _ := settings.GetBool("dyn_update"); dynUpdate {
		policy, _ := settings.GetString("update_policy")
		return p.Policy.InstallSimpleSecure(origin, policy)
	}
	return p.Policy.InstallEmpty(origin)
}

// installACLs implements 4.I step 6: install query/transfer ACLs, falling
// back to the most restrictive policy and an audit log entry on a parse
// failure.
func (p *Projector) installACLs(entry *Entry, origin Name) {
	if p.ACL == nil {
		return
	}
	if rule, ok := entry.Value("idnsAllowQuery"); ok {
		if err := p.ACL.InstallQuery(origin, rule); err != nil {
			log.Printf("ldapsync[%s]: AUDIT invalid idnsAllowQuery on %s (%v); installing most-restrictive policy",
				p.Inst.Name, origin.MasterText(), err)
			_ = p.ACL.InstallMostRestrictive(origin)
		}
	}
	if rule, ok := entry.Value("idnsAllowTransfer"); ok {
		if err := p.ACL.InstallTransfer(origin, rule); err != nil {
			log.Printf("ldapsync[%s]: AUDIT invalid idnsAllowTransfer on %s (%v); installing most-restrictive policy",
				p.Inst.Name, origin.MasterText(), err)
			_ = p.ACL.InstallMostRestrictive(origin)
		}
	}
}

// rollback implements 4.I step 13: undo a zone creation after a later
// failure, removing both the register entry and its on-disk files.
func (p *Projector) rollback(origin Name) {
	p.Inst.Register.Delete(origin)
	p.Inst.ClearPending(origin)
	if p.FS != nil {
		if err := p.FS.Remove(origin); err != nil {
			log.Printf("ldapsync[%s]: rollback: removing files for %s: %v", p.Inst.Name, origin.MasterText(), err)
		}
	}
}
