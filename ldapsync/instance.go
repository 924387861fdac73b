package ldapsync

import (
	"fmt"
	"log"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Instance is the global mutable state a running plugin instance owns: the
// zone/forward registers, the settings stack, the task manager, the sync
// barrier, the connection pool, and the handful of external-collaborator
// seams (View, ZoneFS, ForwardTable, ...) every handler reaches through.
// Design note 9 reifies what would otherwise be package-level globals (the
// Kerberos mutex aside, which is genuinely process-wide) as this explicit,
// per-dbname registry entry with its own init/teardown.
type Instance struct {
	Name string // the "dbname" dynamic-database instance identifier

	Register *ZoneRegister
	Forward  *ForwardRegister
	Tasks    *TaskManager
	Barrier  *SyncBarrier
	Pool     *Pool
	Write    *WriteBack

	GlobalSettings *Layer
	LocalSettings  *Layer

	View View
	FS   ZoneFS

	Base      string
	FakeMName string

	pendingMu sync.Mutex
	pending   map[string]Name // zone origins created but not yet published, flushed by WaitRefreshDone

	taintMu     sync.Mutex
	tainted     bool
	taintReason string

	defaultsMu      sync.Mutex
	defaultPolicy   string
	defaultForwards []string
}

// NewInstance wires an instance's in-process collaborators. External
// collaborators (View, FS, Pool, Write) are assigned by the caller (the
// daemon harness in cmd/ldapsyncd) once their real implementations exist.
func NewInstance(name, base, fakeMName string, local *Layer) *Instance {
	global := NewLayer(local, globalSettingDefs)
	return &Instance{
		Name:           name,
		Register:       NewZoneRegister(),
		Forward:        NewForwardRegister(),
		Tasks:          NewTaskManager(),
		Barrier:        NewSyncBarrier(),
		GlobalSettings: global,
		LocalSettings:  local,
		Base:           base,
		FakeMName:      fakeMName,
		pending:        make(map[string]Name),
	}
}

// globalSettingDefs and zoneSettingDefs declare the stacked settings from
// section 3: three layers (local/global/per-zone) sharing the same key
// space, read innermost-out.
var globalSettingDefs = []SettingDef{
	{Name: "dyn_update", Kind: SettingBool, Default: "false", HasDefault: true},
	{Name: "sync_ptr", Kind: SettingBool, Default: "false", HasDefault: true},
	{Name: "update_policy", Kind: SettingString, Default: "", HasDefault: true},
	{Name: "verbose_checks", Kind: SettingBool, Default: "false", HasDefault: true},
}

var zoneSettingDefs = globalSettingDefs

// MarkPending records origin as created but not yet published to the view;
// it is published and loaded once the sync barrier flips to Finished.
func (i *Instance) MarkPending(origin Name) {
	i.pendingMu.Lock()
	defer i.pendingMu.Unlock()
	i.pending[zoneKey(origin)] = origin
}

// ClearPending removes origin from the pending-publish set without
// publishing it, used when a pending zone is deleted or taken over by a
// forwarder before the initial refresh finishes.
func (i *Instance) ClearPending(origin Name) {
	i.pendingMu.Lock()
	defer i.pendingMu.Unlock()
	delete(i.pending, zoneKey(origin))
}

// PublishPending is the sync barrier's onFinish callback (4.L): publish and
// load every zone that was created during the Init phase.
func (i *Instance) PublishPending() error {
	i.pendingMu.Lock()
	pending := make([]Name, 0, len(i.pending))
	for _, n := range i.pending {
		pending = append(pending, n)
	}
	i.pending = make(map[string]Name)
	i.pendingMu.Unlock()

	var firstErr error
	for _, origin := range pending {
		if i.View == nil {
			continue
		}
		if err := i.View.Publish(origin); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publishing %s: %w", origin.MasterText(), err)
		}
		if raw, _, ok := i.Register.Get(origin); ok {
			if err := raw.Load(origin); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("loading %s: %w", origin.MasterText(), err)
			}
		}
	}
	return firstErr
}

// Taint marks the instance as possibly diverged from the directory and
// logs the operator-visible reload instruction. Section 7's general policy
// is that handler errors never terminate the consumer; a taint is the
// visible trace they leave behind instead.
func (i *Instance) Taint(reason string) {
	i.taintMu.Lock()
	i.tainted = true
	i.taintReason = reason
	i.taintMu.Unlock()
	log.Printf("ldapsync[%s]: instance tainted: %s; run a reload to resynchronize", i.Name, reason)
}

// TaintStatus reports whether the instance is tainted and why, for the
// status HTTP endpoint.
func (i *Instance) TaintStatus() (bool, string) {
	i.taintMu.Lock()
	defer i.taintMu.Unlock()
	return i.tainted, i.taintReason
}

// ClearTaint resets the taint flag after a successful operator-triggered
// reload.
func (i *Instance) ClearTaint() {
	i.taintMu.Lock()
	i.tainted = false
	i.taintReason = ""
	i.taintMu.Unlock()
}

// SetDefaultForwarders records the instance-wide fallback forward policy
// and forwarder list taken from the idnsConfigObject entry, for zones that
// carry no forwarder attributes of their own.
func (i *Instance) SetDefaultForwarders(policy string, forwarders []string) {
	i.defaultsMu.Lock()
	defer i.defaultsMu.Unlock()
	i.defaultPolicy = policy
	i.defaultForwards = append([]string(nil), forwarders...)
}

// DefaultForwarders returns the instance-wide fallback policy and
// forwarder list set by the most recent idnsConfigObject entry.
func (i *Instance) DefaultForwarders() (string, []string) {
	i.defaultsMu.Lock()
	defer i.defaultsMu.Unlock()
	return i.defaultPolicy, append([]string(nil), i.defaultForwards...)
}

// instances is the process-wide table of running instances keyed by
// dbname, consulted by dispatched tasks the way design note 9 describes:
// a cmap-backed registry rather than a bespoke locked map, matching the
// teacher's own flat-registry idiom (tdns/global.go's cmap.New[*ZoneData]).
var instances = cmap.New[*Instance]()

// RegisterInstance makes inst reachable by name for the lifetime of the
// plugin load.
func RegisterInstance(inst *Instance) { instances.Set(inst.Name, inst) }

// LookupInstance finds a previously registered instance by dbname.
func LookupInstance(name string) (*Instance, bool) { return instances.Get(name) }

// UnregisterInstance drops an instance at plugin unload.
func UnregisterInstance(name string) { instances.Remove(name) }
