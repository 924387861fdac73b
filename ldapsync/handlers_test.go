package ldapsync

import "testing"

type fakeZoneFS struct {
	removed []string
}

func (f *fakeZoneFS) Paths(origin Name) (string, string) { return "raw", "journal" }
func (f *fakeZoneFS) EnsureClean(origin Name) error      { return nil }
func (f *fakeZoneFS) Remove(origin Name) error {
	f.removed = append(f.removed, origin.MasterText())
	return nil
}

func newTestInstance() *Instance {
	local := NewLayer(nil, []SettingDef{
		{Name: "dyn_update", Kind: SettingBool, Default: "false", HasDefault: true},
		{Name: "sync_ptr", Kind: SettingBool, Default: "false", HasDefault: true},
	})
	inst := NewInstance("test", testBase, "ns.example.com.", local)
	inst.View = NewMemoryView()
	return inst
}

func TestConfigureInstanceSetsDefaultsAndForwarders(t *testing.T) {
	inst := newTestInstance()
	entry := NewEntry(testBase, ChangeModify, map[string][]string{
		"idnsAllowDynUpdate": {"TRUE"},
		"idnsAllowSyncPTR":   {"FALSE"},
		"idnsForwardPolicy":  {"First"},
		"idnsForwarders":     {"192.0.2.53"},
	})
	if err := ConfigureInstance(inst, entry); err != nil {
		t.Fatal(err)
	}
	if b, _ := inst.GlobalSettings.GetBool("dyn_update"); !b {
		t.Error("expected dyn_update true")
	}
	if b, _ := inst.GlobalSettings.GetBool("sync_ptr"); b {
		t.Error("expected sync_ptr false")
	}
	policy, forwarders := inst.DefaultForwarders()
	if policy != "first" || len(forwarders) != 1 || forwarders[0] != "192.0.2.53" {
		t.Errorf("DefaultForwarders() = %q, %v, want \"first\", [192.0.2.53]", policy, forwarders)
	}
}

func newTestProjector(inst *Instance, fs ZoneFS) *Projector {
	return &Projector{
		Inst:       inst,
		Forward:    NoopForwardTable{},
		ACL:        NoopACLTable{},
		Policy:     NoopUpdatePolicyTable{},
		FS:         fs,
		NewJournal: func(Name) Journal { return NopJournal{} },
	}
}

func TestZoneHandlerDeleteRemovesMasterZone(t *testing.T) {
	inst := newTestInstance()
	fs := &fakeZoneFS{}
	p := newTestProjector(inst, fs)

	origin, _ := ParseMasterName("example.com.")
	inst.Register.Add(origin, "idnsName=example.com.,"+testBase, ZoneHandles{Raw: NewMemoryZoneDB(origin)})

	entry := NewEntry("idnsName=example.com.,"+testBase, ChangeDelete, nil)
	entry.Classes = ClassMasterZone
	owner := ParsedOwner{Owner: origin, Origin: origin, IsZone: true}

	if err := p.ZoneHandler(inst, entry, owner); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := inst.Register.Get(origin); ok {
		t.Fatal("expected the zone registration to be removed")
	}
	if len(fs.removed) != 1 || fs.removed[0] != "example.com." {
		t.Fatalf("expected the zone's files to be removed, got %v", fs.removed)
	}
}

func TestZoneHandlerInactiveZoneIsRemoved(t *testing.T) {
	inst := newTestInstance()
	fs := &fakeZoneFS{}
	p := newTestProjector(inst, fs)

	origin, _ := ParseMasterName("example.com.")
	inst.Register.Add(origin, "idnsName=example.com.,"+testBase, ZoneHandles{Raw: NewMemoryZoneDB(origin)})

	entry := NewEntry("idnsName=example.com.,"+testBase, ChangeModify, map[string][]string{
		"objectClass":    {"idnsZone"},
		"idnsZoneActive": {"FALSE"},
	})
	owner := ParsedOwner{Owner: origin, Origin: origin, IsZone: true}

	if err := p.ZoneHandler(inst, entry, owner); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := inst.Register.Get(origin); ok {
		t.Fatal("idnsZoneActive=FALSE should remove the zone from service")
	}
}

func TestZoneHandlerDeleteOfUnregisteredZoneIsNoop(t *testing.T) {
	inst := newTestInstance()
	p := newTestProjector(inst, &fakeZoneFS{})

	origin, _ := ParseMasterName("ghost.example.com.")
	entry := NewEntry("idnsName=ghost.example.com.,"+testBase, ChangeDelete, nil)
	entry.Classes = ClassMasterZone
	owner := ParsedOwner{Owner: origin, Origin: origin, IsZone: true}

	if err := p.ZoneHandler(inst, entry, owner); err != nil {
		t.Fatalf("deleting an unregistered zone should be a no-op, got %v", err)
	}
}

func TestInstallStandaloneForwardZoneAddsAndRemoves(t *testing.T) {
	inst := newTestInstance()
	p := newTestProjector(inst, &fakeZoneFS{})

	origin, _ := ParseMasterName("fwd.example.com.")
	entry := NewEntry("idnsName=fwd.example.com.,"+testBase, ChangeAdd, map[string][]string{
		"objectClass":       {"idnsForwardZone"},
		"idnsForwardPolicy": {"only"},
		"idnsForwarders":    {"192.0.2.1"},
	})
	owner := ParsedOwner{Owner: origin, Origin: origin, IsZone: true}

	if err := p.ZoneHandler(inst, entry, owner); err != nil {
		t.Fatal(err)
	}
	if !inst.Forward.Contains(origin) {
		t.Fatal("expected the forward register to contain the new forward zone")
	}

	removeEntry := NewEntry("idnsName=fwd.example.com.,"+testBase, ChangeDelete, nil)
	removeEntry.Classes = ClassForwardZone
	if err := p.ZoneHandler(inst, removeEntry, owner); err != nil {
		t.Fatal(err)
	}
	if inst.Forward.Contains(origin) {
		t.Fatal("expected the forward register entry to be removed")
	}
}

func TestInstallStandaloneForwardZoneEmptyPolicyDisables(t *testing.T) {
	inst := newTestInstance()
	p := newTestProjector(inst, &fakeZoneFS{})

	origin, _ := ParseMasterName("fwd2.example.com.")
	inst.Forward.Add(origin)
	entry := NewEntry("idnsName=fwd2.example.com.,"+testBase, ChangeModify, map[string][]string{
		"objectClass":       {"idnsForwardZone"},
		"idnsForwardPolicy": {"none"},
	})
	owner := ParsedOwner{Owner: origin, Origin: origin, IsZone: true}

	if err := p.ZoneHandler(inst, entry, owner); err != nil {
		t.Fatal(err)
	}
	if inst.Forward.Contains(origin) {
		t.Fatal("a policy of none should disable forwarding for the origin")
	}
}
