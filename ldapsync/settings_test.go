package ldapsync

import (
	"errors"
	"testing"
)

func testDefs() []SettingDef {
	return []SettingDef{
		{Name: "dyn_update", Kind: SettingBool, Default: "false", HasDefault: true},
		{Name: "update_policy", Kind: SettingString, Default: "", HasDefault: true},
		{Name: "required_thing", Kind: SettingUint},
	}
}

func TestLayerDefaultsAndInheritance(t *testing.T) {
	global := NewLayer(nil, testDefs())
	zone := NewLayer(global, testDefs())

	b, ok := zone.GetBool("dyn_update")
	if !ok || b != false {
		t.Fatalf("expected inherited default false, got %v %v", b, ok)
	}

	if err := global.Set("dyn_update", "true"); err != nil {
		t.Fatal(err)
	}
	b, ok = zone.GetBool("dyn_update")
	if !ok || !b {
		t.Fatalf("expected zone to inherit global's true, got %v %v", b, ok)
	}

	if err := zone.Set("dyn_update", "false"); err != nil {
		t.Fatal(err)
	}
	b, _ = zone.GetBool("dyn_update")
	if b != false {
		t.Fatal("zone-local value should shadow the global value")
	}

	zone.Unset("dyn_update")
	b, _ = zone.GetBool("dyn_update")
	if !b {
		t.Fatal("after Unset, zone should resume inheriting global's true")
	}
}

func TestLayerIsFilledAndMissingRequired(t *testing.T) {
	l := NewLayer(nil, testDefs())
	if l.IsFilled() {
		t.Fatal("required_thing has no default and is unset; IsFilled should be false")
	}
	missing := l.MissingRequired()
	if len(missing) != 1 || missing[0] != "required_thing" {
		t.Fatalf("MissingRequired() = %v, want [required_thing]", missing)
	}
	if err := l.Set("required_thing", "7"); err != nil {
		t.Fatal(err)
	}
	if !l.IsFilled() {
		t.Fatal("expected IsFilled() true once required_thing is set")
	}
}

func TestLayerSetUnknownKey(t *testing.T) {
	l := NewLayer(nil, testDefs())
	if err := l.Set("nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLayerSetBadValue(t *testing.T) {
	l := NewLayer(nil, testDefs())
	if err := l.Set("dyn_update", "not-a-bool"); !errors.Is(err, ErrUnexpectedToken) {
		t.Fatalf("expected ErrUnexpectedToken, got %v", err)
	}
}

func TestUpdateFromEntrySetsAndUnsets(t *testing.T) {
	l := NewLayer(nil, testDefs())
	mapping := map[string]string{"dyn_update": "idnsAllowDynUpdate"}

	entry := NewEntry("idnsName=example.com.,dc=example,dc=com", ChangeAdd, map[string][]string{
		"idnsAllowDynUpdate": {"TRUE"},
	})
	if err := l.UpdateFromEntry(mapping, entry); err != nil {
		t.Fatal(err)
	}
	b, _ := l.GetBool("dyn_update")
	if !b {
		t.Fatal("expected dyn_update to be set true from idnsAllowDynUpdate")
	}

	entryNoAttr := NewEntry("idnsName=example.com.,dc=example,dc=com", ChangeModify, map[string][]string{})
	if err := l.UpdateFromEntry(mapping, entryNoAttr); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.GetBool("dyn_update"); !ok {
		t.Fatal("expected a value still resolvable from the default after unset")
	}
	b, _ = l.GetBool("dyn_update")
	if b != false {
		t.Fatal("expected dyn_update to fall back to its false default once the attribute disappears")
	}
}

func TestUpdateFromEntryRollbackLeavesLayerUntouched(t *testing.T) {
	l := NewLayer(nil, testDefs())
	if err := l.Set("update_policy", "grant * wildcard *;"); err != nil {
		t.Fatal(err)
	}

	mapping := map[string]string{"required_thing": "someAttr"}
	entry := NewEntry("dc=example,dc=com", ChangeAdd, map[string][]string{
		"someAttr": {"not-a-number"},
	})

	if err := l.UpdateFromEntryRollback(mapping, entry); err == nil {
		t.Fatal("expected an error from a malformed uint attribute")
	}

	v, ok := l.GetString("update_policy")
	if !ok || v != "grant * wildcard *;" {
		t.Fatalf("rollback should have left update_policy untouched, got %q %v", v, ok)
	}
}
