package ldapsync

import "testing"

func TestZoneRegisterLongestSuffixMatch(t *testing.T) {
	reg := NewZoneRegister()
	com, _ := ParseMasterName("example.com.")
	sub, _ := ParseMasterName("dept.example.com.")

	reg.Add(com, "idnsName=example.com.,dc=example,dc=com", ZoneHandles{Raw: NewMemoryZoneDB(com)})
	reg.Add(sub, "idnsName=dept.example.com.,dc=example,dc=com", ZoneHandles{Raw: NewMemoryZoneDB(sub)})

	host, _ := ParseMasterName("www.dept.example.com.")
	_, _, origin, ok := reg.GetDBs(host)
	if !ok {
		t.Fatal("expected an enclosing zone")
	}
	if !origin.Equal(sub) {
		t.Errorf("GetDBs(www.dept.example.com.) enclosing origin = %v, want %v (the more specific zone)", origin, sub)
	}

	host2, _ := ParseMasterName("www.example.com.")
	_, _, origin2, ok := reg.GetDBs(host2)
	if !ok {
		t.Fatal("expected an enclosing zone")
	}
	if !origin2.Equal(com) {
		t.Errorf("GetDBs(www.example.com.) enclosing origin = %v, want %v", origin2, com)
	}
}

func TestZoneRegisterGetDBsMiss(t *testing.T) {
	reg := NewZoneRegister()
	name, _ := ParseMasterName("nowhere.test.")
	if _, _, _, ok := reg.GetDBs(name); ok {
		t.Fatal("expected no match in an empty register")
	}
}

func TestZoneRegisterAddReplacesAndDeleteRemoves(t *testing.T) {
	reg := NewZoneRegister()
	origin, _ := ParseMasterName("example.com.")
	first := NewMemoryZoneDB(origin)
	reg.Add(origin, "dn1", ZoneHandles{Raw: first})

	raw, _, ok := reg.Get(origin)
	if !ok || raw != first {
		t.Fatal("expected to retrieve the first registration")
	}

	second := NewMemoryZoneDB(origin)
	reg.Add(origin, "dn2", ZoneHandles{Raw: second})
	raw, _, ok = reg.Get(origin)
	if !ok || raw != second {
		t.Fatal("expected Add to replace the prior registration")
	}

	reg.Delete(origin)
	if _, _, ok := reg.Get(origin); ok {
		t.Fatal("expected Delete to remove the registration")
	}
}

func TestZoneRegisterLenAndIterate(t *testing.T) {
	reg := NewZoneRegister()
	if reg.Len() != 0 {
		t.Fatal("new register should be empty")
	}
	a, _ := ParseMasterName("a.example.")
	b, _ := ParseMasterName("b.example.")
	reg.Add(a, "dnA", ZoneHandles{Raw: NewMemoryZoneDB(a)})
	reg.Add(b, "dnB", ZoneHandles{Raw: NewMemoryZoneDB(b)})

	if reg.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", reg.Len())
	}
	seen := map[string]bool{}
	reg.Iterate(func(origin Name) { seen[origin.MasterText()] = true })
	if !seen["a.example."] || !seen["b.example."] {
		t.Fatalf("Iterate did not visit both zones: %v", seen)
	}
}
