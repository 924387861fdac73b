package ldapsync

import "testing"

func TestParseMasterNameRoot(t *testing.T) {
	for _, s := range []string{"", "."} {
		n, err := ParseMasterName(s)
		if err != nil {
			t.Fatalf("ParseMasterName(%q): %v", s, err)
		}
		if n.NumLabels() != 0 {
			t.Fatalf("ParseMasterName(%q) = %v, want root", s, n)
		}
	}
}

func TestParseMasterNameRoundTrip(t *testing.T) {
	cases := []string{
		"example.com.",
		"foo.example.com",
		`a\.b.example.com.`,
		`weird\001name.example.com.`,
	}
	for _, s := range cases {
		n, err := ParseMasterName(s)
		if err != nil {
			t.Fatalf("ParseMasterName(%q): %v", s, err)
		}
		got := n.MasterText()
		want := s
		if want[len(want)-1] != '.' {
			want += "."
		}
		if got != want {
			t.Errorf("round trip %q: got %q, want %q", s, got, want)
		}
	}
}

func TestParseMasterNameBadEscape(t *testing.T) {
	cases := []string{
		`foo\`,
		`foo\99`,
		`foo\999.example.com.`,
	}
	for _, s := range cases {
		if _, err := ParseMasterName(s); err == nil {
			t.Errorf("ParseMasterName(%q): expected error, got nil", s)
		}
	}
}

func TestDirectoryEscapeRoundTrip(t *testing.T) {
	n, err := ParseMasterName("host-1.example.com.")
	if err != nil {
		t.Fatal(err)
	}
	esc := n.DirectoryEscape()
	back, err := ParseDirectoryEscaped(esc)
	if err != nil {
		t.Fatalf("ParseDirectoryEscaped(%q): %v", esc, err)
	}
	if !back.Equal(n) {
		t.Errorf("round trip mismatch: got %v, want %v", back, n)
	}
}

func TestDirectoryEscapeEscapesUnsafeBytes(t *testing.T) {
	raw := []byte("a b")
	esc := EscapeForDirectory(raw)
	if esc != `a\20b` {
		t.Errorf("EscapeForDirectory(%q) = %q, want %q", raw, esc, `a\20b`)
	}
	back, err := UnescapeDirectory(esc)
	if err != nil {
		t.Fatal(err)
	}
	if string(back) != string(raw) {
		t.Errorf("UnescapeDirectory(%q) = %q, want %q", esc, back, raw)
	}
}

func TestUnescapeDirectoryMalformed(t *testing.T) {
	if _, err := UnescapeDirectory(`a\ZZ`); err == nil {
		t.Error("expected error for invalid \\HH escape")
	}
	if _, err := UnescapeDirectory(`a\2`); err == nil {
		t.Error("expected error for truncated \\HH escape")
	}
}

func TestNameEqualCaseInsensitive(t *testing.T) {
	a, _ := ParseMasterName("Example.COM.")
	b, _ := ParseMasterName("example.com.")
	if !a.Equal(b) {
		t.Error("Equal should be case-insensitive")
	}
}

func TestIsStrictSubdomainOf(t *testing.T) {
	parent, _ := ParseMasterName("example.com.")
	child, _ := ParseMasterName("www.example.com.")
	other, _ := ParseMasterName("example.org.")

	if !child.IsStrictSubdomainOf(parent) {
		t.Error("www.example.com. should be a strict subdomain of example.com.")
	}
	if parent.IsStrictSubdomainOf(parent) {
		t.Error("a name is not a strict subdomain of itself")
	}
	if other.IsStrictSubdomainOf(parent) {
		t.Error("example.org. is not a subdomain of example.com.")
	}
}

func TestAboveAndConcat(t *testing.T) {
	origin, _ := ParseMasterName("example.com.")
	full, _ := ParseMasterName("www.example.com.")

	above, ok := full.Above(origin)
	if !ok {
		t.Fatal("expected Above to succeed")
	}
	if above.MasterText() != "www." {
		t.Errorf("Above = %q, want %q", above.MasterText(), "www.")
	}

	rebuilt := Concat(above, origin)
	if !rebuilt.Equal(full) {
		t.Errorf("Concat(Above(n, origin), origin) = %v, want %v", rebuilt, full)
	}
}
