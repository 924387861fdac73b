package ldapsync

import (
	"testing"

	"github.com/miekg/dns"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("dns.NewRR(%q): %v", s, err)
	}
	return rr
}

func TestMinimalDiffAddAndDelete(t *testing.T) {
	old := []dns.RR{mustRR(t, "www.example.com. 3600 IN A 192.0.2.1")}
	updated := []dns.RR{mustRR(t, "www.example.com. 3600 IN A 192.0.2.2")}

	diff := MinimalDiff("www.example.com.", dns.TypeA, old, updated)
	if len(diff) != 2 {
		t.Fatalf("expected one DEL and one ADD, got %d tuples: %+v", len(diff), diff)
	}
	var sawDel, sawAdd bool
	for _, d := range diff {
		switch d.Op {
		case DiffDel:
			sawDel = true
		case DiffAdd:
			sawAdd = true
		}
	}
	if !sawDel || !sawAdd {
		t.Fatalf("expected both a DEL and an ADD, got %+v", diff)
	}
}

func TestMinimalDiffCancelsIdenticalRecords(t *testing.T) {
	rrs := []dns.RR{mustRR(t, "www.example.com. 3600 IN A 192.0.2.1")}
	diff := MinimalDiff("www.example.com.", dns.TypeA, rrs, rrs)
	if len(diff) != 0 {
		t.Fatalf("identical RRsets should produce an empty diff, got %+v", diff)
	}
}

func TestSerialStrictlyGreaterWraparound(t *testing.T) {
	cases := []struct {
		a, b uint32
		want bool
	}{
		{2, 1, true},
		{1, 2, false},
		{1, 1, false},
		{1, 0xFFFFFFFF, true}, // wraps: 1 is "after" the max value
		{0xFFFFFFFF, 1, false},
	}
	for _, c := range cases {
		if got := serialStrictlyGreater(c.a, c.b); got != c.want {
			t.Errorf("serialStrictlyGreater(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestBumpSerialUnixTimeUsesClockWhenAhead(t *testing.T) {
	old := nowUnix
	defer func() { nowUnix = old }()
	nowUnix = func() int64 { return 1000 }

	got := bumpSerialUnixTime(500)
	if got != 1000 {
		t.Errorf("bumpSerialUnixTime(500) = %d, want 1000 (clock is ahead)", got)
	}
}

func TestBumpSerialUnixTimeFallsBackToIncrement(t *testing.T) {
	old := nowUnix
	defer func() { nowUnix = old }()
	nowUnix = func() int64 { return 100 }

	got := bumpSerialUnixTime(500)
	if got != 501 {
		t.Errorf("bumpSerialUnixTime(500) = %d, want 501 (clock behind prior serial)", got)
	}
}

func TestDiffAnalyzeSerialFreshZoneBumpsFromZero(t *testing.T) {
	old := nowUnix
	defer func() { nowUnix = old }()
	nowUnix = func() int64 { return 12345 }

	soa := mustRR(t, "example.com. 3600 IN SOA ns.example.com. hostmaster.example.com. 1 3600 600 604800 3600").(*dns.SOA)
	diff := []DiffTuple{{Op: DiffAdd, Name: "example.com.", RRType: dns.TypeSOA, RR: soa}}

	result := DiffAnalyzeSerial(diff, true, false, nil)
	if !result.DataChanged {
		t.Fatal("a fresh zone's first projection is always a data change")
	}
	if !result.SerialBumped {
		t.Fatal("expected the lone ADD of an SOA to be rewritten with a bumped serial")
	}
	if result.NewSerial != 12345 {
		t.Errorf("NewSerial = %d, want 12345", result.NewSerial)
	}
}

func TestDiffAnalyzeSerialDiscardsNoOpBackwardSerial(t *testing.T) {
	old := nowUnix
	defer func() { nowUnix = old }()
	nowUnix = func() int64 { return 12345 }

	oldSOA := mustRR(t, "example.com. 3600 IN SOA ns.example.com. hostmaster.example.com. 100 3600 600 604800 3600").(*dns.SOA)
	sameSOA := mustRR(t, "example.com. 3600 IN SOA ns.example.com. hostmaster.example.com. 50 3600 600 604800 3600").(*dns.SOA)

	diff := []DiffTuple{
		{Op: DiffDel, Name: "example.com.", RRType: dns.TypeSOA, RR: oldSOA},
		{Op: DiffAdd, Name: "example.com.", RRType: dns.TypeSOA, RR: sameSOA},
	}

	// Nothing but the SOA tuple changed, and the directory's own serial (50)
	// moves backward relative to the currently loaded one (100): this is a
	// no-op edit and must be discarded outright, not rewritten with a fresh
	// bump as if it were a real change.
	result := DiffAnalyzeSerial(diff, false, true, oldSOA)
	if !result.Discard {
		t.Fatal("expected a no-op diff with a backward-moving serial to be discarded")
	}
	if result.Diff != nil {
		t.Errorf("expected a discarded analysis to carry a nil diff, got %+v", result.Diff)
	}
	if result.SerialBumped {
		t.Fatal("a discarded diff must not also report a serial bump")
	}
}

func TestDiffAnalyzeSerialRewritesNonAdvancingSerialWhenDataChanged(t *testing.T) {
	old := nowUnix
	defer func() { nowUnix = old }()
	nowUnix = func() int64 { return 12345 }

	oldSOA := mustRR(t, "example.com. 3600 IN SOA ns.example.com. hostmaster.example.com. 100 3600 600 604800 3600").(*dns.SOA)
	sameSOA := mustRR(t, "example.com. 3600 IN SOA ns.example.com. hostmaster.example.com. 50 3600 600 604800 3600").(*dns.SOA)
	a := mustRR(t, "www.example.com. 3600 IN A 192.0.2.9")

	diff := []DiffTuple{
		{Op: DiffAdd, Name: "www.example.com.", RRType: dns.TypeA, RR: a},
		{Op: DiffDel, Name: "example.com.", RRType: dns.TypeSOA, RR: oldSOA},
		{Op: DiffAdd, Name: "example.com.", RRType: dns.TypeSOA, RR: sameSOA},
	}

	// A real record change accompanies the same non-advancing directory
	// serial (50 behind 100): unlike the no-op case, this diff carries a
	// genuine data change, so it must be rewritten with a fresh clock-based
	// serial rather than discarded.
	result := DiffAnalyzeSerial(diff, false, true, oldSOA)
	if result.Discard {
		t.Fatal("a diff with a real data change must never be discarded")
	}
	if !result.SerialBumped {
		t.Fatal("expected a non-advancing directory serial to be rewritten")
	}
	if result.NewSerial != 12345 {
		t.Errorf("NewSerial = %d, want 12345", result.NewSerial)
	}
}

func TestDiffAnalyzeSerialRealChangeWithNoSOATupleSynthesizesOne(t *testing.T) {
	old := nowUnix
	defer func() { nowUnix = old }()
	nowUnix = func() int64 { return 99999 }

	currentSOA := mustRR(t, "example.com. 3600 IN SOA ns.example.com. hostmaster.example.com. 100 3600 600 604800 3600").(*dns.SOA)
	a := mustRR(t, "www.example.com. 3600 IN A 192.0.2.5")

	diff := []DiffTuple{{Op: DiffAdd, Name: "www.example.com.", RRType: dns.TypeA, RR: a}}
	result := DiffAnalyzeSerial(diff, false, true, currentSOA)

	if !result.SerialBumped {
		t.Fatal("a real data change with no SOA tuple must get one synthesized")
	}
	if result.NewSerial != 99999 {
		t.Errorf("NewSerial = %d, want 99999", result.NewSerial)
	}
	if len(result.Diff) != 3 {
		t.Fatalf("expected the original tuple plus a synthesized SOA DEL/ADD pair, got %d: %+v", len(result.Diff), result.Diff)
	}
}
