package ldapsync

import (
	"strings"

	"github.com/miekg/dns"
)

// DiffOp is the kind of mutation a DiffTuple carries.
type DiffOp uint8

const (
	DiffDel DiffOp = iota + 1
	DiffAdd
)

// DiffTuple is a single add-or-delete operation on one RR, the atom both
// the projector and the record updater apply against a RawDatabase and
// append to a Journal.
type DiffTuple struct {
	Op     DiffOp
	Name   string
	RRType uint16
	RR     dns.RR
}

// MinimalDiff compares the old and new RRsets at one owner for rrtype and
// returns the tuples needed to turn old into new, with any delete+add pair
// for an identical record cancelled out so the result is strictly minimal:
// no tuple in the diff has a matching cancelling counterpart.
func MinimalDiff(owner string, rrtype uint16, oldrrs, newrrs []dns.RR) []DiffTuple {
	var tuples []DiffTuple

	for _, orr := range oldrrs {
		matched := false
		for _, nrr := range newrrs {
			if dns.IsDuplicate(orr, nrr) {
				matched = true
				break
			}
		}
		if !matched {
			tuples = append(tuples, DiffTuple{Op: DiffDel, Name: owner, RRType: rrtype, RR: orr})
		}
	}

	for _, nrr := range newrrs {
		matched := false
		for _, orr := range oldrrs {
			if dns.IsDuplicate(nrr, orr) {
				matched = true
				break
			}
		}
		if !matched {
			tuples = append(tuples, DiffTuple{Op: DiffAdd, Name: owner, RRType: rrtype, RR: nrr})
		}
	}

	return tuples
}

// MinimalZoneDiff runs MinimalDiff across every RR-type present in either
// the live node or the freshly parsed desired set, unioning the type set
// so a type that is wholly removed still produces DEL tuples.
func MinimalZoneDiff(owner string, live Node, desired map[uint16][]dns.RR) []DiffTuple {
	types := map[uint16]bool{}
	if live != nil {
		for _, rrset := range live.AllRRsets() {
			types[rrset.RRtype] = true
		}
	}
	for t := range desired {
		types[t] = true
	}

	var out []DiffTuple
	for rrtype := range types {
		var oldrrs []dns.RR
		if live != nil {
			if rrset, ok := live.RRset(rrtype); ok {
				oldrrs = rrset.RRs
			}
		}
		out = append(out, MinimalDiff(owner, rrtype, oldrrs, desired[rrtype])...)
	}
	return out
}

// soaPair is a matched DEL/ADD pair of SOA tuples found in a diff.
type soaPair struct {
	delIdx, addIdx int
	old, new       *dns.SOA
}

func findSOAPair(diff []DiffTuple) (soaPair, bool) {
	var pair soaPair
	pair.delIdx, pair.addIdx = -1, -1
	for i, t := range diff {
		soa, ok := t.RR.(*dns.SOA)
		if !ok {
			continue
		}
		if t.Op == DiffDel && pair.delIdx == -1 {
			pair.delIdx = i
			pair.old = soa
		}
		if t.Op == DiffAdd && pair.addIdx == -1 {
			pair.addIdx = i
			pair.new = soa
		}
	}
	return pair, pair.delIdx != -1 && pair.addIdx != -1
}

// soaEqualIgnoringSerial reports whether two SOA records are identical
// apart from their Serial field.
func soaEqualIgnoringSerial(a, b *dns.SOA) bool {
	return strings.EqualFold(a.Ns, b.Ns) &&
		strings.EqualFold(a.Mbox, b.Mbox) &&
		a.Refresh == b.Refresh &&
		a.Retry == b.Retry &&
		a.Expire == b.Expire &&
		a.Minttl == b.Minttl
}

// hasNonSOATuple reports whether diff carries any tuple other than an SOA
// add/delete.
func hasNonSOATuple(diff []DiffTuple) bool {
	for _, t := range diff {
		if _, ok := t.RR.(*dns.SOA); !ok {
			return true
		}
	}
	return false
}

// SerialAnalysis is the outcome of DiffAnalyzeSerial: whether the zone's
// data actually changed, and the (possibly synthesized or rewritten) diff
// to apply.
type SerialAnalysis struct {
	DataChanged  bool
	Diff         []DiffTuple
	NewSerial    uint32
	SerialBumped bool
	Discard      bool
}

// DiffAnalyzeSerial implements the projector's SOA-serial bookkeeping: it
// decides whether the diff represents a real data change, ensures a
// data-changing diff always carries a strictly advancing SOA serial, and
// discards diffs that would otherwise move the serial backward with no
// real change.
func DiffAnalyzeSerial(diff []DiffTuple, freshZone bool, syncFinished bool, currentSOA *dns.SOA) SerialAnalysis {
	dataChanged := hasNonSOATuple(diff) || freshZone || !syncFinished

	pair, havePair := findSOAPair(diff)
	if havePair && !soaEqualIgnoringSerial(pair.old, pair.new) {
		dataChanged = true
	}

	result := SerialAnalysis{DataChanged: dataChanged, Diff: diff}

	// A lone ADD of an SOA with no matching DEL means the apex had no prior
	// SOA at all: a fresh zone's first projection. There is no old serial to
	// compare against, so the directory's literal value is always replaced
	// with a freshly bumped one rather than compared for monotonicity.
	if !havePair && pair.addIdx != -1 && pair.delIdx == -1 {
		rewritten := pair.new.Copy().(*dns.SOA)
		rewritten.Serial = bumpSerialUnixTime(0)
		result.DataChanged = true
		result.Diff = append([]DiffTuple{}, diff...)
		result.Diff[pair.addIdx].RR = rewritten
		result.NewSerial = rewritten.Serial
		result.SerialBumped = true
		return result
	}

	if dataChanged && !havePair {
		if currentSOA == nil {
			return result
		}
		newSOA := currentSOA.Copy().(*dns.SOA)
		newSOA.Serial = bumpSerialUnixTime(currentSOA.Serial)
		result.Diff = append(append([]DiffTuple{}, diff...),
			DiffTuple{Op: DiffDel, Name: currentSOA.Hdr.Name, RRType: dns.TypeSOA, RR: currentSOA},
			DiffTuple{Op: DiffAdd, Name: currentSOA.Hdr.Name, RRType: dns.TypeSOA, RR: newSOA},
		)
		result.NewSerial = newSOA.Serial
		result.SerialBumped = true
		return result
	}

	if havePair {
		// No other data changed: the only question is whether the directory's
		// own serial already advanced on its own. If it didn't, this diff is
		// a no-op (or a backward/equal serial edit) and must be discarded
		// rather than given a fresh bump, per the SOA-monotonicity rule.
		if !dataChanged {
			if !serialStrictlyGreater(pair.new.Serial, pair.old.Serial) {
				result.Discard = true
				result.Diff = nil
			}
			return result
		}

		needsRewrite := !serialStrictlyGreater(pair.new.Serial, pair.old.Serial) || freshZone || !syncFinished
		if needsRewrite {
			rewritten := pair.new.Copy().(*dns.SOA)
			rewritten.Serial = bumpSerialUnixTime(pair.old.Serial)
			result.Diff = append([]DiffTuple{}, diff...)
			result.Diff[pair.addIdx].RR = rewritten
			result.NewSerial = rewritten.Serial
			result.SerialBumped = true
			return result
		}
	}

	return result
}

// serialStrictlyGreater implements the wrap-aware SOA serial comparison
// from RFC 1982: a is strictly greater than b.
func serialStrictlyGreater(a, b uint32) bool {
	return a != b && (a-b) < (1 << 31)
}

// bumpSerialUnixTime implements the "unix-time update method": the new
// serial is the current unix time if that is strictly greater than the
// prior serial, otherwise the prior serial plus one.
func bumpSerialUnixTime(prior uint32) uint32 {
	now := uint32(currentUnixTime())
	if serialStrictlyGreater(now, prior) {
		return now
	}
	return prior + 1
}
