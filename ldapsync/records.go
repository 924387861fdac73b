package ldapsync

import (
	"fmt"

	"github.com/miekg/dns"
)

// ParseEntryRRs implements the RR-parsing half of 4.I step 8 and 4.J step
// 3: it walks owner's RR-type attributes plus, when present, the synthesized
// SOA, and returns the node's desired rdata keyed by RR type. Every value is
// rendered through dns.NewRR, so the parser enumerates exactly the RR types
// the embedded name-server knows; nothing here hard-codes a type list.
//
// An RR-set whose members would carry different TTLs is rejected with
// ErrNotImplemented, per the heterogeneous-TTL invariant in section 3; in
// practice every record at a node shares the entry's single dnsTTL value, so
// this only fires if a future schema extension lets a value embed its own
// TTL.
func ParseEntryRRs(owner Name, e *Entry, fakeMName string) (map[uint16][]dns.RR, error) {
	ttl := e.TTL()
	out := map[uint16][]dns.RR{}

	if e.HasSOAAttrs() {
		soaRR, err := parseSOA(owner, e, ttl, fakeMName)
		if err != nil {
			return nil, err
		}
		out[dns.TypeSOA] = []dns.RR{soaRR}
	}

	for _, ra := range e.RRAttrs() {
		for _, v := range e.RRValues(ra.Attr) {
			text := fmt.Sprintf("%s %d IN %s %s", owner.MasterText(), ttl, dns.TypeToString[ra.RRType], v)
			rr, err := dns.NewRR(text)
			if err != nil {
				return nil, fmt.Errorf("%w: parsing %s value %q on %q: %v", ErrNotImplemented, ra.Attr, v, e.DN, err)
			}
			out[ra.RRType] = append(out[ra.RRType], rr)
		}
	}

	for rrtype, rrs := range out {
		if err := checkHomogeneousTTL(rrtype, rrs); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func parseSOA(owner Name, e *Entry, ttl uint32, fakeMName string) (*dns.SOA, error) {
	body, err := e.FakeSOAText(fakeMName)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("%s %d IN SOA %s", owner.MasterText(), ttl, body)
	rr, err := dns.NewRR(text)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing synthesized SOA on %q: %v", ErrNotImplemented, e.DN, err)
	}
	soa, ok := rr.(*dns.SOA)
	if !ok {
		return nil, fmt.Errorf("%w: synthesized SOA text did not parse as SOA on %q", ErrNotImplemented, e.DN)
	}
	return soa, nil
}

func checkHomogeneousTTL(rrtype uint16, rrs []dns.RR) error {
	if len(rrs) == 0 {
		return nil
	}
	want := rrs[0].Header().Ttl
	for _, rr := range rrs[1:] {
		if rr.Header().Ttl != want {
			return fmt.Errorf("%w: heterogeneous TTLs in %s rrset at %q",
				ErrNotImplemented, dns.TypeToString[rrtype], rrs[0].Header().Name)
		}
	}
	return nil
}
