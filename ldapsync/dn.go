package ldapsync

import (
	"fmt"
	"strings"
)

// RDNAttr is a single relative-distinguished-name attribute/value pair.
type RDNAttr struct {
	Attr  string
	Value string
}

// RDN is one component of a DN. A well-formed RDN for this schema always
// has exactly one attribute; more than one (a "multi-valued RDN", joined
// with '+' in LDAP DN text) is rejected by ParseRDNs.
type RDN struct {
	Attrs []RDNAttr
}

// IsMultiValued reports whether this RDN carries more than one attribute.
func (r RDN) IsMultiValued() bool { return len(r.Attrs) > 1 }

// ParseRDNs splits a DN string into its ordered RDN components, honoring
// RFC 4514 backslash-escaping of ',', '+', and other special characters
// within a value so that an escaped comma does not split a component.
func ParseRDNs(dn string) ([]RDN, error) {
	comps, err := splitUnescaped(dn, ',')
	if err != nil {
		return nil, err
	}
	rdns := make([]RDN, 0, len(comps))
	for _, comp := range comps {
		comp = strings.TrimSpace(comp)
		if comp == "" {
			continue
		}
		avas, err := splitUnescaped(comp, '+')
		if err != nil {
			return nil, err
		}
		var rdn RDN
		for _, ava := range avas {
			eq := indexUnescaped(ava, '=')
			if eq < 0 {
				return nil, fmt.Errorf("%w: malformed RDN component %q", ErrBadOwnerName, ava)
			}
			attr := strings.TrimSpace(ava[:eq])
			val := strings.TrimSpace(ava[eq+1:])
			rdn.Attrs = append(rdn.Attrs, RDNAttr{Attr: attr, Value: unescapeDNValue(val)})
		}
		rdns = append(rdns, rdn)
	}
	return rdns, nil
}

// splitUnescaped splits s on sep, treating a backslash as escaping the
// following character (so an escaped separator does not split).
func splitUnescaped(s string, sep byte) ([]string, error) {
	var parts []string
	var cur strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '\\' {
			if i+1 >= len(s) {
				return nil, fmt.Errorf("%w: trailing backslash in DN component %q", ErrBadEscape, s)
			}
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == sep {
			parts = append(parts, cur.String())
			cur.Reset()
			i++
			continue
		}
		cur.WriteByte(c)
		i++
	}
	parts = append(parts, cur.String())
	return parts, nil
}

func indexUnescaped(s string, target byte) int {
	i := 0
	for i < len(s) {
		if s[i] == '\\' {
			i += 2
			continue
		}
		if s[i] == target {
			return i
		}
		i++
	}
	return -1
}

// unescapeDNValue resolves RFC 4514 backslash escapes (\, followed by the
// literal character, or \HH hex pairs) within an RDN value. It is distinct
// from UnescapeDirectory: this one unwraps DN syntax so we can recover the
// attribute value text that was itself directory-hex-escaped name content.
func unescapeDNValue(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			i++
			continue
		}
		if hi, ok1 := hexVal(s[i+1]); ok1 && i+2 < len(s) {
			if lo, ok2 := hexVal(s[i+2]); ok2 {
				b.WriteByte(byte(hi<<4 | lo))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i+1])
		i += 2
	}
	return b.String()
}

// ParsedOwner is the result of NameFromDN.
type ParsedOwner struct {
	Owner  Name // the full owner name (equals Origin for a zone-apex/config-adjacent entry)
	Origin Name // the zone origin the entry belongs to; RootName for a config entry
	IsZone bool // true when the DN has exactly one idnsName component (a zone object)
	IsBase bool // true when the DN has zero idnsName components (a config object)
}

// NameFromDN implements the name codec's name_from_dn operation: it
// parses dn into ordered RDN components and classifies it as a
// configuration entry (zero idnsName components), a zone object (one), or
// a record (two), producing absolute names rooted at the base suffix.
//
// Only string-valued, single-valued RDNs are accepted; a multi-valued RDN
// or a DN whose leading components are not idnsName attributes both end
// the parse the same way the caller expects: the whole entry is skipped.
func NameFromDN(dn, base string) (ParsedOwner, error) {
	rdns, err := ParseRDNs(dn)
	if err != nil {
		return ParsedOwner{}, err
	}
	baseRDNs, err := ParseRDNs(base)
	if err != nil {
		return ParsedOwner{}, err
	}

	if !hasBaseSuffix(rdns, baseRDNs) {
		return ParsedOwner{}, fmt.Errorf("%w: DN %q is not under base %q", ErrNotFound, dn, base)
	}
	idnsComponents := rdns[:len(rdns)-len(baseRDNs)]

	if len(idnsComponents) > 2 {
		return ParsedOwner{}, fmt.Errorf("%w: DN %q has more than two idnsName components", ErrBadOwnerName, dn)
	}

	for _, rdn := range idnsComponents {
		if rdn.IsMultiValued() {
			return ParsedOwner{}, fmt.Errorf("%w: multi-valued RDN in %q", ErrNotImplemented, dn)
		}
		if !strings.EqualFold(rdn.Attrs[0].Attr, "idnsName") {
			return ParsedOwner{}, fmt.Errorf("%w: non-idnsName RDN %q in %q", ErrBadOwnerName, rdn.Attrs[0].Attr, dn)
		}
	}

	switch len(idnsComponents) {
	case 0:
		return ParsedOwner{Owner: RootName, Origin: RootName, IsBase: true}, nil

	case 1:
		origin, err := ParseMasterName(idnsComponents[0].Attrs[0].Value)
		if err != nil {
			return ParsedOwner{}, err
		}
		return ParsedOwner{Owner: origin, Origin: origin, IsZone: true}, nil

	default: // 2
		origin, err := ParseMasterName(idnsComponents[1].Attrs[0].Value)
		if err != nil {
			return ParsedOwner{}, err
		}
		owner, err := ParseMasterName(idnsComponents[0].Attrs[0].Value)
		if err != nil {
			return ParsedOwner{}, err
		}
		if !owner.IsStrictSubdomainOf(origin) {
			return ParsedOwner{}, fmt.Errorf("%w: owner %q is not a proper subdomain of zone %q",
				ErrBadOwnerName, owner.MasterText(), origin.MasterText())
		}
		return ParsedOwner{Owner: owner, Origin: origin}, nil
	}
}

func hasBaseSuffix(dn, base []RDN) bool {
	if len(dn) < len(base) {
		return false
	}
	offset := len(dn) - len(base)
	for i, b := range base {
		d := dn[offset+i]
		if len(d.Attrs) != len(b.Attrs) {
			return false
		}
		for j := range b.Attrs {
			if !strings.EqualFold(d.Attrs[j].Attr, b.Attrs[j].Attr) ||
				!strings.EqualFold(d.Attrs[j].Value, b.Attrs[j].Value) {
				return false
			}
		}
	}
	return true
}

// NameToDN implements the name codec's name_to_dn operation: locate the
// deepest registered ancestor zone of name, extract the labels
// above that zone's origin, render them in directory escape form, and
// concatenate them onto the zone's own DN. If name equals a zone origin
// the result is just the zone's DN.
func NameToDN(reg *ZoneRegister, name Name, base string) (string, error) {
	zoneDN, origin, ok := reg.GetDN(name)
	if !ok {
		return "", fmt.Errorf("%w: no registered zone covers %q", ErrNotFound, name.MasterText())
	}
	if name.Equal(origin) {
		return zoneDN, nil
	}
	above, ok := name.Above(origin)
	if !ok {
		return "", fmt.Errorf("%w: %q is not under zone %q", ErrBadOwnerName, name.MasterText(), origin.MasterText())
	}
	return fmt.Sprintf("idnsName=%s, %s", above.DirectoryEscape(), zoneDN), nil
}
