package ldapsync

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// ChangeType is the kind of directory change event that produced an Entry.
type ChangeType uint8

const (
	ChangeAdd ChangeType = iota + 1
	ChangeModify
	ChangePresent
	ChangeDelete
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdd:
		return "add"
	case ChangeModify:
		return "modify"
	case ChangePresent:
		return "present"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

const defaultTTL = 86400

// attrSlot preserves the attribute's original case for display while the
// Entry indexes it case-insensitively.
type attrSlot struct {
	name   string
	values []string
}

// Entry is the in-memory representation of a directory entry: its DN, its
// object-class bitset, and an attribute-name -> ordered value-list mapping
// that is looked up case-insensitively on the name and case-preserving on
// values.
type Entry struct {
	DN         string
	Change     ChangeType
	Classes    ObjectClass
	attrs      map[string]*attrSlot // keyed by lower-cased attribute name
	attrOrder  []string             // lower-cased names, insertion order
}

// NewEntry builds an Entry from a DN and a set of attribute values as
// delivered by the directory library (attr name -> values, objectClass
// among them for add/modify/present events).
func NewEntry(dn string, change ChangeType, attrs map[string][]string) *Entry {
	e := &Entry{DN: dn, Change: change, attrs: map[string]*attrSlot{}}
	for name, values := range attrs {
		e.Set(name, values)
	}
	if change != ChangeDelete {
		if oc, ok := e.attrs["objectclass"]; ok {
			e.Classes = objectClassFromValues(oc.values)
		}
	}
	return e
}

// Set installs (or replaces) the value list for name.
func (e *Entry) Set(name string, values []string) {
	key := strings.ToLower(name)
	if _, exists := e.attrs[key]; !exists {
		e.attrOrder = append(e.attrOrder, key)
	}
	e.attrs[key] = &attrSlot{name: name, values: append([]string(nil), values...)}
}

// InferClassesOnDelete recovers an object class for a delete event, which
// carries no objectClass attribute: the class is reconstructed from prior
// knowledge (forward-zone presence, name equality with a served zone's
// root, or fallback to Record).
func (e *Entry) InferClassesOnDelete(owner ParsedOwner, reg *ZoneRegister, fwd *ForwardRegister) {
	switch {
	case owner.IsBase:
		e.Classes = ClassConfig
	case fwd.Contains(owner.Origin):
		e.Classes = ClassForwardZone
	case owner.IsZone:
		if _, _, ok := reg.Get(owner.Origin); ok {
			e.Classes = ClassMasterZone
		} else {
			e.Classes = ClassRecord
		}
	default:
		e.Classes = ClassRecord
	}
}

// Values returns all values for the named attribute (case-insensitive
// lookup), or nil if absent.
func (e *Entry) Values(name string) []string {
	slot, ok := e.attrs[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return slot.values
}

// Value returns the first value for name, and whether it was present.
func (e *Entry) Value(name string) (string, bool) {
	v := e.Values(name)
	if len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// Has reports whether the attribute is present with at least one value.
func (e *Entry) Has(name string) bool { return len(e.Values(name)) > 0 }

// TTL parses dnsTTL, falling back to the 86400-second default used when
// an entry carries no explicit TTL.
func (e *Entry) TTL() uint32 {
	v, ok := e.Value("dnsTTL")
	if !ok {
		return defaultTTL
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return defaultTTL
	}
	return uint32(n)
}

// Class is always IN today.
func (e *Entry) Class() uint16 { return dns.ClassINET }

// RRAttr pairs an RR-attribute name with the RR type it encodes.
type RRAttr struct {
	Attr   string
	RRType uint16
}

// rrTypeFromAttr parses the "<RRTYPE>Record" attribute-name convention
// against every RR type the embedded name-server runtime knows (exposed
// here via miekg/dns's type table, since no static list is hard-coded).
func rrTypeFromAttr(attr string) (uint16, bool) {
	if !strings.HasSuffix(strings.ToLower(attr), "record") {
		return 0, false
	}
	prefix := attr[:len(attr)-len("record")]
	if prefix == "" {
		return 0, false
	}
	t, ok := dns.StringToType[strings.ToUpper(prefix)]
	return t, ok
}

// RRAttrs iterates the entry's attributes whose name-suffix is "Record"
// and whose prefix parses as a known RR type, yielding (attribute, rrtype)
// pairs in a stable order.
func (e *Entry) RRAttrs() []RRAttr {
	var out []RRAttr
	for _, key := range e.attrOrder {
		slot := e.attrs[key]
		if t, ok := rrTypeFromAttr(slot.name); ok {
			out = append(out, RRAttr{Attr: slot.name, RRType: t})
		}
	}
	return out
}

// RRValues iterates the per-value master-file text for a single RR
// attribute.
func (e *Entry) RRValues(attr string) []string { return e.Values(attr) }

// FakeSOAText composes the synthesized SOA master-file text from the
// seven idnsSOA* attributes plus a configured fake primary-NS name.
// idnsSOAmName, if present, wins over the fake mname.
func (e *Entry) FakeSOAText(fakeMName string) (string, error) {
	mname := fakeMName
	if v, ok := e.Value("idnsSOAmName"); ok && v != "" {
		mname = v
	}
	if mname == "" {
		return "", fmt.Errorf("%w: no idnsSOAmName and no fake_mname configured for %q", ErrNotImplemented, e.DN)
	}

	required := []string{"idnsSOArName", "idnsSOAserial", "idnsSOArefresh", "idnsSOAretry", "idnsSOAexpire", "idnsSOAminimum"}
	values := make([]string, 0, len(required))
	for _, attr := range required {
		v, ok := e.Value(attr)
		if !ok {
			return "", fmt.Errorf("%w: missing %s on %q", ErrNotImplemented, attr, e.DN)
		}
		values = append(values, v)
	}

	return fmt.Sprintf("%s %s %s %s %s %s %s",
		mname, values[0], values[1], values[2], values[3], values[4], values[5]), nil
}

// HasSOAAttrs reports whether the entry carries idnsSOAmName, idnsSOArName
// or idnsSOAserial (the other idnsSOA* attributes are not consulted), used
// to decide whether fake-SOA composition should run.
// When an entry is both a master zone and a record, SOA synthesis runs
// before ordinary RR projection.
func (e *Entry) HasSOAAttrs() bool {
	return e.Has("idnsSOAmName") || e.Has("idnsSOArName") || e.Has("idnsSOAserial")
}
