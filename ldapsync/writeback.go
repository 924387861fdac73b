package ldapsync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// ModOp is the kind of LDAP modification a Mod describes.
type ModOp uint8

const (
	ModAdd ModOp = iota + 1
	ModDelete
	ModReplace
)

// Mod is one attribute modification, the shape Conn.Modify consumes.
type Mod struct {
	Op     ModOp
	Attr   string
	Values []string
}

// WriteBack implements component K: translating zone-manager mutations
// (dynamic updates the embedded name-server already applied locally, and
// SOA-serial bumps the projector/updater computed) into directory
// modifications, plus the automatic PTR-synchronization protocol for A/AAAA
// changes.
type WriteBack struct {
	Pool *Pool
	Reg  *ZoneRegister
	Base string
}

// rdataText strips an RR's header text, leaving just the master-file rdata
// the <RRTYPE>Record attribute stores.
func rdataText(rr dns.RR) string {
	return strings.TrimPrefix(rr.String(), rr.Header().String())
}

// WriteToLDAP implements write_to_ldap: owner gained or changed the records
// in rdlist (keyed by RR type); render them as ADD modifications against
// the owner's <RRTYPE>Record attributes. An SOA entry is handled specially,
// as five REPLACE modifications on the idnsSOA<field> attributes.
func (w *WriteBack) WriteToLDAP(owner Name, rdlist map[uint16][]dns.RR) error {
	dn, err := NameToDN(w.Reg, owner, w.Base)
	if err != nil {
		return err
	}

	var mods []Mod
	for rrtype, rrs := range rdlist {
		if rrtype == dns.TypeSOA {
			if len(rrs) > 0 {
				if err := w.WriteSOA(owner, rrs[0].(*dns.SOA)); err != nil {
					return err
				}
			}
			continue
		}
		attr := dns.TypeToString[rrtype] + "Record"
		values := make([]string, 0, len(rrs))
		for _, rr := range rrs {
			values = append(values, rdataText(rr))
		}
		mods = append(mods, Mod{Op: ModAdd, Attr: attr, Values: values})
	}
	if len(mods) == 0 {
		return nil
	}
	return w.modifyDo(dn, mods)
}

// RemoveValues implements remove_values: owner lost the records in rdlist;
// render them as DELETE modifications. deleteNode is informational only
// here (the caller decides whether the owning node itself should vanish);
// this call only ever touches the named attributes.
func (w *WriteBack) RemoveValues(owner Name, rdlist map[uint16][]dns.RR, deleteNode bool) error {
	dn, err := NameToDN(w.Reg, owner, w.Base)
	if err != nil {
		return err
	}
	var mods []Mod
	for rrtype, rrs := range rdlist {
		attr := dns.TypeToString[rrtype] + "Record"
		values := make([]string, 0, len(rrs))
		for _, rr := range rrs {
			values = append(values, rdataText(rr))
		}
		mods = append(mods, Mod{Op: ModDelete, Attr: attr, Values: values})
	}
	if len(mods) == 0 {
		return nil
	}
	return w.modifyDo(dn, mods)
}

// WriteSOA replaces the five idnsSOA* fields that change during ordinary
// operation (serial, refresh, retry, expire, minimum); idnsSOAmName and
// idnsSOArName remain operator-authored inputs the projector only reads.
func (w *WriteBack) WriteSOA(origin Name, soa *dns.SOA) error {
	dn, err := NameToDN(w.Reg, origin, w.Base)
	if err != nil {
		return err
	}
	mods := []Mod{
		{Op: ModReplace, Attr: "idnsSOAserial", Values: []string{strconv.FormatUint(uint64(soa.Serial), 10)}},
		{Op: ModReplace, Attr: "idnsSOArefresh", Values: []string{strconv.FormatUint(uint64(soa.Refresh), 10)}},
		{Op: ModReplace, Attr: "idnsSOAretry", Values: []string{strconv.FormatUint(uint64(soa.Retry), 10)}},
		{Op: ModReplace, Attr: "idnsSOAexpire", Values: []string{strconv.FormatUint(uint64(soa.Expire), 10)}},
		{Op: ModReplace, Attr: "idnsSOAminimum", Values: []string{strconv.FormatUint(uint64(soa.Minttl), 10)}},
	}
	return w.modifyDo(dn, mods)
}

func anyAddMod(mods []Mod) bool {
	for _, m := range mods {
		if m.Op == ModAdd {
			return true
		}
	}
	return false
}

// modifyDo implements the ldap_modify_do contract from 4.K: a DELETE of a
// non-existent attribute is silent success; an ADD against a non-existent
// entry retries as an entry creation carrying objectClass=idnsRecord plus
// the original ADD values; a connection error retries exactly once after
// reconnection.
func (w *WriteBack) modifyDo(dn string, mods []Mod) error {
	err := w.tryModify(dn, mods)
	if err != nil && errors.Is(err, ErrNotConnected) {
		err = w.tryModify(dn, mods)
	}
	return err
}

func (w *WriteBack) tryModify(dn string, mods []Mod) error {
	h, err := w.Pool.Acquire()
	if err != nil {
		return err
	}
	defer h.Release()

	err = h.Conn().Modify(dn, mods)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		if !anyAddMod(mods) {
			return nil
		}
		attrs := map[string][]string{"objectClass": {"idnsRecord"}}
		for _, m := range mods {
			if m.Op == ModAdd {
				attrs[m.Attr] = append(attrs[m.Attr], m.Values...)
			}
		}
		if addErr := h.Conn().Add(dn, attrs); addErr != nil {
			return fmt.Errorf("add new entry %q: %w", dn, addErr)
		}
		return nil
	}
	if errors.Is(err, ErrNotConnected) {
		h.NoteDown()
	}
	return err
}

// SyncPTR implements the automatic PTR-synchronization protocol (4.K) for
// an A/AAAA dynamic update: locate the reverse zone, validate the proposed
// change against the current PTR state, and apply the matching
// ADD/DELETE. add selects direction: true for a new A/AAAA value, false for
// a removed one. deleteOwnerNode reports whether the PTR being removed was
// its node's only record, information the caller may use to also remove the
// node entirely.
func (w *WriteBack) SyncPTR(owner Name, rr dns.RR, add bool) (deleteOwnerNode bool, err error) {
	ip := addressOf(rr)
	if ip == "" {
		return false, nil // not an A/AAAA record, PTR sync does not apply
	}

	revText, err := dns.ReverseAddr(ip)
	if err != nil {
		return false, fmt.Errorf("%w: reverse address for %q: %v", ErrUnexpectedToken, ip, err)
	}
	revName, err := ParseMasterName(revText)
	if err != nil {
		return false, err
	}

	revRaw, _, revOrigin, ok := w.Reg.GetDBs(revName)
	if !ok {
		return false, fmt.Errorf("%w: no reverse zone covers %s", ErrNoPerm, revText)
	}
	settings, _ := w.Reg.GetSettings(revOrigin)
	if settings == nil {
		return false, fmt.Errorf("%w: reverse zone %s has no settings", ErrNoPerm, revOrigin.MasterText())
	}
	if dynUpdate, _ := settings.GetBool("dyn_update"); !dynUpdate {
		return false, fmt.Errorf("%w: reverse zone %s has dyn_update disabled", ErrNoPerm, revOrigin.MasterText())
	}

	version := revRaw.NewVersion()
	defer version.Abort()
	node, hasNode := version.GetNode(revName)
	var existing []dns.RR
	totalRRsets := 0
	if hasNode {
		if rrset, has := node.RRset(dns.TypePTR); has {
			existing = rrset.RRs
		}
		totalRRsets = len(node.AllRRsets())
	}

	ownerText := owner.MasterText()
	ptrDN, err := NameToDN(w.Reg, revName, w.Base)
	if err != nil {
		return false, err
	}

	if add {
		for _, e := range existing {
			ptr := e.(*dns.PTR)
			if strings.EqualFold(ptr.Ptr, ownerText) {
				return false, nil // idempotent: already points here
			}
			return false, fmt.Errorf("%w: PTR at %s already targets %s", ErrSingleton, revText, ptr.Ptr)
		}
		return false, w.modifyDo(ptrDN, []Mod{{Op: ModAdd, Attr: "PTRRecord", Values: []string{ownerText}}})
	}

	switch len(existing) {
	case 0:
		return false, nil
	case 1:
		ptr := existing[0].(*dns.PTR)
		if !strings.EqualFold(ptr.Ptr, ownerText) {
			return false, fmt.Errorf("%w: PTR at %s targets %s, not %s", ErrUnexpectedToken, revText, ptr.Ptr, ownerText)
		}
		onlyRecord := totalRRsets == 1
		err := w.modifyDo(ptrDN, []Mod{{Op: ModDelete, Attr: "PTRRecord", Values: []string{ownerText}}})
		return onlyRecord, err
	default:
		return false, fmt.Errorf("%w: multiple PTR records at %s", ErrSingleton, revText)
	}
}

func addressOf(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	default:
		return ""
	}
}
