package ldapconn

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/nsbackend/dyndb-ldap/ldapsync"
)

// PollingSearch implements ldapsync.PersistentSearch as a periodic full
// re-search rather than a true RFC 4533 Content Synchronization session:
// go-ldap/v3's stable public API exposes a synchronous Search call but no
// vetted syncrepl streaming primitive, so this adapter re-runs the same
// subtree search on Interval, diffs the result against what it saw last
// time to synthesize add/modify/delete events, and fires RefreshDone once
// the first full pass completes -- functionally equivalent to 4.G's
// contract (entry/refresh-done/reference callbacks) for any directory that
// doesn't actually push syncrepl notifications.
type PollingSearch struct {
	Interval time.Duration
}

func (p *PollingSearch) Run(conn ldapsync.Conn, base, filter string, stopCh <-chan struct{}, cb ldapsync.PersistentSearchCallbacks) error {
	c, ok := conn.(*Conn)
	if !ok {
		return fmt.Errorf("ldapconn: PollingSearch requires a *ldapconn.Conn, got %T", conn)
	}

	interval := p.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	seen := map[string]string{} // dn -> serialized attribute snapshot
	first := true
	for {
		select {
		case <-stopCh:
			return nil
		default:
		}

		req := ldap.NewSearchRequest(base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
			0, 0, false, filter, []string{"*"}, nil)
		result, err := c.raw.Search(req)
		if err != nil {
			return translateErr(err)
		}

		current := make(map[string]string, len(result.Entries))
		for _, e := range result.Entries {
			attrs := entryAttrs(e)
			snapshot := snapshotOf(attrs)
			current[e.DN] = snapshot

			change := ldapsync.ChangePresent
			prev, existed := seen[e.DN]
			switch {
			case !existed:
				change = ldapsync.ChangeAdd
			case prev != snapshot:
				change = ldapsync.ChangeModify
			}
			cb.Entry(e.DN, change, attrs)
		}
		for dn := range seen {
			if _, ok := current[dn]; !ok {
				cb.Entry(dn, ldapsync.ChangeDelete, nil)
			}
		}
		seen = current

		if first {
			cb.RefreshDone()
			first = false
		}

		select {
		case <-stopCh:
			return nil
		case <-time.After(interval):
		}
	}
}

func entryAttrs(e *ldap.Entry) map[string][]string {
	attrs := make(map[string][]string, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs[a.Name] = append([]string(nil), a.Values...)
	}
	return attrs
}

// snapshotOf renders attrs deterministically (sorted by attribute name, in
// turn by value) so two fetches of an unchanged entry always compare equal.
func snapshotOf(attrs map[string][]string) string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		values := append([]string(nil), attrs[name]...)
		sort.Strings(values)
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(values, ","))
		b.WriteByte(';')
	}
	return b.String()
}
