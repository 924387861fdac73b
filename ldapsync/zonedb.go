package ldapsync

import (
	"strings"
	"sync"

	"github.com/miekg/dns"
)

// RRset is every record sharing one (owner, type, class), mirroring the
// embedded name-server's own in-memory representation.
type RRset struct {
	Name   string
	RRtype uint16
	TTL    uint32
	RRs    []dns.RR
}

// Node is a single owner name inside a zone database: a map of RR-type to
// RRset, the shape the name-server runtime exposes for diffing.
type Node interface {
	Name() string
	AllRRsets() []RRset
	RRset(rrtype uint16) (RRset, bool)
}

// View is the name-server runtime's served-zones cache; publishing a zone
// makes it answer queries, flushing drops any negative/compiled state.
type View interface {
	Publish(origin Name) error
	Unload(origin Name) error
	Flush() error
	HasEmptyZone(origin Name) bool
}

// Version is a single read/write transaction against a RawDatabase. All
// mutation during a projection or record update happens inside one
// Version; Commit makes it visible, Abort discards it.
type Version interface {
	Origin() Node
	GetNode(owner Name) (Node, bool)
	GetOrCreateNode(owner Name) Node
	Apply(diff []DiffTuple) error
	Commit() error
	Abort()
}

// RawDatabase is the dnssec-unaware zone database the name-server runtime
// keeps for a served zone: a versioned store of owner nodes that the
// projector diffs against and mutates.
type RawDatabase interface {
	NewVersion() Version
	Load(origin Name) error
	Remove() error
}

// SecureDatabase is the optional inline-signing counterpart of
// RawDatabase, consulted for zones with signing enabled. Nothing in this
// engine inspects its contents directly; it is carried through the Zone
// Register purely so the projector can hand it to the name-server runtime
// unchanged.
type SecureDatabase interface {
	RawDatabase
}

// Journal is the append-only incremental-transfer log the name-server
// runtime maintains per zone; its wire format is owned by that runtime.
// This engine only ever appends one transaction at a time.
type Journal interface {
	Append(diff []DiffTuple) error
}

// --- in-memory reference implementation, used by tests and as a
// stand-alone mode when no external zone-manager runtime is wired in. ---

type memRRsets struct {
	mu   sync.RWMutex
	sets map[uint16]RRset
}

type memNode struct {
	name string
	rr   *memRRsets
}

func (n *memNode) Name() string { return n.name }

func (n *memNode) AllRRsets() []RRset {
	n.rr.mu.RLock()
	defer n.rr.mu.RUnlock()
	out := make([]RRset, 0, len(n.rr.sets))
	for _, s := range n.rr.sets {
		out = append(out, s)
	}
	return out
}

func (n *memNode) RRset(rrtype uint16) (RRset, bool) {
	n.rr.mu.RLock()
	defer n.rr.mu.RUnlock()
	s, ok := n.rr.sets[rrtype]
	return s, ok
}

func (n *memNode) set(rrtype uint16, s RRset) {
	n.rr.mu.Lock()
	defer n.rr.mu.Unlock()
	if len(s.RRs) == 0 {
		delete(n.rr.sets, rrtype)
		return
	}
	n.rr.sets[rrtype] = s
}

// MemoryZoneDB is a plain-Go RawDatabase backed by a name-keyed map of
// owner nodes, grounded in the owner/RR-type-store shape the embedded
// runtime itself uses to hold zone data.
type MemoryZoneDB struct {
	mu     sync.RWMutex
	origin Name
	owners map[string]*memNode
}

// NewMemoryZoneDB returns an empty database for origin.
func NewMemoryZoneDB(origin Name) *MemoryZoneDB {
	db := &MemoryZoneDB{origin: origin, owners: make(map[string]*memNode)}
	db.owners[zoneKey(origin)] = &memNode{name: origin.MasterText(), rr: &memRRsets{sets: map[uint16]RRset{}}}
	return db
}

func (db *MemoryZoneDB) NewVersion() Version {
	return &memVersion{db: db}
}

func (db *MemoryZoneDB) Load(origin Name) error { return nil }

func (db *MemoryZoneDB) Remove() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.owners = make(map[string]*memNode)
	return nil
}

type memVersion struct {
	db *MemoryZoneDB
}

func (v *memVersion) Origin() Node {
	v.db.mu.RLock()
	defer v.db.mu.RUnlock()
	return v.db.owners[zoneKey(v.db.origin)]
}

func (v *memVersion) GetNode(owner Name) (Node, bool) {
	v.db.mu.RLock()
	defer v.db.mu.RUnlock()
	n, ok := v.db.owners[zoneKey(owner)]
	return n, ok
}

func (v *memVersion) GetOrCreateNode(owner Name) Node {
	v.db.mu.Lock()
	defer v.db.mu.Unlock()
	key := zoneKey(owner)
	n, ok := v.db.owners[key]
	if !ok {
		n = &memNode{name: owner.MasterText(), rr: &memRRsets{sets: map[uint16]RRset{}}}
		v.db.owners[key] = n
	}
	return n
}

// Apply installs every ADD tuple and removes every DEL tuple, grouping by
// (owner, rrtype): each touched RR-set keeps its existing records minus
// those a DEL tuple names (compared with dns.IsDuplicate), plus the ADDs.
func (v *memVersion) Apply(diff []DiffTuple) error {
	touched := map[string]map[uint16][]dns.RR{}
	deleted := map[string]map[uint16][]dns.RR{}
	order := map[string]map[uint16]bool{}
	for _, t := range diff {
		key := strings.ToLower(t.Name)
		if touched[key] == nil {
			touched[key] = map[uint16][]dns.RR{}
			deleted[key] = map[uint16][]dns.RR{}
			order[key] = map[uint16]bool{}
		}
		if t.Op == DiffAdd {
			touched[key][t.RRType] = append(touched[key][t.RRType], t.RR)
		} else {
			deleted[key][t.RRType] = append(deleted[key][t.RRType], t.RR)
		}
		order[key][t.RRType] = true
	}
	for key, byType := range order {
		for rrtype := range byType {
			v.db.mu.Lock()
			n, ok := v.db.owners[key]
			if !ok {
				n = &memNode{rr: &memRRsets{sets: map[uint16]RRset{}}}
				v.db.owners[key] = n
			}
			v.db.mu.Unlock()
			var rrs []dns.RR
			cur, _ := n.RRset(rrtype)
		keep:
			for _, rr := range cur.RRs {
				for _, d := range deleted[key][rrtype] {
					if dns.IsDuplicate(rr, d) {
						continue keep
					}
				}
				rrs = append(rrs, rr)
			}
			rrs = append(rrs, touched[key][rrtype]...)
			if len(rrs) == 0 {
				n.set(rrtype, RRset{})
				continue
			}
			var ttl uint32
			if rrs[0].Header() != nil {
				ttl = rrs[0].Header().Ttl
			}
			n.set(rrtype, RRset{Name: rrs[0].Header().Name, RRtype: rrtype, TTL: ttl, RRs: rrs})
		}
	}
	return nil
}

func (v *memVersion) Commit() error { return nil }
func (v *memVersion) Abort()        {}

// NopJournal discards every append; useful for tests and for instances
// run without incremental-transfer support.
type NopJournal struct{}

func (NopJournal) Append(diff []DiffTuple) error { return nil }

// MemoryView is an in-memory View that only records which zones are
// published; tests use it, and so does the daemon when no real name-server
// runtime is linked in.
type MemoryView struct {
	mu        sync.Mutex
	published map[string]bool
}

// NewMemoryView returns an empty view.
func NewMemoryView() *MemoryView { return &MemoryView{published: map[string]bool{}} }

func (v *MemoryView) Publish(origin Name) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.published[zoneKey(origin)] = true
	return nil
}

func (v *MemoryView) Unload(origin Name) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.published, zoneKey(origin))
	return nil
}

func (v *MemoryView) Flush() error { return nil }

func (v *MemoryView) HasEmptyZone(origin Name) bool { return false }

// IsPublished reports whether origin has been published, for tests.
func (v *MemoryView) IsPublished(origin Name) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.published[zoneKey(origin)]
}
