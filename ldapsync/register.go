package ldapsync

import (
	"strings"
	"sync"
)

// ZoneHandles bundles the external zone-manager handles a registered zone
// carries: the raw (dnssec-unaware) and secure database handles the
// projector writes through, and the zone's own settings layer.
type ZoneHandles struct {
	Raw      RawDatabase
	Secure   SecureDatabase
	Settings *Layer
}

// zoneNode is one entry in the register: a zone rooted at Origin, keyed by
// the directory name mapping's DN, plus its database handles.
type zoneNode struct {
	origin  Name
	dn      string
	handles ZoneHandles
}

// ZoneRegister is the authoritative map from served zone origin to its DN
// and database handles. It is a plain map keyed by origin, not a radix
// tree: GetDBs and GetDN resolve an owner name to its enclosing zone by a
// linear longest-suffix scan over every registered zone (see enclosing).
// It is guarded by an explicit mutex rather than a lock-free map: zone
// add/remove is rare compared to the high-volume per-record lookups that
// read it.
type ZoneRegister struct {
	mu    sync.RWMutex
	zones map[string]*zoneNode // keyed by lower-cased MasterText of origin
}

// NewZoneRegister returns an empty register.
func NewZoneRegister() *ZoneRegister {
	return &ZoneRegister{zones: make(map[string]*zoneNode)}
}

func zoneKey(n Name) string { return strings.ToLower(n.MasterText()) }

// Add registers origin with its DN and database handles, replacing any
// prior registration for the same origin.
func (r *ZoneRegister) Add(origin Name, dn string, handles ZoneHandles) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones[zoneKey(origin)] = &zoneNode{origin: origin, dn: dn, handles: handles}
}

// Delete removes origin's registration, if present.
func (r *ZoneRegister) Delete(origin Name) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.zones, zoneKey(origin))
}

// Get returns the raw and secure database handles for the zone registered
// exactly at origin.
func (r *ZoneRegister) Get(origin Name) (RawDatabase, SecureDatabase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.zones[zoneKey(origin)]
	if !ok {
		return nil, nil, false
	}
	return n.handles.Raw, n.handles.Secure, true
}

// GetSettings returns the settings layer for the zone registered exactly
// at origin.
func (r *ZoneRegister) GetSettings(origin Name) (*Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.zones[zoneKey(origin)]
	if !ok || n.handles.Settings == nil {
		return nil, false
	}
	return n.handles.Settings, true
}

// enclosing finds the registered zone that is name's longest matching
// ancestor (or name itself). The register holds relatively few zones, so
// a linear best-match scan under the read lock is simpler than a true
// label-trie and just as correct.
func (r *ZoneRegister) enclosing(name Name) (*zoneNode, bool) {
	var best *zoneNode
	for _, n := range r.zones {
		if !name.IsSubdomainOf(n.origin) {
			continue
		}
		if best == nil || n.origin.NumLabels() > best.origin.NumLabels() {
			best = n
		}
	}
	return best, best != nil
}

// GetDBs returns the database handles of the zone that encloses name
// (name itself, or the nearest registered ancestor).
func (r *ZoneRegister) GetDBs(name Name) (RawDatabase, SecureDatabase, Name, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.enclosing(name)
	if !ok {
		return nil, nil, Name{}, false
	}
	return n.handles.Raw, n.handles.Secure, n.origin, true
}

// GetDN returns the DN and origin of the zone that encloses name, for
// NameToDN to extend with the owner's relative labels.
func (r *ZoneRegister) GetDN(name Name) (string, Name, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.enclosing(name)
	if !ok {
		return "", Name{}, false
	}
	return n.dn, n.origin, true
}

// Iterate calls fn for every registered zone origin. fn may be called for
// zones added or removed concurrently with the call, since Iterate
// snapshots the origin list before invoking fn; callers must re-resolve
// by name rather than cache any handle across calls that might race a
// removal.
func (r *ZoneRegister) Iterate(fn func(origin Name)) {
	r.mu.RLock()
	origins := make([]Name, 0, len(r.zones))
	for _, n := range r.zones {
		origins = append(origins, n.origin)
	}
	r.mu.RUnlock()
	for _, o := range origins {
		fn(o)
	}
}

// Len reports the number of registered zones.
func (r *ZoneRegister) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.zones)
}
