package ldapsync

import cmap "github.com/orcaman/concurrent-map/v2"

// ForwardRegister tracks the set of origins currently served as forward
// zones (idnsForwardZone objects), which never get a Zone Register entry
// of their own but still need to be distinguished from plain records at
// delete time. It is a flat concurrent set with no per-entry locking of
// its own, so it follows the same cmap-backed idiom as the instance
// registry (instance.go) rather than a bespoke mutex-guarded map.
type ForwardRegister struct {
	origins cmap.ConcurrentMap[string, Name]
}

// NewForwardRegister returns an empty forward-zone set.
func NewForwardRegister() *ForwardRegister {
	return &ForwardRegister{origins: cmap.New[Name]()}
}

// Add records origin as a forward zone.
func (f *ForwardRegister) Add(origin Name) {
	f.origins.Set(zoneKey(origin), origin)
}

// Delete removes origin from the forward-zone set.
func (f *ForwardRegister) Delete(origin Name) {
	f.origins.Remove(zoneKey(origin))
}

// Contains reports whether origin is currently served as a forward zone.
func (f *ForwardRegister) Contains(origin Name) bool {
	_, ok := f.origins.Get(zoneKey(origin))
	return ok
}

// Len reports the number of forward zones currently tracked.
func (f *ForwardRegister) Len() int {
	return f.origins.Count()
}
