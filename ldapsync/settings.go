package ldapsync

import (
	"fmt"
	"strconv"
	"sync"
)

// SettingKind is the value type a setting slot holds.
type SettingKind uint8

const (
	SettingString SettingKind = iota + 1
	SettingUint
	SettingBool
)

// SettingDef declares one configuration key: its type, and an optional
// default. A slot with no default is "required" for IsFilled purposes.
type SettingDef struct {
	Name       string
	Kind       SettingKind
	Default    string // textual default; interpreted per Kind
	HasDefault bool
}

type settingValue struct {
	kind SettingKind
	str  string
	u    uint64
	b    bool
}

func parseSettingValue(kind SettingKind, text string) (settingValue, error) {
	switch kind {
	case SettingString:
		return settingValue{kind: kind, str: text}, nil
	case SettingUint:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return settingValue{}, fmt.Errorf("%w: invalid unsigned integer %q", ErrUnexpectedToken, text)
		}
		return settingValue{kind: kind, u: n}, nil
	case SettingBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return settingValue{}, fmt.Errorf("%w: invalid boolean %q", ErrUnexpectedToken, text)
		}
		return settingValue{kind: kind, b: b}, nil
	default:
		return settingValue{}, fmt.Errorf("%w: unknown setting kind %d", ErrUnexpectedToken, kind)
	}
}

type slot struct {
	def   SettingDef
	value settingValue
	isSet bool
}

// Layer is one level of the stacked settings configuration: local,
// global, or per-zone. Reads resolve from this layer outward to its
// parent; writes land in exactly the layer named by the caller.
type Layer struct {
	mu     sync.RWMutex
	parent *Layer
	slots  map[string]*slot
}

// NewLayer creates a layer with the given setting definitions, optionally
// chained to a parent layer for inherited reads.
func NewLayer(parent *Layer, defs []SettingDef) *Layer {
	l := &Layer{parent: parent, slots: make(map[string]*slot, len(defs))}
	for _, d := range defs {
		s := &slot{def: d}
		if d.HasDefault {
			v, err := parseSettingValue(d.Kind, d.Default)
			if err == nil {
				s.value = v
			}
		}
		l.slots[d.Name] = s
	}
	return l
}

// FillFromPairs sets each key=value pair found in pairs on this layer,
// parsing per that key's declared kind. Unknown keys are ignored.
func (l *Layer) FillFromPairs(pairs map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range pairs {
		s, ok := l.slots[k]
		if !ok {
			continue
		}
		pv, err := parseSettingValue(s.def.Kind, v)
		if err != nil {
			return fmt.Errorf("setting %q: %w", k, err)
		}
		s.value = pv
		s.isSet = true
	}
	return nil
}

func (l *Layer) resolve(name string) (*slot, *Layer) {
	var fallback *slot
	var fallbackLayer *Layer
	for layer := l; layer != nil; layer = layer.parent {
		layer.mu.RLock()
		s, ok := layer.slots[name]
		isSet := ok && s.isSet
		hasDefault := ok && s.def.HasDefault
		layer.mu.RUnlock()
		if isSet {
			return s, layer
		}
		if hasDefault && fallback == nil {
			fallback, fallbackLayer = s, layer
		}
	}
	return fallback, fallbackLayer
}

// GetString resolves name from this layer outward to its ancestors.
func (l *Layer) GetString(name string) (string, bool) {
	s, layer := l.resolve(name)
	if s == nil {
		return "", false
	}
	layer.mu.RLock()
	defer layer.mu.RUnlock()
	return s.value.str, true
}

// GetUint resolves an unsigned-integer setting.
func (l *Layer) GetUint(name string) (uint64, bool) {
	s, layer := l.resolve(name)
	if s == nil {
		return 0, false
	}
	layer.mu.RLock()
	defer layer.mu.RUnlock()
	return s.value.u, true
}

// GetBool resolves a boolean setting.
func (l *Layer) GetBool(name string) (bool, bool) {
	s, layer := l.resolve(name)
	if s == nil {
		return false, false
	}
	layer.mu.RLock()
	defer layer.mu.RUnlock()
	return s.value.b, true
}

// Set atomically sets name to text in this specific layer (not an
// ancestor), parsed per its declared kind.
func (l *Layer) Set(name, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[name]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", ErrNotFound, name)
	}
	v, err := parseSettingValue(s.def.Kind, text)
	if err != nil {
		return fmt.Errorf("setting %q: %w", name, err)
	}
	s.value = v
	s.isSet = true
	return nil
}

// Unset restores name to "unset" in this layer so inheritance from the
// parent resumes.
func (l *Layer) Unset(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[name]; ok {
		s.isSet = false
		if s.def.HasDefault {
			v, _ := parseSettingValue(s.def.Kind, s.def.Default)
			s.value = v
		} else {
			s.value = settingValue{kind: s.def.Kind}
		}
	}
}

// IsFilled reports whether every slot without a default has been
// explicitly set on this layer.
func (l *Layer) IsFilled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.slots {
		if !s.def.HasDefault && !s.isSet {
			return false
		}
	}
	return true
}

// MissingRequired returns the names of slots without a default that have
// not been set on this layer, for diagnostics.
func (l *Layer) MissingRequired() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var missing []string
	for name, s := range l.slots {
		if !s.def.HasDefault && !s.isSet {
			missing = append(missing, name)
		}
	}
	return missing
}

// snapshot copies every slot's current value, for the rollback-on-error
// update variant.
func (l *Layer) snapshot() map[string]slot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make(map[string]slot, len(l.slots))
	for k, s := range l.slots {
		cp[k] = *s
	}
	return cp
}

func (l *Layer) restore(snap map[string]slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, s := range snap {
		sc := s
		l.slots[k] = &sc
	}
}

// UpdateFromEntry applies the directory-driven settings update rule: for
// each (setting-name, attribute-name) pair in mapping, if the attribute is
// present on entry, parse its first value with the setting's type and set
// it; if the attribute is absent, the slot is restored to unset so
// inheritance resumes.
func (l *Layer) UpdateFromEntry(mapping map[string]string, entry *Entry) error {
	for settingName, attrName := range mapping {
		if v, ok := entry.Value(attrName); ok {
			if err := l.Set(settingName, v); err != nil {
				return err
			}
		} else {
			l.Unset(settingName)
		}
	}
	return nil
}

// UpdateFromEntryRollback is UpdateFromEntry but leaves the layer
// completely untouched if any setting in mapping fails to parse.
func (l *Layer) UpdateFromEntryRollback(mapping map[string]string, entry *Entry) error {
	snap := l.snapshot()
	if err := l.UpdateFromEntry(mapping, entry); err != nil {
		l.restore(snap)
		return err
	}
	return nil
}
