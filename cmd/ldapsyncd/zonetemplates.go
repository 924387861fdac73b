package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ZoneTemplate seeds a zone's settings layer before its directory entry is
// ever seen, mirroring tdnsd/main.go's side-channel Zconfig/yaml.Unmarshal
// zones file. Unlike tdnsd, these values are always overridable -- and
// routinely overridden -- by the corresponding idnsZone attribute once the
// directory entry for that origin is projected; a template only matters for
// the brief window before the first projection lands.
type ZoneTemplate struct {
	DynUpdate *bool  `yaml:"dyn_update"`
	SyncPtr   *bool  `yaml:"sync_ptr"`
	Policy    string `yaml:"update_policy"`
}

// ZoneTemplates is the top-level shape of the optional zone-templates file:
// origin name -> template.
type ZoneTemplates struct {
	Zones map[string]ZoneTemplate `yaml:"zones"`
}

// LoadZoneTemplates reads and decodes the zone-templates file at path. A
// missing file is not an error: zone templates are an optional convenience,
// not a requirement -- every zone's settings are fully specified by its
// directory entry regardless.
func LoadZoneTemplates(path string) (*ZoneTemplates, error) {
	if path == "" {
		return &ZoneTemplates{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ZoneTemplates{}, nil
	}
	if err != nil {
		return nil, err
	}
	var zt ZoneTemplates
	if err := yaml.Unmarshal(data, &zt); err != nil {
		return nil, err
	}
	return &zt, nil
}
