package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Unknown is the sentinel canonical name for listings that could not be
// resolved to a known device.
const Unknown = "UNKNOWN"

// Device is one canonical GPU model with its reference specifications.
// The registry is loaded once at startup and never mutated afterward, so a
// *Device handed out by lookups is safe to share across goroutines.
type Device struct {
	Name           string   `yaml:"name"`
	Vendor         string   `yaml:"vendor"`
	VRAMGB         int      `yaml:"vram_gb"`
	TDPWatts       int      `yaml:"tdp_watts"`
	PartitionLevel int      `yaml:"partition_level"` // MIG-style partition capability, 0-7
	Interconnect   bool     `yaml:"interconnect"`    // NVLink / Infinity Fabric bridge support
	Architecture   string   `yaml:"architecture"`
	CoreCount      *int     `yaml:"core_count,omitempty"`
	SlotWidth      *int     `yaml:"slot_width,omitempty"`
	PCIeGen        *int     `yaml:"pcie_gen,omitempty"`
	Aliases        []string `yaml:"aliases,omitempty"`
}

// Registry is the read-only canonical device table.
type Registry struct {
	devices []Device
	byKey   map[string]*Device // normalized name and alias -> device
}

type registryFile struct {
	Devices []Device `yaml:"devices"`
}

// LoadFile reads the device table from a YAML document. A missing or
// malformed file is a startup-fatal condition for callers; LoadFile itself
// just reports the error.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Registry from raw YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	if len(file.Devices) == 0 {
		return nil, errors.New("registry contains no devices")
	}
	return New(file.Devices)
}

// New builds a Registry from an in-memory device list. Used by tests and by
// Parse. Validation failures (duplicate keys, out-of-range attributes) are
// returned as a single error.
func New(devices []Device) (*Registry, error) {
	r := &Registry{
		devices: make([]Device, len(devices)),
		byKey:   make(map[string]*Device, len(devices)*2),
	}
	copy(r.devices, devices)

	for i := range r.devices {
		d := &r.devices[i]
		if err := validateDevice(d); err != nil {
			return nil, err
		}
		key := NormalizeKey(d.Name)
		if _, dup := r.byKey[key]; dup {
			return nil, fmt.Errorf("duplicate device name %q", d.Name)
		}
		r.byKey[key] = d
		for _, alias := range d.Aliases {
			aliasKey := NormalizeKey(alias)
			if aliasKey == "" {
				continue
			}
			if existing, dup := r.byKey[aliasKey]; dup && existing != d {
				return nil, fmt.Errorf("alias %q of %s collides with %s", alias, d.Name, existing.Name)
			}
			r.byKey[aliasKey] = d
		}
	}
	return r, nil
}

func validateDevice(d *Device) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("device with empty name")
	}
	if strings.TrimSpace(d.Vendor) == "" {
		return fmt.Errorf("device %s: vendor is required", d.Name)
	}
	if d.VRAMGB < 0 {
		return fmt.Errorf("device %s: vram_gb must be >= 0", d.Name)
	}
	if d.TDPWatts < 0 {
		return fmt.Errorf("device %s: tdp_watts must be >= 0", d.Name)
	}
	if d.PartitionLevel < 0 || d.PartitionLevel > 7 {
		return fmt.Errorf("device %s: partition_level must be in 0..7", d.Name)
	}
	return nil
}

// NormalizeKey lowercases and collapses whitespace, underscores, and hyphens
// so that "RTX_A5000", "rtx a5000", and "RTX-A5000" share one lookup key.
func NormalizeKey(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '_' || r == '-'
	})
	return strings.Join(fields, " ")
}

// Lookup returns the device whose name or alias matches the given string
// case-insensitively and whitespace-normalized.
func (r *Registry) Lookup(name string) (*Device, bool) {
	d, ok := r.byKey[NormalizeKey(name)]
	return d, ok
}

// Get returns the device with exactly the given canonical name.
func (r *Registry) Get(name string) (*Device, bool) {
	for i := range r.devices {
		if r.devices[i].Name == name {
			return &r.devices[i], true
		}
	}
	return nil, false
}

// Devices returns all devices sorted by canonical name.
func (r *Registry) Devices() []Device {
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Keys returns every lookup key (normalized names and aliases) mapped to its
// canonical device name. The resolver's fuzzy stage scores candidates against
// this set.
func (r *Registry) Keys() map[string]string {
	out := make(map[string]string, len(r.byKey))
	for key, d := range r.byKey {
		out[key] = d.Name
	}
	return out
}

// Len returns the number of canonical devices.
func (r *Registry) Len() int { return len(r.devices) }
