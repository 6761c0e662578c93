package registry

import (
	"strings"
	"testing"
)

func testDevices() []Device {
	return []Device{
		{
			Name:           "RTX_A5000",
			Vendor:         "NVIDIA",
			VRAMGB:         24,
			TDPWatts:       230,
			PartitionLevel: 0,
			Interconnect:   true,
			Architecture:   "Ampere",
			Aliases:        []string{"RTX A5000", "Quadro RTX A5000"},
		},
		{
			Name:           "A100_80GB",
			Vendor:         "NVIDIA",
			VRAMGB:         80,
			TDPWatts:       400,
			PartitionLevel: 7,
			Interconnect:   true,
			Architecture:   "Ampere",
		},
		{
			Name:         "RX_6700_XT",
			Vendor:       "AMD",
			VRAMGB:       12,
			TDPWatts:     230,
			Architecture: "RDNA2",
		},
	}
}

func TestParse(t *testing.T) {
	data := []byte(`devices:
  - name: RTX_A5000
    vendor: NVIDIA
    vram_gb: 24
    tdp_watts: 230
    partition_level: 0
    interconnect: true
    architecture: Ampere
    aliases: ["RTX A5000"]
`)
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d, ok := r.Lookup("rtx a5000")
	if !ok {
		t.Fatal("expected alias lookup to resolve")
	}
	if d.Name != "RTX_A5000" || d.VRAMGB != 24 || !d.Interconnect {
		t.Errorf("unexpected device %+v", d)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse([]byte("devices: []")); err == nil {
		t.Fatal("expected error for empty registry")
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RTX_A5000", "rtx a5000"},
		{"rtx a5000", "rtx a5000"},
		{"RTX-A5000", "rtx a5000"},
		{"  RTX  \tA5000 ", "rtx a5000"},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestLookupVariants verifies name, alias, and case-insensitive lookups all
// resolve to the same device.
func TestLookupVariants(t *testing.T) {
	r, err := New(testDevices())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, name := range []string{"RTX_A5000", "rtx_a5000", "RTX A5000", "quadro rtx a5000"} {
		d, ok := r.Lookup(name)
		if !ok {
			t.Errorf("Lookup(%q) failed", name)
			continue
		}
		if d.Name != "RTX_A5000" {
			t.Errorf("Lookup(%q) = %s, want RTX_A5000", name, d.Name)
		}
	}

	if _, ok := r.Lookup("RTX_9999"); ok {
		t.Error("Lookup of unknown name should fail")
	}
}

func TestGetExactOnly(t *testing.T) {
	r, err := New(testDevices())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := r.Get("RTX_A5000"); !ok {
		t.Error("Get(RTX_A5000) should succeed")
	}
	// Get is exact canonical, not normalized.
	if _, ok := r.Get("rtx a5000"); ok {
		t.Error("Get with non-canonical spelling should fail")
	}
}

func TestDuplicateName(t *testing.T) {
	devices := testDevices()
	devices = append(devices, Device{Name: "rtx-a5000", Vendor: "NVIDIA"})
	if _, err := New(devices); err == nil {
		t.Fatal("expected error for normalized-duplicate name")
	}
}

func TestAliasCollision(t *testing.T) {
	devices := testDevices()
	devices[1].Aliases = []string{"RTX A5000"}
	_, err := New(devices)
	if err == nil {
		t.Fatal("expected error for cross-device alias collision")
	}
	if !strings.Contains(err.Error(), "collides") {
		t.Errorf("error = %q, want it to mention collision", err)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		device Device
	}{
		{"empty name", Device{Vendor: "NVIDIA"}},
		{"empty vendor", Device{Name: "X"}},
		{"negative vram", Device{Name: "X", Vendor: "NVIDIA", VRAMGB: -1}},
		{"partition out of range", Device{Name: "X", Vendor: "NVIDIA", PartitionLevel: 8}},
	}
	for _, tt := range tests {
		if _, err := New([]Device{tt.device}); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestDevicesSorted(t *testing.T) {
	r, err := New(testDevices())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	devices := r.Devices()
	for i := 1; i < len(devices); i++ {
		if devices[i].Name < devices[i-1].Name {
			t.Fatalf("Devices not sorted: %s before %s", devices[i-1].Name, devices[i].Name)
		}
	}
}

func TestKeysIncludeAliases(t *testing.T) {
	r, err := New(testDevices())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	keys := r.Keys()
	if keys["quadro rtx a5000"] != "RTX_A5000" {
		t.Errorf("alias key missing from Keys: %v", keys)
	}
	if keys["a100 80gb"] != "A100_80GB" {
		t.Errorf("name key missing from Keys: %v", keys)
	}
}
