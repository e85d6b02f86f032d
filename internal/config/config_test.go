package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/danmuck/divelink/internal/testutil/testlog"
)

func TestDefaultDeviceProfileIsValid(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultDeviceProfile()
	if err := ValidateDeviceProfile(cfg); err != nil {
		t.Fatalf("default profile invalid: %v", err)
	}
	if cfg.DeviceID != 12345 || len(cfg.Sensors) != 3 {
		t.Fatalf("unexpected default profile: %+v", cfg)
	}
	readings, err := SensorReadings(cfg.Sensors[1])
	if err != nil {
		t.Fatalf("sensor readings: %v", err)
	}
	if readings[payload.ReadingDepth] != 12.4 {
		t.Fatalf("unexpected depth reading: %v", readings[payload.ReadingDepth])
	}
}

func TestWriteTemplateAndLoad(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "device.toml")
	if err := WriteTemplate(path, "device", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "device", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, "device", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	cfg, err := LoadDeviceProfile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Battery.Level != 85 || cfg.Limits.MaxDepthCM != 4000 {
		t.Fatalf("unexpected profile: %+v", cfg)
	}
}

func TestLoadDeviceProfileRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing id", body: `firmware_version = "1.0.0.0"`, want: "device_id"},
		{name: "bad version", body: "device_id = 1\nfirmware_version = \"1.0\"", want: "firmware_version"},
		{name: "bad reading", body: "device_id = 1\n[[sensors]]\nid = 1\nname = \"x\"\nreadings = { salinity = 1.0 }", want: "salinity"},
		{name: "duplicate sensor", body: "device_id = 1\n[[sensors]]\nid = 1\nname = \"a\"\nreadings = { depth = 1.0 }\n[[sensors]]\nid = 1\nname = \"b\"\nreadings = { depth = 1.0 }", want: "duplicate"},
		{name: "parse", body: "device_id = ", want: "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "device.toml")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := LoadDeviceProfile(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	testlog.Start(t)
	v, err := ParseVersion("1.0.0.2")
	if err != nil || v != [4]byte{1, 0, 0, 2} {
		t.Fatalf("unexpected version: %v %v", v, err)
	}
	if FormatVersion(v) != "1.0.0.2" {
		t.Fatalf("format mismatch: %s", FormatVersion(v))
	}
	if _, err := ParseVersion("1.0.0.256"); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestTemplateUnknownKind(t *testing.T) {
	testlog.Start(t)
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := Template("daemon"); err != nil {
		t.Fatalf("daemon template: %v", err)
	}
}
