package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/divelink/internal/config"
	"github.com/danmuck/divelink/internal/protocol/session"
	"github.com/danmuck/divelink/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDaemonConfigFromTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteTemplate(path, "daemon", false); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cfg, err := loadDaemonConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "divelinkd" || cfg.Transport != "tcp" || cfg.Addr != ":7420" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.SerialPort != "/dev/ttyUSB0" || cfg.Baud != 115200 {
		t.Fatalf("unexpected serial settings: %q %d", cfg.SerialPort, cfg.Baud)
	}
	if cfg.AdminAddr != ":7421" {
		t.Fatalf("unexpected admin addr: %q", cfg.AdminAddr)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CORSOrigins)
	}
	if cfg.DeviceProfile != filepath.Join(filepath.Dir(path), "device.toml") {
		t.Fatalf("unexpected device profile: %q", cfg.DeviceProfile)
	}
	if cfg.SampleInterval != time.Second {
		t.Fatalf("unexpected sample interval: %v", cfg.SampleInterval)
	}
	if cfg.Session.RequestTimeout != 2*time.Second || cfg.Session.ExpireInterval != 100*time.Millisecond {
		t.Fatalf("unexpected session timing: %+v", cfg.Session)
	}
	if cfg.Session.MaxAttempts != 3 || cfg.Session.ReadBufferSize != 512 {
		t.Fatalf("unexpected session limits: %+v", cfg.Session)
	}
}

func TestLoadDaemonConfigPartialOverlay(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
transport = "serial"
serial_port = " /dev/ttyACM0 "

[session]
request_timeout = "750ms"
`)
	cfg, err := loadDaemonConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	defaults := session.DefaultConfig()
	if cfg.Transport != "serial" || cfg.SerialPort != "/dev/ttyACM0" {
		t.Fatalf("unexpected transport: %q %q", cfg.Transport, cfg.SerialPort)
	}
	if cfg.Name != "divelinkd" || cfg.Baud != 115200 {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.Session.RequestTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected request timeout: %v", cfg.Session.RequestTimeout)
	}
	if cfg.Session.MaxAttempts != defaults.MaxAttempts || cfg.Session.ExpireInterval != defaults.ExpireInterval {
		t.Fatalf("session defaults not kept: %+v", cfg.Session)
	}
}

func TestLoadDaemonConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		body string
		is   error
	}{
		{name: "unknown transport", body: `transport = "ble"`, is: ErrInvalidTransport},
		{name: "serial without port", body: `transport = "serial"`},
		{name: "bad duration", body: "[session]\nrequest_timeout = \"soon\""},
		{name: "bad sample interval", body: `sample_interval = "0s"`},
		{name: "malformed toml", body: `transport = `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadDaemonConfig(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("expected %v, got %v", tc.is, err)
			}
		})
	}
}
