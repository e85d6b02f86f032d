package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/divelink/internal/protocol/session"
)

var ErrInvalidTransport = errors.New("divelinkd: transport must be tcp or serial")

type daemonConfig struct {
	Name           string
	Transport      string
	Addr           string
	SerialPort     string
	Baud           int
	AdminAddr      string
	AdminToken     string
	CORSOrigins    []string
	DeviceProfile  string
	SampleInterval time.Duration
	Session        session.Config
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Name:           "divelinkd",
		Transport:      "tcp",
		Addr:           ":7420",
		Baud:           115200,
		AdminAddr:      "",
		CORSOrigins:    []string{},
		SampleInterval: time.Second,
		Session:        session.DefaultConfig(),
	}
}

type fileConfig struct {
	Name           string        `toml:"name"`
	Transport      string        `toml:"transport"`
	Addr           string        `toml:"addr"`
	SerialPort     string        `toml:"serial_port"`
	Baud           int           `toml:"baud"`
	AdminAddr      string        `toml:"admin_addr"`
	AdminToken     string        `toml:"admin_token"`
	CORSOrigins    []string      `toml:"cors_origins"`
	DeviceProfile  string        `toml:"device_profile"`
	SampleInterval string        `toml:"sample_interval"`
	Session        sessionConfig `toml:"session"`
}

type sessionConfig struct {
	RequestTimeout string `toml:"request_timeout"`
	ExpireInterval string `toml:"expire_interval"`
	WriteTimeout   string `toml:"write_timeout"`
	MaxAttempts    int    `toml:"max_attempts"`
	ReadBufferSize int    `toml:"read_buffer_size"`
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemonConfig{}, fmt.Errorf("load divelinkd config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("serial_port") {
		cfg.SerialPort = strings.TrimSpace(raw.SerialPort)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("device_profile") {
		cfg.DeviceProfile = strings.TrimSpace(raw.DeviceProfile)
		if cfg.DeviceProfile != "" && !filepath.IsAbs(cfg.DeviceProfile) {
			cfg.DeviceProfile = filepath.Join(filepath.Dir(path), cfg.DeviceProfile)
		}
	}
	if meta.IsDefined("sample_interval") {
		d, err := parseDuration("sample_interval", raw.SampleInterval)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg.SampleInterval = d
	}

	if meta.IsDefined("session", "request_timeout") {
		d, err := parseDuration("session.request_timeout", raw.Session.RequestTimeout)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg.Session.RequestTimeout = d
	}
	if meta.IsDefined("session", "expire_interval") {
		d, err := parseDuration("session.expire_interval", raw.Session.ExpireInterval)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg.Session.ExpireInterval = d
	}
	if meta.IsDefined("session", "write_timeout") {
		d, err := parseDuration("session.write_timeout", raw.Session.WriteTimeout)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("session", "max_attempts") {
		cfg.Session.MaxAttempts = raw.Session.MaxAttempts
	}
	if meta.IsDefined("session", "read_buffer_size") {
		cfg.Session.ReadBufferSize = raw.Session.ReadBufferSize
	}
	cfg.Session = cfg.Session.WithDefaults()

	if err := validateDaemonConfig(cfg); err != nil {
		return daemonConfig{}, err
	}
	return cfg, nil
}

func validateDaemonConfig(cfg daemonConfig) error {
	switch cfg.Transport {
	case "tcp":
		if cfg.Addr == "" {
			return fmt.Errorf("divelinkd: addr required for tcp transport")
		}
	case "serial":
		if cfg.SerialPort == "" {
			return fmt.Errorf("divelinkd: serial_port required for serial transport")
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, cfg.Transport)
	}
	if cfg.SampleInterval <= 0 {
		return fmt.Errorf("divelinkd: sample_interval must be positive")
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
