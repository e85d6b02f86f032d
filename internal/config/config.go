package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DeviceProfile describes the simulated dive computer a daemon serves.
type DeviceProfile struct {
	DeviceID        uint32         `toml:"device_id"`
	FirmwareVersion string         `toml:"firmware_version"`
	HardwareVersion string         `toml:"hardware_version"`
	Battery         BatteryConfig  `toml:"battery"`
	Limits          LimitsConfig   `toml:"limits"`
	Sensors         []SensorConfig `toml:"sensors"`
}

type BatteryConfig struct {
	Level         uint8  `toml:"level"`
	VoltageMV     uint16 `toml:"voltage_mv"`
	TimeRemaining uint16 `toml:"time_remaining_min"`
	LowThreshold  uint8  `toml:"low_threshold"`
}

// LimitsConfig bounds SetParameters; depth in centimeters, time in minutes.
type LimitsConfig struct {
	MaxDepthCM uint16 `toml:"max_depth_cm"`
	MaxTimeMin uint16 `toml:"max_time_min"`
}

type SensorConfig struct {
	ID       uint16             `toml:"id"`
	Name     string             `toml:"name"`
	Readings map[string]float32 `toml:"readings"`
}

func LoadDeviceProfile(path string) (DeviceProfile, error) {
	var cfg DeviceProfile
	if err := loadToml(path, &cfg); err != nil {
		return DeviceProfile{}, err
	}
	cfg = cfg.withDefaults()
	if err := ValidateDeviceProfile(cfg); err != nil {
		return DeviceProfile{}, err
	}
	return cfg, nil
}

// DefaultDeviceProfile matches the device template.
func DefaultDeviceProfile() DeviceProfile {
	var cfg DeviceProfile
	if err := toml.Unmarshal([]byte(deviceTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("device template invalid: %v", err))
	}
	return cfg.withDefaults()
}

func (cfg DeviceProfile) withDefaults() DeviceProfile {
	if cfg.FirmwareVersion == "" {
		cfg.FirmwareVersion = "1.0.0.0"
	}
	if cfg.HardwareVersion == "" {
		cfg.HardwareVersion = "1.0.0.0"
	}
	if cfg.Battery.VoltageMV == 0 {
		cfg.Battery.VoltageMV = 3700
	}
	if cfg.Battery.LowThreshold == 0 {
		cfg.Battery.LowThreshold = 10
	}
	if cfg.Limits.MaxDepthCM == 0 {
		cfg.Limits.MaxDepthCM = 4000
	}
	if cfg.Limits.MaxTimeMin == 0 {
		cfg.Limits.MaxTimeMin = 180
	}
	return cfg
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDeviceProfile(cfg DeviceProfile) error {
	if cfg.DeviceID == 0 {
		return fmt.Errorf("device profile missing device_id")
	}
	if _, err := ParseVersion(cfg.FirmwareVersion); err != nil {
		return fmt.Errorf("firmware_version invalid: %w", err)
	}
	if _, err := ParseVersion(cfg.HardwareVersion); err != nil {
		return fmt.Errorf("hardware_version invalid: %w", err)
	}
	if cfg.Battery.Level > 100 {
		return fmt.Errorf("battery level %d out of range", cfg.Battery.Level)
	}
	seen := make(map[uint16]struct{}, len(cfg.Sensors))
	for i, sensor := range cfg.Sensors {
		if err := ValidateSensorEntry(sensor); err != nil {
			return fmt.Errorf("sensor[%d] invalid: %w", i, err)
		}
		if _, dup := seen[sensor.ID]; dup {
			return fmt.Errorf("sensor[%d] invalid: duplicate id %d", i, sensor.ID)
		}
		seen[sensor.ID] = struct{}{}
	}
	return nil
}

func ValidateSensorEntry(cfg SensorConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(cfg.Readings) == 0 {
		return fmt.Errorf("at least one reading is required")
	}
	for name := range cfg.Readings {
		if _, err := ParseReading(name); err != nil {
			return err
		}
	}
	return nil
}
