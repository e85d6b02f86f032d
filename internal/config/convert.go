package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/divelink/internal/protocol/payload"
)

// ParseVersion reads a dotted four-part version such as "1.0.0.2".
func ParseVersion(raw string) ([4]byte, error) {
	var out [4]byte
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != len(out) {
		return out, fmt.Errorf("version %q must have 4 parts", raw)
	}
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return out, fmt.Errorf("version %q part %d: %w", raw, i, err)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// FormatVersion is the inverse of ParseVersion.
func FormatVersion(v [4]byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}

// ParseReading resolves a reading name used as a sensor readings key.
func ParseReading(name string) (payload.ReadingType, error) {
	r, ok := payload.ParseReadingType(strings.ToLower(strings.TrimSpace(name)))
	if !ok {
		return 0, fmt.Errorf("unknown reading type %q", name)
	}
	return r, nil
}

// SensorReadings converts a sensor's configured readings to typed values.
func SensorReadings(cfg SensorConfig) (map[payload.ReadingType]float32, error) {
	out := make(map[payload.ReadingType]float32, len(cfg.Readings))
	for name, value := range cfg.Readings {
		r, err := ParseReading(name)
		if err != nil {
			return nil, err
		}
		out[r] = value
	}
	return out, nil
}
