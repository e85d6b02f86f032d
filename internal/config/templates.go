package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "device":
		return deviceTemplate, nil
	case "daemon":
		return daemonTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const deviceTemplate = `device_id = 12345
firmware_version = "1.0.0.0"
hardware_version = "1.0.0.2"

[battery]
level = 85
voltage_mv = 3720
time_remaining_min = 120
low_threshold = 10

[limits]
max_depth_cm = 4000
max_time_min = 180

[[sensors]]
id = 1
name = "thermistor"
readings = { temperature = 18.5 }

[[sensors]]
id = 2
name = "pressure-transducer"
readings = { depth = 12.4, pressure = 2.24 }

[[sensors]]
id = 3
name = "fuel-gauge"
readings = { battery = 85.0 }
`

const daemonTemplate = `name = "divelinkd"
transport = "tcp"
addr = ":7420"
serial_port = "/dev/ttyUSB0"
baud = 115200
admin_addr = ":7421"
admin_token = ""
cors_origins = ["http://localhost:3000"]
device_profile = "device.toml"
sample_interval = "1s"

[session]
request_timeout = "2s"
expire_interval = "100ms"
write_timeout = "1s"
max_attempts = 3
read_buffer_size = 512
`
