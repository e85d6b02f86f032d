package payload

import "fmt"

// ErrorCode is the one-byte code carried by Error-kind payloads and
// ErrorInfo response payloads. Values outside the defined set are kept as-is.
type ErrorCode uint8

const (
	InvalidCommand          ErrorCode = 0x01
	SensorNotFound          ErrorCode = 0x02
	ReadingTypeNotSupported ErrorCode = 0x03
	SensorCommFailure       ErrorCode = 0x04
	DeviceBusy              ErrorCode = 0x05
	InvalidParameters       ErrorCode = 0x06
	Timeout                 ErrorCode = 0x07
	InsufficientPermissions ErrorCode = 0x08
	LowBattery              ErrorCode = 0x09
	InternalError           ErrorCode = 0x0A
)

// Known reports whether c is one of the defined codes.
func (c ErrorCode) Known() bool {
	return c >= InvalidCommand && c <= InternalError
}

func (c ErrorCode) String() string {
	switch c {
	case InvalidCommand:
		return "invalid command"
	case SensorNotFound:
		return "sensor not found"
	case ReadingTypeNotSupported:
		return "reading type not supported"
	case SensorCommFailure:
		return "sensor communication failure"
	case DeviceBusy:
		return "device busy"
	case InvalidParameters:
		return "invalid parameters"
	case Timeout:
		return "timeout"
	case InsufficientPermissions:
		return "insufficient permissions"
	case LowBattery:
		return "low battery"
	case InternalError:
		return "internal error"
	default:
		return fmt.Sprintf("unknown code %d", uint8(c))
	}
}

// Error lets handlers return a code directly, or wrap one with %w.
func (c ErrorCode) Error() string {
	return fmt.Sprintf("device error 0x%02X: %s", uint8(c), c.String())
}
