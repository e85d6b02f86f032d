package payload

import (
	"errors"
	"fmt"

	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/danmuck/divelink/internal/protocol/schema"
)

// BlockLen bounds dive log and firmware chunk data blocks.
const BlockLen = 32

var ErrInvalidBody = errors.New("payload: invalid body")

// Body is a typed message payload. Its kind selects the frame kind.
type Body interface {
	Kind() frame.Kind
}

// CommandOp is the inner tag of a Command.
type CommandOp uint8

const (
	OpIdentify          = CommandOp(schema.CmdIdentify)
	OpReadSensor        = CommandOp(schema.CmdReadSensor)
	OpStartDive         = CommandOp(schema.CmdStartDive)
	OpEndDive           = CommandOp(schema.CmdEndDive)
	OpSetParameters     = CommandOp(schema.CmdSetParameters)
	OpGetParameters     = CommandOp(schema.CmdGetParameters)
	OpLogDive           = CommandOp(schema.CmdLogDive)
	OpGetDiveLog        = CommandOp(schema.CmdGetDiveLog)
	OpGetBatteryStatus  = CommandOp(schema.CmdGetBatteryStatus)
	OpEnterLowPowerMode = CommandOp(schema.CmdEnterLowPowerMode)
	OpExitLowPowerMode  = CommandOp(schema.CmdExitLowPowerMode)
	OpCalibrateSensors  = CommandOp(schema.CmdCalibrateSensors)
	OpRunDiagnostic     = CommandOp(schema.CmdRunDiagnostic)
	OpFactoryReset      = CommandOp(schema.CmdFactoryReset)
	OpFirmwareStart     = CommandOp(schema.CmdFirmwareStart)
	OpFirmwareChunk     = CommandOp(schema.CmdFirmwareChunk)
	OpFirmwareComplete  = CommandOp(schema.CmdFirmwareComplete)
)

var opNames = map[CommandOp]string{
	OpIdentify:          "identify",
	OpReadSensor:        "read_sensor",
	OpStartDive:         "start_dive",
	OpEndDive:           "end_dive",
	OpSetParameters:     "set_parameters",
	OpGetParameters:     "get_parameters",
	OpLogDive:           "log_dive",
	OpGetDiveLog:        "get_dive_log",
	OpGetBatteryStatus:  "get_battery_status",
	OpEnterLowPowerMode: "enter_low_power_mode",
	OpExitLowPowerMode:  "exit_low_power_mode",
	OpCalibrateSensors:  "calibrate_sensors",
	OpRunDiagnostic:     "run_diagnostic",
	OpFactoryReset:      "factory_reset",
	OpFirmwareStart:     "firmware_start",
	OpFirmwareChunk:     "firmware_chunk",
	OpFirmwareComplete:  "firmware_complete",
}

func (op CommandOp) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(0x%02X)", uint8(op))
}

// ParseCommandOp resolves a command name as printed by String.
func ParseCommandOp(name string) (CommandOp, bool) {
	for op, n := range opNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// ReadingType is the physical quantity a sensor reports.
type ReadingType uint8

const (
	ReadingDepth       ReadingType = 0x00
	ReadingTemperature ReadingType = 0x01
	ReadingPressure    ReadingType = 0x02
	ReadingBattery     ReadingType = 0x03
)

func (r ReadingType) Valid() bool {
	return r <= ReadingBattery
}

func (r ReadingType) String() string {
	switch r {
	case ReadingDepth:
		return "depth"
	case ReadingTemperature:
		return "temperature"
	case ReadingPressure:
		return "pressure"
	case ReadingBattery:
		return "battery"
	default:
		return fmt.Sprintf("reading(0x%02X)", uint8(r))
	}
}

// ParseReadingType resolves a reading name as printed by String.
func ParseReadingType(name string) (ReadingType, bool) {
	for r := ReadingDepth; r <= ReadingBattery; r++ {
		if r.String() == name {
			return r, true
		}
	}
	return 0, false
}

// Command is a request sent to the dive computer. Only the fields used by Op
// are encoded.
type Command struct {
	Op              CommandOp
	SensorID        uint16
	ReadingType     ReadingType
	MaxDepth        uint16
	MaxTime         uint16
	DiveID          uint32
	Data            []byte
	FirmwareVersion [4]byte
	TotalChunks     uint16
	ChunkID         uint16
}

func (Command) Kind() frame.Kind { return frame.KindCommand }

func (c Command) Validate() error {
	if _, ok := opNames[c.Op]; !ok {
		return fmt.Errorf("%w: unknown command op 0x%02X", ErrInvalidBody, uint8(c.Op))
	}
	switch c.Op {
	case OpReadSensor:
		if !c.ReadingType.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidBody, c.ReadingType)
		}
	case OpLogDive, OpFirmwareChunk:
		if len(c.Data) > BlockLen {
			return fmt.Errorf("%w: %s data has %d bytes, max %d", ErrInvalidBody, c.Op, len(c.Data), BlockLen)
		}
	}
	return nil
}

func Identify() Command { return Command{Op: OpIdentify} }

func ReadSensor(sensorID uint16, reading ReadingType) Command {
	return Command{Op: OpReadSensor, SensorID: sensorID, ReadingType: reading}
}

func SetParameters(maxDepth, maxTime uint16) Command {
	return Command{Op: OpSetParameters, MaxDepth: maxDepth, MaxTime: maxTime}
}

func LogDive(diveID uint32, data []byte) Command {
	return Command{Op: OpLogDive, DiveID: diveID, Data: data}
}

func GetDiveLog(diveID uint32) Command { return Command{Op: OpGetDiveLog, DiveID: diveID} }

func FirmwareStart(version [4]byte, totalChunks uint16) Command {
	return Command{Op: OpFirmwareStart, FirmwareVersion: version, TotalChunks: totalChunks}
}

func FirmwareChunk(chunkID uint16, data []byte) Command {
	return Command{Op: OpFirmwareChunk, ChunkID: chunkID, Data: data}
}

// Simple returns an argument-free command.
func Simple(op CommandOp) Command { return Command{Op: op} }

// ResponseStatus is the outcome carried by a Response.
type ResponseStatus uint8

const (
	StatusSuccess    ResponseStatus = 0x00
	StatusError      ResponseStatus = 0x01
	StatusInProgress ResponseStatus = 0x02
	StatusPending    ResponseStatus = 0x03
)

func (s ResponseStatus) Valid() bool { return s <= StatusPending }

func (s ResponseStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusInProgress:
		return "in_progress"
	case StatusPending:
		return "pending"
	default:
		return fmt.Sprintf("status(0x%02X)", uint8(s))
	}
}

// Response answers one Command.
type Response struct {
	ID        uint32
	CommandID uint32
	Status    ResponseStatus
	Timestamp uint64
	Payload   ResponsePayload
}

func (Response) Kind() frame.Kind { return frame.KindResponse }

// Err returns the error code of an error response, if any.
func (r Response) Err() (ErrorCode, bool) {
	if r.Status != StatusError {
		return 0, false
	}
	if info, ok := r.Payload.(ErrorInfo); ok {
		return info.Code, true
	}
	return InternalError, true
}

// Success builds a successful response.
func Success(payload ResponsePayload) Response {
	return Response{Status: StatusSuccess, Payload: payload}
}

// Failure builds an error response carrying code.
func Failure(code ErrorCode) Response {
	return Response{Status: StatusError, Payload: ErrorInfo{Code: code}}
}

// ResponsePayload is the optional data union of a Response.
type ResponsePayload interface {
	PayloadTag() uint8
}

type DeviceInfo struct {
	DeviceID        uint32
	FirmwareVersion [4]byte
	HardwareVersion [4]byte
}

type SensorData struct {
	SensorID    uint16
	ReadingType ReadingType
	Value       float32
}

// DiveParameters reports limits and progress; depths in centimeters.
type DiveParameters struct {
	MaxDepth     uint16
	MaxTime      uint16
	CurrentDepth uint16
	ElapsedTime  uint16
}

type DiveLog struct {
	DiveID uint32
	Data   []byte
}

type BatteryStatus struct {
	Level         uint8
	Voltage       uint16
	TimeRemaining uint16
}

type DiagnosticResults struct {
	Status     uint8
	ErrorCodes [4]byte
}

type ErrorInfo struct {
	Code ErrorCode
}

type AckInfo struct{}

func (DeviceInfo) PayloadTag() uint8        { return schema.RspDeviceInfo }
func (SensorData) PayloadTag() uint8        { return schema.RspSensorData }
func (DiveParameters) PayloadTag() uint8    { return schema.RspDiveParameters }
func (DiveLog) PayloadTag() uint8           { return schema.RspDiveLog }
func (BatteryStatus) PayloadTag() uint8     { return schema.RspBatteryStatus }
func (DiagnosticResults) PayloadTag() uint8 { return schema.RspDiagnosticResults }
func (ErrorInfo) PayloadTag() uint8         { return schema.RspErrorInfo }
func (AckInfo) PayloadTag() uint8           { return schema.RspAck }

// NotificationType is the inner tag of a Notification.
type NotificationType uint8

const (
	NotifySensorReading    = NotificationType(schema.NtfSensorReading)
	NotifyBatteryLow       = NotificationType(schema.NtfBatteryLow)
	NotifyDiveStateChanged = NotificationType(schema.NtfDiveStateChanged)
)

func (n NotificationType) String() string {
	switch n {
	case NotifySensorReading:
		return "sensor_reading"
	case NotifyBatteryLow:
		return "battery_low"
	case NotifyDiveStateChanged:
		return "dive_state_changed"
	default:
		return fmt.Sprintf("notification(0x%02X)", uint8(n))
	}
}

// DiveState is reported by DiveStateChanged notifications.
type DiveState uint8

const (
	DiveIdle   DiveState = 0x00
	DiveActive DiveState = 0x01
	DiveEnded  DiveState = 0x02
)

func (s DiveState) String() string {
	switch s {
	case DiveIdle:
		return "idle"
	case DiveActive:
		return "active"
	case DiveEnded:
		return "ended"
	default:
		return fmt.Sprintf("dive_state(0x%02X)", uint8(s))
	}
}

// Notification is an unsolicited event. No reply is expected.
type Notification struct {
	Type         NotificationType
	SensorID     uint16
	ReadingType  ReadingType
	Value        float32
	BatteryLevel uint8
	Voltage      uint16
	DiveState    DiveState
	Timestamp    uint64
}

func (Notification) Kind() frame.Kind { return frame.KindNotification }

// Ack acknowledges a frame without data.
type Ack struct{}

func (Ack) Kind() frame.Kind { return frame.KindAck }

// ErrorBody is the payload of an Error-kind frame.
type ErrorBody struct {
	Code   ErrorCode
	Detail []byte
}

func (ErrorBody) Kind() frame.Kind { return frame.KindError }

func (e ErrorBody) String() string {
	if len(e.Detail) == 0 {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Detail)
}
