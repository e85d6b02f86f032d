package schema

import (
	"fmt"

	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/danmuck/divelink/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Command tags (inner tag of Command-kind payloads).
const (
	CmdIdentify          uint8 = 0x01
	CmdReadSensor        uint8 = 0x02
	CmdStartDive         uint8 = 0x03
	CmdEndDive           uint8 = 0x04
	CmdSetParameters     uint8 = 0x05
	CmdGetParameters     uint8 = 0x06
	CmdLogDive           uint8 = 0x07
	CmdGetDiveLog        uint8 = 0x08
	CmdGetBatteryStatus  uint8 = 0x09
	CmdEnterLowPowerMode uint8 = 0x0A
	CmdExitLowPowerMode  uint8 = 0x0B
	CmdCalibrateSensors  uint8 = 0x0C
	CmdRunDiagnostic     uint8 = 0x0D
	CmdFactoryReset      uint8 = 0x0E
	CmdFirmwareStart     uint8 = 0x0F
	CmdFirmwareChunk     uint8 = 0x10
	CmdFirmwareComplete  uint8 = 0x11
)

// Response payload tags. RspNone marks a response without payload.
const (
	RspNone              uint8 = 0x00
	RspDeviceInfo        uint8 = 0x01
	RspSensorData        uint8 = 0x02
	RspDiveParameters    uint8 = 0x03
	RspDiveLog           uint8 = 0x04
	RspBatteryStatus     uint8 = 0x05
	RspDiagnosticResults uint8 = 0x06
	RspErrorInfo         uint8 = 0x07
	RspAck               uint8 = 0x08
)

// Notification tags.
const (
	NtfSensorReading    uint8 = 0x01
	NtfBatteryLow       uint8 = 0x02
	NtfDiveStateChanged uint8 = 0x03
)

// Field IDs.
const (
	FieldSensorID        uint8 = 1
	FieldReadingType     uint8 = 2
	FieldMaxDepth        uint8 = 3
	FieldMaxTime         uint8 = 4
	FieldDiveID          uint8 = 5
	FieldData            uint8 = 6
	FieldFirmwareVersion uint8 = 7
	FieldTotalChunks     uint8 = 8
	FieldChunkID         uint8 = 9

	FieldResponseID uint8 = 16
	FieldCommandID  uint8 = 17
	FieldStatus     uint8 = 18
	FieldTimestamp  uint8 = 19

	FieldDeviceID        uint8 = 32
	FieldHardwareVersion uint8 = 33
	FieldValue           uint8 = 34
	FieldCurrentDepth    uint8 = 35
	FieldElapsedTime     uint8 = 36
	FieldBatteryLevel    uint8 = 37
	FieldVoltage         uint8 = 38
	FieldTimeRemaining   uint8 = 39
	FieldDiagStatus      uint8 = 40
	FieldDiagCodes       uint8 = 41
	FieldErrorCode       uint8 = 42

	FieldDiveState uint8 = 48
)

// Key selects one payload schema: a kind plus its inner tag.
type Key struct {
	Kind frame.Kind
	Tag  uint8
}

type Requirement struct {
	ID   uint8
	Type uint8
}

type ValidationError struct {
	Key     Key
	FieldID uint8
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: kind=%s tag=0x%02X: %s", e.Key.Kind, e.Key.Tag, e.Reason)
	}
	return fmt.Sprintf("schema: kind=%s tag=0x%02X field=%d: %s", e.Key.Kind, e.Key.Tag, e.FieldID, e.Reason)
}

var responseEnvelope = []Requirement{
	{FieldResponseID, tlv.TypeU32},
	{FieldCommandID, tlv.TypeU32},
	{FieldStatus, tlv.TypeU8},
	{FieldTimestamp, tlv.TypeU64},
}

var requirements = map[Key][]Requirement{
	{frame.KindCommand, CmdIdentify}: nil,
	{frame.KindCommand, CmdReadSensor}: {
		{FieldSensorID, tlv.TypeU16},
		{FieldReadingType, tlv.TypeU8},
	},
	{frame.KindCommand, CmdStartDive}: nil,
	{frame.KindCommand, CmdEndDive}:   nil,
	{frame.KindCommand, CmdSetParameters}: {
		{FieldMaxDepth, tlv.TypeU16},
		{FieldMaxTime, tlv.TypeU16},
	},
	{frame.KindCommand, CmdGetParameters}: nil,
	{frame.KindCommand, CmdLogDive}: {
		{FieldDiveID, tlv.TypeU32},
		{FieldData, tlv.TypeBytes},
	},
	{frame.KindCommand, CmdGetDiveLog}: {
		{FieldDiveID, tlv.TypeU32},
	},
	{frame.KindCommand, CmdGetBatteryStatus}:  nil,
	{frame.KindCommand, CmdEnterLowPowerMode}: nil,
	{frame.KindCommand, CmdExitLowPowerMode}:  nil,
	{frame.KindCommand, CmdCalibrateSensors}:  nil,
	{frame.KindCommand, CmdRunDiagnostic}:     nil,
	{frame.KindCommand, CmdFactoryReset}:      nil,
	{frame.KindCommand, CmdFirmwareStart}: {
		{FieldFirmwareVersion, tlv.TypeBytes},
		{FieldTotalChunks, tlv.TypeU16},
	},
	{frame.KindCommand, CmdFirmwareChunk}: {
		{FieldChunkID, tlv.TypeU16},
		{FieldData, tlv.TypeBytes},
	},
	{frame.KindCommand, CmdFirmwareComplete}: nil,

	{frame.KindResponse, RspNone}: responseEnvelope,
	{frame.KindResponse, RspDeviceInfo}: withEnvelope(
		Requirement{FieldDeviceID, tlv.TypeU32},
		Requirement{FieldFirmwareVersion, tlv.TypeBytes},
		Requirement{FieldHardwareVersion, tlv.TypeBytes},
	),
	{frame.KindResponse, RspSensorData}: withEnvelope(
		Requirement{FieldSensorID, tlv.TypeU16},
		Requirement{FieldReadingType, tlv.TypeU8},
		Requirement{FieldValue, tlv.TypeF32},
	),
	{frame.KindResponse, RspDiveParameters}: withEnvelope(
		Requirement{FieldMaxDepth, tlv.TypeU16},
		Requirement{FieldMaxTime, tlv.TypeU16},
		Requirement{FieldCurrentDepth, tlv.TypeU16},
		Requirement{FieldElapsedTime, tlv.TypeU16},
	),
	{frame.KindResponse, RspDiveLog}: withEnvelope(
		Requirement{FieldDiveID, tlv.TypeU32},
		Requirement{FieldData, tlv.TypeBytes},
	),
	{frame.KindResponse, RspBatteryStatus}: withEnvelope(
		Requirement{FieldBatteryLevel, tlv.TypeU8},
		Requirement{FieldVoltage, tlv.TypeU16},
		Requirement{FieldTimeRemaining, tlv.TypeU16},
	),
	{frame.KindResponse, RspDiagnosticResults}: withEnvelope(
		Requirement{FieldDiagStatus, tlv.TypeU8},
		Requirement{FieldDiagCodes, tlv.TypeBytes},
	),
	{frame.KindResponse, RspErrorInfo}: withEnvelope(
		Requirement{FieldErrorCode, tlv.TypeU8},
	),
	{frame.KindResponse, RspAck}: responseEnvelope,

	{frame.KindNotification, NtfSensorReading}: {
		{FieldSensorID, tlv.TypeU16},
		{FieldReadingType, tlv.TypeU8},
		{FieldValue, tlv.TypeF32},
		{FieldTimestamp, tlv.TypeU64},
	},
	{frame.KindNotification, NtfBatteryLow}: {
		{FieldBatteryLevel, tlv.TypeU8},
		{FieldVoltage, tlv.TypeU16},
	},
	{frame.KindNotification, NtfDiveStateChanged}: {
		{FieldDiveState, tlv.TypeU8},
		{FieldTimestamp, tlv.TypeU64},
	},
}

func withEnvelope(extra ...Requirement) []Requirement {
	out := make([]Requirement, 0, len(responseEnvelope)+len(extra))
	out = append(out, responseEnvelope...)
	return append(out, extra...)
}

// Known reports whether a schema exists for key.
func Known(key Key) bool {
	_, ok := requirements[key]
	return ok
}

// Requirements returns the required fields for key.
func Requirements(key Key) ([]Requirement, bool) {
	reqs, ok := requirements[key]
	return reqs, ok
}

// Validate enforces required fields and required field types for key.
// Unknown fields are ignored.
func Validate(key Key, fields []tlv.Field) error {
	reqs, ok := requirements[key]
	if !ok {
		log.Debug().Stringer("kind", key.Kind).Uint8("tag", key.Tag).Msg("schema: unknown tag")
		return ValidationError{Key: key, Reason: "unknown tag"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Stringer("kind", key.Kind).
				Uint8("tag", key.Tag).
				Uint8("field", req.ID).
				Msg("schema: missing required field")
			return ValidationError{Key: key, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Stringer("kind", key.Kind).
				Uint8("tag", key.Tag).
				Uint8("field", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema: type mismatch")
			return ValidationError{Key: key, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
