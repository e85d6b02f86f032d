package payload

import (
	"errors"
	"fmt"

	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/danmuck/divelink/internal/protocol/schema"
	"github.com/danmuck/divelink/internal/protocol/tlv"
)

var (
	ErrUnknownKind     = errors.New("payload: unknown kind")
	ErrEmptyPayload    = errors.New("payload: empty payload")
	ErrUnexpectedBytes = errors.New("payload: unexpected payload bytes")
	ErrUnsupportedBody = errors.New("payload: unsupported body type")
)

// Serializer turns typed bodies into payload bytes and back. Implementations
// must be deterministic. Payloads need not be self-delimiting; the frame
// supplies the exact length.
type Serializer interface {
	Serialize(body Body) ([]byte, error)
	Deserialize(kind frame.Kind, b []byte) (Body, error)
}

// TLV is the default Serializer.
//
// Command, Response and Notification payloads are one inner tag byte followed
// by TLV fields in a fixed order. Ack payloads are empty. Error payloads are
// the code byte followed by optional diagnostic bytes.
type TLV struct{}

var _ Serializer = TLV{}

func (TLV) Serialize(body Body) ([]byte, error) {
	switch b := body.(type) {
	case Command:
		return encodeCommand(b)
	case *Command:
		return encodeCommand(*b)
	case Response:
		return encodeResponse(b)
	case *Response:
		return encodeResponse(*b)
	case Notification:
		return encodeNotification(b)
	case *Notification:
		return encodeNotification(*b)
	case Ack, *Ack:
		return []byte{}, nil
	case ErrorBody:
		return encodeError(b), nil
	case *ErrorBody:
		return encodeError(*b), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedBody, body)
	}
}

func (TLV) Deserialize(kind frame.Kind, b []byte) (Body, error) {
	switch kind {
	case frame.KindCommand:
		return decodeCommand(b)
	case frame.KindResponse:
		return decodeResponse(b)
	case frame.KindNotification:
		return decodeNotification(b)
	case frame.KindAck:
		if len(b) != 0 {
			return nil, fmt.Errorf("%w: ack carries %d bytes", ErrUnexpectedBytes, len(b))
		}
		return Ack{}, nil
	case frame.KindError:
		return decodeError(b)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

func tagged(tag uint8, fields []tlv.Field) ([]byte, error) {
	body, err := tlv.EncodeFields(fields)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, tag)
	return append(out, body...), nil
}

// untag splits off the inner tag and validates the remaining fields against
// the schema for (kind, tag).
func untag(kind frame.Kind, b []byte) (uint8, []tlv.Field, error) {
	if len(b) == 0 {
		return 0, nil, fmt.Errorf("%w: %s", ErrEmptyPayload, kind)
	}
	key := schema.Key{Kind: kind, Tag: b[0]}
	if !schema.Known(key) {
		return 0, nil, schema.ValidationError{Key: key, Reason: "unknown tag"}
	}
	fields, err := tlv.DecodeFields(b[1:])
	if err != nil {
		return 0, nil, err
	}
	if err := schema.Validate(key, fields); err != nil {
		return 0, nil, err
	}
	return b[0], fields, nil
}

func encodeCommand(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var fields []tlv.Field
	switch c.Op {
	case OpReadSensor:
		fields = []tlv.Field{
			tlv.U16(schema.FieldSensorID, c.SensorID),
			tlv.U8(schema.FieldReadingType, uint8(c.ReadingType)),
		}
	case OpSetParameters:
		fields = []tlv.Field{
			tlv.U16(schema.FieldMaxDepth, c.MaxDepth),
			tlv.U16(schema.FieldMaxTime, c.MaxTime),
		}
	case OpLogDive:
		fields = []tlv.Field{
			tlv.U32(schema.FieldDiveID, c.DiveID),
			tlv.Bytes(schema.FieldData, c.Data),
		}
	case OpGetDiveLog:
		fields = []tlv.Field{tlv.U32(schema.FieldDiveID, c.DiveID)}
	case OpFirmwareStart:
		fields = []tlv.Field{
			tlv.Bytes(schema.FieldFirmwareVersion, c.FirmwareVersion[:]),
			tlv.U16(schema.FieldTotalChunks, c.TotalChunks),
		}
	case OpFirmwareChunk:
		fields = []tlv.Field{
			tlv.U16(schema.FieldChunkID, c.ChunkID),
			tlv.Bytes(schema.FieldData, c.Data),
		}
	}
	return tagged(uint8(c.Op), fields)
}

func decodeCommand(b []byte) (Body, error) {
	tag, fields, err := untag(frame.KindCommand, b)
	if err != nil {
		return nil, err
	}
	r := fieldReader{fields: fields}
	c := Command{Op: CommandOp(tag)}
	switch c.Op {
	case OpReadSensor:
		c.SensorID = r.u16(schema.FieldSensorID)
		c.ReadingType = ReadingType(r.u8(schema.FieldReadingType))
	case OpSetParameters:
		c.MaxDepth = r.u16(schema.FieldMaxDepth)
		c.MaxTime = r.u16(schema.FieldMaxTime)
	case OpLogDive:
		c.DiveID = r.u32(schema.FieldDiveID)
		c.Data = r.bytes(schema.FieldData)
	case OpGetDiveLog:
		c.DiveID = r.u32(schema.FieldDiveID)
	case OpFirmwareStart:
		c.FirmwareVersion = r.quad(schema.FieldFirmwareVersion)
		c.TotalChunks = r.u16(schema.FieldTotalChunks)
	case OpFirmwareChunk:
		c.ChunkID = r.u16(schema.FieldChunkID)
		c.Data = r.bytes(schema.FieldData)
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func encodeResponse(r Response) ([]byte, error) {
	if !r.Status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBody, r.Status)
	}
	fields := []tlv.Field{
		tlv.U32(schema.FieldResponseID, r.ID),
		tlv.U32(schema.FieldCommandID, r.CommandID),
		tlv.U8(schema.FieldStatus, uint8(r.Status)),
		tlv.U64(schema.FieldTimestamp, r.Timestamp),
	}
	tag := schema.RspNone
	if r.Payload != nil {
		tag = r.Payload.PayloadTag()
	}
	switch p := r.Payload.(type) {
	case nil, AckInfo:
	case DeviceInfo:
		fields = append(fields,
			tlv.U32(schema.FieldDeviceID, p.DeviceID),
			tlv.Bytes(schema.FieldFirmwareVersion, p.FirmwareVersion[:]),
			tlv.Bytes(schema.FieldHardwareVersion, p.HardwareVersion[:]),
		)
	case SensorData:
		fields = append(fields,
			tlv.U16(schema.FieldSensorID, p.SensorID),
			tlv.U8(schema.FieldReadingType, uint8(p.ReadingType)),
			tlv.F32(schema.FieldValue, p.Value),
		)
	case DiveParameters:
		fields = append(fields,
			tlv.U16(schema.FieldMaxDepth, p.MaxDepth),
			tlv.U16(schema.FieldMaxTime, p.MaxTime),
			tlv.U16(schema.FieldCurrentDepth, p.CurrentDepth),
			tlv.U16(schema.FieldElapsedTime, p.ElapsedTime),
		)
	case DiveLog:
		if len(p.Data) > BlockLen {
			return nil, fmt.Errorf("%w: dive log data has %d bytes, max %d", ErrInvalidBody, len(p.Data), BlockLen)
		}
		fields = append(fields,
			tlv.U32(schema.FieldDiveID, p.DiveID),
			tlv.Bytes(schema.FieldData, p.Data),
		)
	case BatteryStatus:
		fields = append(fields,
			tlv.U8(schema.FieldBatteryLevel, p.Level),
			tlv.U16(schema.FieldVoltage, p.Voltage),
			tlv.U16(schema.FieldTimeRemaining, p.TimeRemaining),
		)
	case DiagnosticResults:
		fields = append(fields,
			tlv.U8(schema.FieldDiagStatus, p.Status),
			tlv.Bytes(schema.FieldDiagCodes, p.ErrorCodes[:]),
		)
	case ErrorInfo:
		fields = append(fields, tlv.U8(schema.FieldErrorCode, uint8(p.Code)))
	default:
		return nil, fmt.Errorf("%w: response payload %T", ErrUnsupportedBody, r.Payload)
	}
	return tagged(tag, fields)
}

func decodeResponse(b []byte) (Body, error) {
	tag, fields, err := untag(frame.KindResponse, b)
	if err != nil {
		return nil, err
	}
	r := fieldReader{fields: fields}
	resp := Response{
		ID:        r.u32(schema.FieldResponseID),
		CommandID: r.u32(schema.FieldCommandID),
		Status:    ResponseStatus(r.u8(schema.FieldStatus)),
		Timestamp: r.u64(schema.FieldTimestamp),
	}
	switch tag {
	case schema.RspDeviceInfo:
		resp.Payload = DeviceInfo{
			DeviceID:        r.u32(schema.FieldDeviceID),
			FirmwareVersion: r.quad(schema.FieldFirmwareVersion),
			HardwareVersion: r.quad(schema.FieldHardwareVersion),
		}
	case schema.RspSensorData:
		resp.Payload = SensorData{
			SensorID:    r.u16(schema.FieldSensorID),
			ReadingType: ReadingType(r.u8(schema.FieldReadingType)),
			Value:       r.f32(schema.FieldValue),
		}
	case schema.RspDiveParameters:
		resp.Payload = DiveParameters{
			MaxDepth:     r.u16(schema.FieldMaxDepth),
			MaxTime:      r.u16(schema.FieldMaxTime),
			CurrentDepth: r.u16(schema.FieldCurrentDepth),
			ElapsedTime:  r.u16(schema.FieldElapsedTime),
		}
	case schema.RspDiveLog:
		resp.Payload = DiveLog{
			DiveID: r.u32(schema.FieldDiveID),
			Data:   r.bytes(schema.FieldData),
		}
	case schema.RspBatteryStatus:
		resp.Payload = BatteryStatus{
			Level:         r.u8(schema.FieldBatteryLevel),
			Voltage:       r.u16(schema.FieldVoltage),
			TimeRemaining: r.u16(schema.FieldTimeRemaining),
		}
	case schema.RspDiagnosticResults:
		resp.Payload = DiagnosticResults{
			Status:     r.u8(schema.FieldDiagStatus),
			ErrorCodes: r.quad(schema.FieldDiagCodes),
		}
	case schema.RspErrorInfo:
		resp.Payload = ErrorInfo{Code: ErrorCode(r.u8(schema.FieldErrorCode))}
	case schema.RspAck:
		resp.Payload = AckInfo{}
	}
	if r.err != nil {
		return nil, r.err
	}
	if !resp.Status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBody, resp.Status)
	}
	return resp, nil
}

func encodeNotification(n Notification) ([]byte, error) {
	var fields []tlv.Field
	switch n.Type {
	case NotifySensorReading:
		fields = []tlv.Field{
			tlv.U16(schema.FieldSensorID, n.SensorID),
			tlv.U8(schema.FieldReadingType, uint8(n.ReadingType)),
			tlv.F32(schema.FieldValue, n.Value),
			tlv.U64(schema.FieldTimestamp, n.Timestamp),
		}
	case NotifyBatteryLow:
		fields = []tlv.Field{
			tlv.U8(schema.FieldBatteryLevel, n.BatteryLevel),
			tlv.U16(schema.FieldVoltage, n.Voltage),
		}
	case NotifyDiveStateChanged:
		fields = []tlv.Field{
			tlv.U8(schema.FieldDiveState, uint8(n.DiveState)),
			tlv.U64(schema.FieldTimestamp, n.Timestamp),
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidBody, n.Type)
	}
	return tagged(uint8(n.Type), fields)
}

func decodeNotification(b []byte) (Body, error) {
	tag, fields, err := untag(frame.KindNotification, b)
	if err != nil {
		return nil, err
	}
	r := fieldReader{fields: fields}
	n := Notification{Type: NotificationType(tag)}
	switch n.Type {
	case NotifySensorReading:
		n.SensorID = r.u16(schema.FieldSensorID)
		n.ReadingType = ReadingType(r.u8(schema.FieldReadingType))
		n.Value = r.f32(schema.FieldValue)
		n.Timestamp = r.u64(schema.FieldTimestamp)
	case NotifyBatteryLow:
		n.BatteryLevel = r.u8(schema.FieldBatteryLevel)
		n.Voltage = r.u16(schema.FieldVoltage)
	case NotifyDiveStateChanged:
		n.DiveState = DiveState(r.u8(schema.FieldDiveState))
		n.Timestamp = r.u64(schema.FieldTimestamp)
	}
	if r.err != nil {
		return nil, r.err
	}
	return n, nil
}

func encodeError(e ErrorBody) []byte {
	out := make([]byte, 0, 1+len(e.Detail))
	out = append(out, byte(e.Code))
	return append(out, e.Detail...)
}

func decodeError(b []byte) (Body, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPayload, frame.KindError)
	}
	e := ErrorBody{Code: ErrorCode(b[0])}
	if len(b) > 1 {
		e.Detail = append([]byte(nil), b[1:]...)
	}
	return e, nil
}

// fieldReader reads validated fields and keeps the first error.
type fieldReader struct {
	fields []tlv.Field
	err    error
}

func (r *fieldReader) field(id uint8) tlv.Field {
	f, _ := tlv.GetField(r.fields, id)
	return f
}

func (r *fieldReader) keep(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

func (r *fieldReader) u8(id uint8) uint8 {
	v, err := r.field(id).AsU8()
	r.keep(err)
	return v
}

func (r *fieldReader) u16(id uint8) uint16 {
	v, err := r.field(id).AsU16()
	r.keep(err)
	return v
}

func (r *fieldReader) u32(id uint8) uint32 {
	v, err := r.field(id).AsU32()
	r.keep(err)
	return v
}

func (r *fieldReader) u64(id uint8) uint64 {
	v, err := r.field(id).AsU64()
	r.keep(err)
	return v
}

func (r *fieldReader) f32(id uint8) float32 {
	v, err := r.field(id).AsF32()
	r.keep(err)
	return v
}

func (r *fieldReader) bytes(id uint8) []byte {
	v, err := r.field(id).AsBytes()
	r.keep(err)
	return v
}

func (r *fieldReader) quad(id uint8) [4]byte {
	var out [4]byte
	v := r.bytes(id)
	if r.err == nil && len(v) != len(out) {
		r.keep(fmt.Errorf("%w: field %d has %d bytes, want 4", tlv.ErrInvalidLength, id, len(v)))
	}
	copy(out[:], v)
	return out
}
