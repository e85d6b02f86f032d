package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/danmuck/divelink/internal/protocol/schema"
	"github.com/danmuck/divelink/internal/testutil/testlog"
)

func TestCodecRoundTrip(t *testing.T) {
	testlog.Start(t)
	c := NewCodec(nil)
	bodies := []payload.Body{
		payload.ReadSensor(2, payload.ReadingDepth),
		payload.Success(payload.SensorData{SensorID: 2, ReadingType: payload.ReadingDepth, Value: 12.4}),
		payload.Notification{Type: payload.NotifyBatteryLow, BatteryLevel: 8, Voltage: 3310},
		payload.Ack{},
		payload.ErrorBody{Code: payload.InternalError, Detail: []byte("checksum")},
	}
	for i, body := range bodies {
		seq := uint16(0xFFF0 + i)
		b, err := c.Encode(seq, body)
		if err != nil {
			t.Fatalf("encode %T: %v", body, err)
		}
		msg, n, err := c.Decode(b)
		if err != nil {
			t.Fatalf("decode %T: %v", body, err)
		}
		if n != len(b) {
			t.Fatalf("consumed %d of %d", n, len(b))
		}
		if msg.Kind() != body.Kind() || msg.Sequence() != seq {
			t.Fatalf("header mismatch: %+v", msg.Header)
		}
		if !reflect.DeepEqual(msg.Body, body) {
			t.Fatalf("body mismatch: got=%+v want=%+v", msg.Body, body)
		}
	}
}

func TestCodecDecodeSchemaFailureKeepsHeader(t *testing.T) {
	testlog.Start(t)
	c := NewCodec(nil)
	b, err := frame.Encode(frame.KindCommand, 41, []byte{schema.CmdReadSensor})
	if err != nil {
		t.Fatalf("frame encode: %v", err)
	}
	_, n, err := c.Decode(b)
	if n != len(b) {
		t.Fatalf("expected frame to be consumed, n=%d", n)
	}
	if !errors.Is(err, ErrPayloadDecode) {
		t.Fatalf("expected ErrPayloadDecode, got %v", err)
	}
	var verr schema.ValidationError
	if !errors.As(err, &verr) || verr.Reason != "missing required field" {
		t.Fatalf("expected schema validation error, got %v", err)
	}
	h, ok := HeaderOf(err)
	if !ok || h.Kind != frame.KindCommand || h.Sequence != 41 {
		t.Fatalf("unexpected header: %+v ok=%v", h, ok)
	}
}

func TestCodecDecodeUnknownKind(t *testing.T) {
	testlog.Start(t)
	b, err := frame.Encode(frame.Kind(0x07), 3, nil)
	if err != nil {
		t.Fatalf("frame encode: %v", err)
	}
	_, _, err = NewCodec(nil).Decode(b)
	if !errors.Is(err, ErrPayloadDecode) || !errors.Is(err, payload.ErrUnknownKind) {
		t.Fatalf("expected unknown kind payload error, got %v", err)
	}
}

func TestCodecDecodePropagatesFrameErrors(t *testing.T) {
	testlog.Start(t)
	c := NewCodec(nil)
	b, err := c.Encode(5, payload.Identify())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, n, err := c.Decode(b[:len(b)-1]); !errors.Is(err, frame.ErrIncomplete) || n != 0 {
		t.Fatalf("expected incomplete, got n=%d err=%v", n, err)
	}
	b[len(b)-1] ^= 0x01
	_, n, err := c.Decode(b)
	if !errors.Is(err, frame.ErrPayloadChecksumMismatch) || n != len(b) {
		t.Fatalf("expected payload checksum mismatch, got n=%d err=%v", n, err)
	}
	if h, ok := HeaderOf(err); !ok || h.Sequence != 5 {
		t.Fatalf("expected recoverable header, got %+v ok=%v", h, ok)
	}
	if _, ok := HeaderOf(frame.ErrBadMagic); ok {
		t.Fatalf("bad magic has no header")
	}
}

func TestCodecOversizedPayloadWritesNothing(t *testing.T) {
	testlog.Start(t)
	c := NewCodec(oversized{})
	var out bytes.Buffer
	err := c.WriteMessage(&out, 1, payload.Identify())
	if !errors.Is(err, frame.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no bytes written, got %d", out.Len())
	}
	dst := []byte{0xAA}
	got, err := c.Append(dst, 1, payload.Identify())
	if err == nil || !bytes.Equal(got, dst) {
		t.Fatalf("append must leave dst unchanged on error")
	}
}

// oversized produces a payload one byte past the length field's range.
type oversized struct{ payload.TLV }

func (oversized) Serialize(payload.Body) ([]byte, error) {
	return make([]byte, frame.MaxPayloadLen+1), nil
}

func TestReadWriteMessage(t *testing.T) {
	testlog.Start(t)
	c := NewCodec(nil)
	var stream bytes.Buffer
	if err := c.WriteMessage(&stream, 1, payload.GetDiveLog(3)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.WriteMessage(&stream, 2, payload.Ack{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	first, err := c.ReadMessage(&stream)
	if err != nil || first.Sequence() != 1 {
		t.Fatalf("read first: %+v %v", first, err)
	}
	second, err := c.ReadMessage(&stream)
	if err != nil || second.Kind() != frame.KindAck {
		t.Fatalf("read second: %+v %v", second, err)
	}
}

func TestStreamDecoderByteAtATime(t *testing.T) {
	testlog.Start(t)
	c := NewCodec(nil)
	a, _ := c.Encode(10, payload.ReadSensor(1, payload.ReadingTemperature))
	b, _ := c.Encode(11, payload.Simple(payload.OpStartDive))
	wire := append(append([]byte{}, a...), b...)

	d := NewStreamDecoder(c)
	var got []uint16
	for _, x := range wire {
		d.Feed([]byte{x})
		for {
			msg, err := d.Next()
			if errors.Is(err, frame.ErrIncomplete) {
				break
			}
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			got = append(got, msg.Sequence())
		}
	}
	if !reflect.DeepEqual(got, []uint16{10, 11}) {
		t.Fatalf("unexpected sequences: %v", got)
	}
	if d.Buffered() != 0 || d.Discarded() != 0 {
		t.Fatalf("unexpected leftovers: buffered=%d discarded=%d", d.Buffered(), d.Discarded())
	}
}

func TestStreamDecoderResynchronizes(t *testing.T) {
	testlog.Start(t)
	c := NewCodec(nil)
	good, _ := c.Encode(20, payload.Identify())
	badHeader, _ := c.Encode(21, payload.Identify())
	badHeader[8] ^= 0xFF
	badPayload, _ := c.Encode(22, payload.GetDiveLog(9))
	badPayload[len(badPayload)-1] ^= 0xFF
	tail, _ := c.Encode(23, payload.Ack{})

	var wire []byte
	wire = append(wire, 0x00, 0x13, 0x37)
	wire = append(wire, good...)
	wire = append(wire, badHeader...)
	wire = append(wire, badPayload...)
	wire = append(wire, 0x42)
	wire = append(wire, tail...)

	d := NewStreamDecoder(c)
	d.Feed(wire)

	var seqs []uint16
	var headerErrs, corrupt int
	for {
		msg, err := d.Next()
		if errors.Is(err, frame.ErrIncomplete) {
			break
		}
		switch {
		case err == nil:
			seqs = append(seqs, msg.Sequence())
		case errors.Is(err, frame.ErrHeaderChecksumMismatch):
			headerErrs++
		case errors.Is(err, frame.ErrPayloadChecksumMismatch):
			corrupt++
			if h, ok := HeaderOf(err); !ok || h.Sequence != 22 {
				t.Fatalf("corrupt frame lost its header: %+v", h)
			}
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !reflect.DeepEqual(seqs, []uint16{20, 23}) {
		t.Fatalf("unexpected sequences: %v", seqs)
	}
	if headerErrs != 1 || corrupt != 1 {
		t.Fatalf("headerErrs=%d corrupt=%d", headerErrs, corrupt)
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d", d.Buffered())
	}
	if d.Discarded() == 0 {
		t.Fatalf("expected discarded bytes to be counted")
	}
}

func TestStreamDecoderKeepsTrailingMagicByte(t *testing.T) {
	testlog.Start(t)
	d := NewStreamDecoder(nil)
	d.Feed([]byte{0x01, 0x02, frame.Magic[0]})
	if _, err := d.Next(); !errors.Is(err, frame.ErrIncomplete) {
		t.Fatalf("expected incomplete, got %v", err)
	}
	if d.Buffered() != 1 || d.Discarded() != 2 {
		t.Fatalf("buffered=%d discarded=%d", d.Buffered(), d.Discarded())
	}
	d.Reset()
	if d.Buffered() != 0 {
		t.Fatalf("reset should clear buffer")
	}
}
