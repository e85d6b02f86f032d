package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/divelink/internal/protocol/checksum"
)

// Wire layout:
//
//	0  2  magic 0xDC 0x42
//	2  1  version
//	3  1  kind
//	4  2  sequence (little-endian)
//	6  2  payload length (little-endian)
//	8  1  header checksum over bytes 0..7
//	9  N  payload
//	9+N 1 payload checksum
const (
	HeaderLen     = 9
	TrailerLen    = 1
	Overhead      = HeaderLen + TrailerLen
	MaxPayloadLen = 0xFFFF

	Version uint8 = 1
)

// Magic identifies the start of every frame.
var Magic = [2]byte{0xDC, 0x42}

var (
	ErrIncomplete              = errors.New("frame: incomplete")
	ErrBadMagic                = errors.New("frame: bad magic")
	ErrUnsupportedVersion      = errors.New("frame: unsupported version")
	ErrHeaderChecksumMismatch  = errors.New("frame: header checksum mismatch")
	ErrPayloadChecksumMismatch = errors.New("frame: payload checksum mismatch")
	ErrPayloadTooLarge         = errors.New("frame: payload too large")
)

// CorruptFrameError reports a frame whose header validated but whose payload
// did not. The header is trustworthy, so callers can still correlate a reply.
type CorruptFrameError struct {
	Header Header
	Err    error
}

func (e *CorruptFrameError) Error() string {
	return fmt.Sprintf("%v (kind=%s seq=%d len=%d)", e.Err, e.Header.Kind, e.Header.Sequence, e.Header.PayloadLen)
}

func (e *CorruptFrameError) Unwrap() error { return e.Err }

// Header is the decoded fixed header.
type Header struct {
	Version    uint8
	Kind       Kind
	Sequence   uint16
	PayloadLen uint16
	Checksum   uint8
}

// FrameLen is the total encoded size of the frame this header announces.
func (h Header) FrameLen() int {
	return Overhead + int(h.PayloadLen)
}

// Frame is one complete wire unit.
type Frame struct {
	Header  Header
	Payload []byte
}

// EncodeHeader writes a header for the given fields.
func EncodeHeader(kind Kind, sequence uint16, payloadLen uint16) [HeaderLen]byte {
	var buf [HeaderLen]byte
	buf[0] = Magic[0]
	buf[1] = Magic[1]
	buf[2] = Version
	buf[3] = byte(kind)
	binary.LittleEndian.PutUint16(buf[4:6], sequence)
	binary.LittleEndian.PutUint16(buf[6:8], payloadLen)
	buf[8] = checksum.Sum(buf[:8])
	return buf
}

// DecodeHeader validates and decodes the first HeaderLen bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrIncomplete
	}
	if b[0] != Magic[0] || b[1] != Magic[1] {
		return Header{}, ErrBadMagic
	}
	if !SupportedVersion(b[2]) {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[2])
	}
	if !checksum.Verify(b[:8], b[8]) {
		return Header{}, ErrHeaderChecksumMismatch
	}
	return Header{
		Version:    b[2],
		Kind:       Kind(b[3]),
		Sequence:   binary.LittleEndian.Uint16(b[4:6]),
		PayloadLen: binary.LittleEndian.Uint16(b[6:8]),
		Checksum:   b[8],
	}, nil
}

// SupportedVersion reports whether this implementation understands v.
func SupportedVersion(v uint8) bool {
	return v == Version
}

// Append appends one encoded frame to dst. dst is returned unchanged on error.
func Append(dst []byte, kind Kind, sequence uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	head := EncodeHeader(kind, sequence, uint16(len(payload)))
	dst = append(dst, head[:]...)
	dst = append(dst, payload...)
	return append(dst, checksum.Sum(payload)), nil
}

// Encode returns a freshly allocated frame.
func Encode(kind Kind, sequence uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	return Append(make([]byte, 0, Overhead+len(payload)), kind, sequence, payload)
}

// Decode parses one frame from the front of buf and returns the number of
// bytes it occupies. ErrIncomplete means buf holds a valid prefix and more
// bytes are needed. On a payload checksum mismatch the consumed length is still
// reported so callers can skip the frame. The returned payload aliases buf.
func Decode(buf []byte) (Frame, int, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	n := h.FrameLen()
	if len(buf) < n {
		return Frame{}, 0, ErrIncomplete
	}
	payload := buf[HeaderLen : HeaderLen+int(h.PayloadLen)]
	if !checksum.Verify(payload, buf[n-1]) {
		return Frame{Header: h}, n, &CorruptFrameError{Header: h, Err: ErrPayloadChecksumMismatch}
	}
	return Frame{Header: h, Payload: payload}, n, nil
}

// ReadFrame reads exactly one frame from r. A stream that ends inside a frame
// yields ErrIncomplete; a stream that ends cleanly before a frame yields io.EOF.
func ReadFrame(r io.Reader) (Frame, error) {
	var head [HeaderLen]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrIncomplete
		}
		return Frame{}, err
	}
	h, err := DecodeHeader(head[:])
	if err != nil {
		return Frame{}, err
	}

	body := make([]byte, int(h.PayloadLen)+TrailerLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrIncomplete
		}
		return Frame{}, err
	}
	payload := body[:h.PayloadLen]
	if !checksum.Verify(payload, body[h.PayloadLen]) {
		return Frame{Header: h}, &CorruptFrameError{Header: h, Err: ErrPayloadChecksumMismatch}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame encodes and writes one frame. Nothing is written when the
// payload is too large.
func WriteFrame(w io.Writer, kind Kind, sequence uint16, payload []byte) error {
	b, err := Encode(kind, sequence, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// IndexMagic returns the offset of the next possible frame start in b, or -1.
// A trailing lone first magic byte counts as a possible start.
func IndexMagic(b []byte) int {
	for i := 0; i < len(b); i++ {
		if b[i] != Magic[0] {
			continue
		}
		if i+1 == len(b) || b[i+1] == Magic[1] {
			return i
		}
	}
	return -1
}
