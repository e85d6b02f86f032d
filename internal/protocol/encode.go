package protocol

import (
	"io"

	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/danmuck/divelink/internal/protocol/payload"
)

// Codec turns typed bodies into frames and back. It holds no connection state
// and is safe for concurrent use when its Serializer is.
type Codec struct {
	serializer payload.Serializer
}

// NewCodec returns a codec over s. A nil s selects payload.TLV.
func NewCodec(s payload.Serializer) *Codec {
	if s == nil {
		s = payload.TLV{}
	}
	return &Codec{serializer: s}
}

func (c *Codec) Serializer() payload.Serializer { return c.serializer }

// Encode serializes body and frames it under sequence.
func (c *Codec) Encode(sequence uint16, body payload.Body) ([]byte, error) {
	return c.Append(nil, sequence, body)
}

// Append appends the encoded frame to dst. dst is returned unchanged on error.
func (c *Codec) Append(dst []byte, sequence uint16, body payload.Body) ([]byte, error) {
	b, err := c.serializer.Serialize(body)
	if err != nil {
		return dst, err
	}
	return frame.Append(dst, body.Kind(), sequence, b)
}

// WriteMessage encodes body and writes it to w in a single Write call.
// Nothing is written when encoding fails.
func (c *Codec) WriteMessage(w io.Writer, sequence uint16, body payload.Body) error {
	b, err := c.Encode(sequence, body)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
