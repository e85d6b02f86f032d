package protocol

import (
	"io"

	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Decode parses one message from the front of buf and reports how many bytes
// it consumed.
//
// frame.ErrIncomplete means buf is a valid prefix and more bytes are needed;
// nothing is consumed. Header failures consume nothing. A payload checksum
// mismatch (*frame.CorruptFrameError) or a schema failure (*PayloadDecodeError)
// still reports the frame length so the caller can skip it.
func (c *Codec) Decode(buf []byte) (Message, int, error) {
	f, n, err := frame.Decode(buf)
	if err != nil {
		return Message{}, n, err
	}
	msg, err := c.decodeBody(f)
	return msg, n, err
}

// ReadMessage reads exactly one message from r.
func (c *Codec) ReadMessage(r io.Reader) (Message, error) {
	f, err := frame.ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	return c.decodeBody(f)
}

func (c *Codec) decodeBody(f frame.Frame) (Message, error) {
	body, err := c.serializer.Deserialize(f.Header.Kind, f.Payload)
	if err != nil {
		log.Debug().
			Stringer("kind", f.Header.Kind).
			Uint16("seq", f.Header.Sequence).
			Uint16("len", f.Header.PayloadLen).
			Err(err).
			Msg("protocol: payload rejected")
		return Message{}, &PayloadDecodeError{Header: f.Header, Err: err}
	}
	return Message{Header: f.Header, Body: body}, nil
}
