package protocol

import (
	"errors"

	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// StreamDecoder accumulates bytes from a transport and yields messages as
// whole frames arrive. It resynchronizes on the magic after garbage or a
// damaged header. Not safe for concurrent use.
type StreamDecoder struct {
	codec     *Codec
	buf       []byte
	discarded uint64
}

func NewStreamDecoder(c *Codec) *StreamDecoder {
	if c == nil {
		c = NewCodec(nil)
	}
	return &StreamDecoder{codec: c}
}

// Feed appends transport bytes. b is copied.
func (d *StreamDecoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next returns the next message. frame.ErrIncomplete means the buffered bytes
// do not yet hold a frame; Feed more and call again.
//
// Any other error describes one rejected frame or header and has already been
// skipped, so the caller keeps calling Next until ErrIncomplete. Use HeaderOf
// to recover the sequence of a frame whose header was valid.
func (d *StreamDecoder) Next() (Message, error) {
	d.resync()
	if len(d.buf) == 0 {
		return Message{}, frame.ErrIncomplete
	}
	msg, n, err := d.codec.Decode(d.buf)
	switch {
	case err == nil:
		d.consume(n)
		return msg, nil
	case errors.Is(err, frame.ErrIncomplete):
		return Message{}, err
	case n > 0:
		// Header was valid; the frame boundary is known.
		d.consume(n)
		return Message{}, err
	default:
		// Damaged header: step past this magic and look for the next one.
		d.drop(1)
		return Message{}, err
	}
}

// Buffered reports how many bytes are waiting for a complete frame.
func (d *StreamDecoder) Buffered() int { return len(d.buf) }

// Discarded reports how many bytes were dropped while resynchronizing.
func (d *StreamDecoder) Discarded() uint64 { return d.discarded }

// Reset drops all buffered bytes.
func (d *StreamDecoder) Reset() {
	d.buf = d.buf[:0]
}

func (d *StreamDecoder) resync() {
	idx := frame.IndexMagic(d.buf)
	switch {
	case idx == 0:
		return
	case idx < 0:
		d.drop(len(d.buf))
	default:
		d.drop(idx)
	}
}

func (d *StreamDecoder) drop(n int) {
	if n == 0 {
		return
	}
	log.Debug().Int("bytes", n).Msg("protocol: discarding unframed bytes")
	d.discarded += uint64(n)
	d.consume(n)
}

func (d *StreamDecoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
