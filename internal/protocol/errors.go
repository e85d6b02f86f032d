package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/divelink/internal/protocol/frame"
)

var ErrPayloadDecode = errors.New("protocol: payload decode failed")

// PayloadDecodeError reports a frame that passed both checksums but whose
// payload did not match the schema for its kind. Header is trustworthy.
type PayloadDecodeError struct {
	Header frame.Header
	Err    error
}

func (e *PayloadDecodeError) Error() string {
	return fmt.Sprintf("%v (kind=%s seq=%d): %v", ErrPayloadDecode, e.Header.Kind, e.Header.Sequence, e.Err)
}

func (e *PayloadDecodeError) Unwrap() []error { return []error{ErrPayloadDecode, e.Err} }

// HeaderOf returns the header carried by a recoverably decoded frame error.
// It reports false for errors raised before a header validated.
func HeaderOf(err error) (frame.Header, bool) {
	var pde *PayloadDecodeError
	if errors.As(err, &pde) {
		return pde.Header, true
	}
	var cfe *frame.CorruptFrameError
	if errors.As(err, &cfe) {
		return cfe.Header, true
	}
	return frame.Header{}, false
}
