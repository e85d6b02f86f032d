package protocol

import (
	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/danmuck/divelink/internal/protocol/payload"
)

// Message is a decoded, validated frame: its header plus the typed body.
type Message struct {
	Header frame.Header
	Body   payload.Body
}

func (m Message) Kind() frame.Kind { return m.Header.Kind }

func (m Message) Sequence() uint16 { return m.Header.Sequence }
