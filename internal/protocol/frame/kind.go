package frame

import "fmt"

// Kind selects the payload schema family of a frame.
type Kind uint8

const (
	KindCommand      Kind = 0x01
	KindResponse     Kind = 0x02
	KindNotification Kind = 0x03
	KindAck          Kind = 0x04
	KindError        Kind = 0x05
)

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= KindCommand && k <= KindError
}

// IsReply reports whether k can answer an outstanding Command.
func (k Kind) IsReply() bool {
	return k == KindResponse || k == KindAck || k == KindError
}

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	case KindAck:
		return "ack"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(0x%02X)", uint8(k))
	}
}
