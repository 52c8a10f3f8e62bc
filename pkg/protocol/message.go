package protocol

import "fmt"

// Message is one decoded protocol message. Handlers receive it after
// framing and decryption; the send path serializes it back out.
type Message struct {
	Code       byte
	SubCode    byte
	HasSubCode bool
	Payload    []byte

	// Encrypted selects the 0xC3/0xC4 framing on the send path. It is
	// informational on the receive path (set from the frame tag).
	Encrypted bool
}

// NewMessage builds a plain message for a simple code.
func NewMessage(code byte, payload []byte) Message {
	return Message{Code: code, Payload: payload}
}

// NewSubMessage builds a message for an extended (code, subcode) pair.
func NewSubMessage(code, sub byte, payload []byte) Message {
	return Message{Code: code, SubCode: sub, HasSubCode: true, Payload: payload}
}

// DecodeBody parses a decrypted frame body into a message. The first
// byte is the code; extended codes consume one further subcode byte.
func DecodeBody(body []byte) (Message, error) {
	if len(body) == 0 {
		return Message{}, fmt.Errorf("%w: empty body", ErrBodyTruncated)
	}

	m := Message{Code: body[0]}
	rest := body[1:]

	if HasSubCode(m.Code) {
		if len(rest) == 0 {
			return Message{}, fmt.Errorf("%w: code 0x%02X needs a subcode", ErrBodyTruncated, m.Code)
		}
		m.SubCode = rest[0]
		m.HasSubCode = true
		rest = rest[1:]
	}

	m.Payload = rest
	return m, nil
}

// EncodeBody serializes code, optional subcode and payload into a
// frame body. The result is what gets encrypted for 0xC3/0xC4 frames.
func EncodeBody(m Message) []byte {
	size := 1 + len(m.Payload)
	if m.HasSubCode {
		size++
	}

	body := make([]byte, 0, size)
	body = append(body, m.Code)
	if m.HasSubCode {
		body = append(body, m.SubCode)
	}
	return append(body, m.Payload...)
}

// BuildFrame wraps a (possibly already encrypted) body in the correct
// header: short or long by total size, plain or encrypted by flag.
func BuildFrame(body []byte, encrypted bool) []byte {
	if len(body)+ShortHeaderSize <= MaxShortFrame {
		total := len(body) + ShortHeaderSize
		out := make([]byte, 0, total)
		tag := TagShortPlain
		if encrypted {
			tag = TagShortEncrypted
		}
		out = append(out, tag, byte(total))
		return append(out, body...)
	}

	total := len(body) + LongHeaderSize
	out := make([]byte, 0, total)
	tag := TagLongPlain
	if encrypted {
		tag = TagLongEncrypted
	}
	out = append(out, tag, byte(total>>8), byte(total))
	return append(out, body...)
}
