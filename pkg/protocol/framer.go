package protocol

import "fmt"

// Frame is one length-delimited message as extracted from the wire.
// For the encrypted tags the body is still ciphertext and the code
// byte only becomes visible after decryption.
type Frame struct {
	Tag    byte
	Length int // declared total length, header included
	body   []byte
}

// Encrypted reports whether the body must be run through the session
// cipher before decoding.
func (f *Frame) Encrypted() bool {
	return f.Tag == TagShortEncrypted || f.Tag == TagLongEncrypted
}

// Long reports whether the frame used a two-byte length field.
func (f *Frame) Long() bool {
	return f.Tag == TagLongPlain || f.Tag == TagLongEncrypted
}

// Body returns the frame bytes after the header fields. The slice is
// owned by the frame; the framer's buffer has already moved on.
func (f *Frame) Body() []byte {
	return f.body
}

// Framer accumulates transport bytes and slices complete frames off
// the front. It is not safe for concurrent use; each connection's
// reader owns exactly one framer.
type Framer struct {
	buf []byte
	max int
}

// NewFramer returns a framer that rejects declared lengths above max.
// A max of zero falls back to DefaultMaxFrame.
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	return &Framer{max: max}
}

// Feed appends raw bytes from the transport to the internal buffer.
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Buffered returns the number of bytes waiting in the buffer.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next attempts to extract exactly one complete frame. It returns
// (nil, nil) when the buffer does not yet hold a full frame, in which
// case nothing is consumed and Next is safe to call again after the
// next Feed. A bad tag or an impossible declared length is a fatal
// framing error: the format has no resync marker, so the caller must
// drop the connection.
func (f *Framer) Next() (*Frame, error) {
	if len(f.buf) == 0 {
		return nil, nil
	}

	tag := f.buf[0]
	var headerSize int
	switch tag {
	case TagShortPlain, TagShortEncrypted:
		headerSize = ShortHeaderSize
	case TagLongPlain, TagLongEncrypted:
		headerSize = LongHeaderSize
	default:
		return nil, fmt.Errorf("%w: unknown tag 0x%02X", ErrFrameMalformed, tag)
	}

	if len(f.buf) < headerSize {
		return nil, nil
	}

	var declared int
	if headerSize == ShortHeaderSize {
		declared = int(f.buf[1])
	} else {
		// High byte first. Part of the wire contract.
		declared = int(f.buf[1])<<8 | int(f.buf[2])
	}

	if declared < headerSize+1 {
		return nil, fmt.Errorf("%w: declared length %d below minimum", ErrFrameMalformed, declared)
	}
	if declared > f.max {
		return nil, fmt.Errorf("%w: declared length %d, maximum %d", ErrFrameTooLarge, declared, f.max)
	}

	if len(f.buf) < declared {
		return nil, nil
	}

	body := make([]byte, declared-headerSize)
	copy(body, f.buf[headerSize:declared])

	// Compact: slide the remainder to the front so the buffer does
	// not grow without bound across frames.
	n := copy(f.buf, f.buf[declared:])
	f.buf = f.buf[:n]

	return &Frame{Tag: tag, Length: declared, body: body}, nil
}

// Reset drops any buffered bytes.
func (f *Framer) Reset() {
	f.buf = nil
}
