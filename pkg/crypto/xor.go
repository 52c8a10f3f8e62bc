package crypto

import "errors"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrEmptyKeyTable    = errors.New("empty key table")
)

// Cipher is the byte-transform pair every session owns twice: one
// instance keyed for inbound traffic, one for outbound.
type Cipher interface {
	Encrypt(p []byte) []byte
	Decrypt(c []byte) ([]byte, error)
}

// DefaultStreamTable is the publicly known XOR table legacy clients
// ship with. Connections switch to hkdf-derived tables once the
// handshake produces a session key.
var DefaultStreamTable = []byte{
	0xAB, 0x11, 0xCD, 0xFE, 0x18, 0x23, 0xC5, 0xA3,
	0xCA, 0x33, 0xC1, 0xCC, 0x66, 0x67, 0x21, 0xF3,
	0x32, 0x12, 0x15, 0x35, 0x29, 0xFF, 0xFE, 0x1D,
	0x44, 0xEF, 0xCD, 0x41, 0x26, 0x3C, 0x4E, 0x4D,
}

// StreamCipher is the repeating-table XOR transform. It is an
// obfuscation layer, not real security: the transform is self-inverse
// and the default table is public.
type StreamCipher struct {
	table []byte
}

// NewStreamCipher builds a stream cipher over the given key table.
func NewStreamCipher(table []byte) (*StreamCipher, error) {
	if len(table) == 0 {
		return nil, ErrEmptyKeyTable
	}
	t := make([]byte, len(table))
	copy(t, table)
	return &StreamCipher{table: t}, nil
}

// NewDefaultStreamCipher builds a stream cipher over the public table.
func NewDefaultStreamCipher() *StreamCipher {
	c, _ := NewStreamCipher(DefaultStreamTable)
	return c
}

func (c *StreamCipher) apply(p []byte) []byte {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ c.table[i%len(c.table)]
	}
	return out
}

// Encrypt transforms p against the key table.
func (c *StreamCipher) Encrypt(p []byte) []byte {
	return c.apply(p)
}

// Decrypt reverses Encrypt. The transform is self-inverse, so this
// never fails.
func (c *StreamCipher) Decrypt(p []byte) ([]byte, error) {
	return c.apply(p), nil
}
