package crypto

import "fmt"

// The modulus cipher encodes each 3-byte plaintext group as four
// bytes of six significant bits. Each six-bit chunk is offset by a
// running carry and multiplied by the matching encode key modulo 64;
// the decode keys are the modular inverses. The carry for a group is
// computed from the previous group's encoded bytes, so both sides
// derive it from ciphertext alone and a single flipped byte corrupts
// everything after it, which the trailer checksum then catches.
const (
	groupSize        = 3
	encodedGroupSize = 4
	trailerSize      = 4
	trailerMagic     = 0xFB
	chunkMask        = 0x3F
)

var (
	encodeKeys = [encodedGroupSize]uint32{11, 23, 31, 43}
	decodeKeys = [encodedGroupSize]uint32{35, 39, 31, 3}
)

// BlockCipher is the modulus-substitution transform modern clients
// use for client-to-server traffic. It is stateless; the carry chain
// lives entirely within a single Encrypt or Decrypt call.
type BlockCipher struct{}

// NewBlockCipher returns the block cipher. The key arrays are fixed
// per protocol generation, not per connection.
func NewBlockCipher() *BlockCipher {
	return &BlockCipher{}
}

// Encrypt encodes p into 4-byte groups followed by the 4-byte control
// trailer. Output length is always a multiple of four.
func (*BlockCipher) Encrypt(p []byte) []byte {
	pad := (groupSize - len(p)%groupSize) % groupSize
	padded := make([]byte, len(p)+pad)
	copy(padded, p)

	groups := len(padded) / groupSize
	out := make([]byte, 0, groups*encodedGroupSize+trailerSize)

	var carry byte
	var checksum byte
	for g := 0; g < groups; g++ {
		v := uint32(padded[g*groupSize])<<16 |
			uint32(padded[g*groupSize+1])<<8 |
			uint32(padded[g*groupSize+2])

		var sum byte
		for i := 0; i < encodedGroupSize; i++ {
			chunk := byte(v>>(18-6*i)) & chunkMask
			chunk = (chunk + carry) & chunkMask
			enc := byte(uint32(chunk) * encodeKeys[i] % 64)
			out = append(out, enc)
			sum += enc
			checksum ^= enc
		}
		carry = sum & chunkMask
	}

	trailer := [trailerSize]byte{trailerMagic, byte(pad), byte(groups)}
	trailer[3] = trailer[0] ^ trailer[1] ^ trailer[2] ^ checksum
	return append(out, trailer[:]...)
}

// Decrypt reverses Encrypt. Ciphertext whose length is not a multiple
// of four, whose trailer is inconsistent, or whose bytes overflow the
// six-bit alphabet yields ErrDecryptionFailed; the stream cannot be
// resynchronized afterwards, so the caller must drop the connection.
func (*BlockCipher) Decrypt(c []byte) ([]byte, error) {
	if len(c) < trailerSize || len(c)%encodedGroupSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecryptionFailed, len(c))
	}

	data := c[:len(c)-trailerSize]
	trailer := c[len(c)-trailerSize:]
	groups := len(data) / encodedGroupSize

	if trailer[0] != trailerMagic {
		return nil, fmt.Errorf("%w: bad trailer magic 0x%02X", ErrDecryptionFailed, trailer[0])
	}
	pad := int(trailer[1])
	if pad >= groupSize {
		return nil, fmt.Errorf("%w: pad length %d", ErrDecryptionFailed, pad)
	}
	if trailer[2] != byte(groups) {
		return nil, fmt.Errorf("%w: group count mismatch", ErrDecryptionFailed)
	}
	if pad > 0 && groups == 0 {
		return nil, fmt.Errorf("%w: padding without data", ErrDecryptionFailed)
	}

	var checksum byte
	for _, b := range data {
		if b&^chunkMask != 0 {
			return nil, fmt.Errorf("%w: byte outside alphabet", ErrDecryptionFailed)
		}
		checksum ^= b
	}
	if trailer[3] != trailer[0]^trailer[1]^trailer[2]^checksum {
		return nil, fmt.Errorf("%w: trailer checksum mismatch", ErrDecryptionFailed)
	}

	out := make([]byte, 0, groups*groupSize)
	var carry byte
	for g := 0; g < groups; g++ {
		var v uint32
		var sum byte
		for i := 0; i < encodedGroupSize; i++ {
			enc := data[g*encodedGroupSize+i]
			chunk := byte(uint32(enc) * decodeKeys[i] % 64)
			chunk = (chunk - carry) & chunkMask
			v = v<<6 | uint32(chunk)
			sum += enc
		}
		carry = sum & chunkMask
		out = append(out, byte(v>>16), byte(v>>8), byte(v))
	}

	return out[:len(out)-pad], nil
}
