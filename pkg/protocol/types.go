package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrFrameMalformed = errors.New("malformed frame header")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrBodyTruncated  = errors.New("message body truncated")
)

// Header tags. The tag is the first byte of every frame.
const (
	TagShortPlain     byte = 0xC1
	TagLongPlain      byte = 0xC2
	TagShortEncrypted byte = 0xC3
	TagLongEncrypted  byte = 0xC4
)

// Header sizes in bytes (tag plus length field).
const (
	ShortHeaderSize = 2
	LongHeaderSize  = 3

	// MaxShortFrame is the largest frame a one-byte length field can
	// declare. Anything bigger needs a long header.
	MaxShortFrame = 0xFF

	// DefaultMaxFrame bounds the declared length accepted from the
	// wire. A hostile length field can never make the framer buffer
	// more than this.
	DefaultMaxFrame = 4096
)

// Version identifies the wire dialect a connection speaks. It is
// fixed during the handshake and never changes afterwards.
type Version byte

const (
	// VersionLegacy clients use the XOR stream cipher in both
	// directions.
	VersionLegacy Version = 0x01

	// VersionModern clients encrypt client-to-server traffic with the
	// modulus block cipher; server-to-client traffic stays on the XOR
	// stream cipher.
	VersionModern Version = 0x02
)

// Valid reports whether v is a dialect this server can speak.
func (v Version) Valid() bool {
	return v == VersionLegacy || v == VersionModern
}

func (v Version) String() string {
	switch v {
	case VersionLegacy:
		return "legacy"
	case VersionModern:
		return "modern"
	}
	return fmt.Sprintf("unknown(0x%02X)", byte(v))
}

// Message codes. Codes listed under "extended" carry a subcode byte;
// for those the (code, subcode) pair identifies the message.
const (
	// CodeStats carries character attribute synchronization.
	CodeStats byte = 0x26
	// CodeSession carries connection lifecycle messages.
	CodeSession byte = 0xF1
	// CodeWorld carries world entry and exit.
	CodeWorld byte = 0xF3
)

// Subcodes of CodeStats.
const (
	SubStatsSync byte = 0xFF
)

// Subcodes of CodeSession.
const (
	SubLoginRequest   byte = 0x01
	SubLoginChallenge byte = 0x02
	SubLoginProof     byte = 0x03
	SubLoginResult    byte = 0x04
	SubLogout         byte = 0x05
)

// Subcodes of CodeWorld.
const (
	SubWorldEnter    byte = 0x15
	SubWorldEnterAck byte = 0x16
)

// Login result codes carried by SubLoginResult.
const (
	LoginOK         byte = 0x00
	LoginBadCreds   byte = 0x01
	LoginBadVersion byte = 0x02
	LoginOutOfOrder byte = 0x03
)

// HasSubCode reports whether code is one of the extended codes whose
// second body byte is a subcode.
func HasSubCode(code byte) bool {
	switch code {
	case CodeStats, CodeSession, CodeWorld:
		return true
	}
	return false
}
