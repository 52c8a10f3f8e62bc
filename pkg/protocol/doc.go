// Package protocol implements the realm wire protocol.
//
// The protocol package defines the byte-level framing, the message
// body codec, and the fixed-layout state synchronization packets
// exchanged between game clients and the server.
//
// # Frame Format
//
// Every message on the wire starts with a one-byte header tag that
// selects one of four framings:
//
//	0xC1: short plain      [0xC1][len8][code](payload...)
//	0xC2: long plain       [0xC2][lenHi][lenLo][code](payload...)
//	0xC3: short encrypted  [0xC3][len8](ciphertext...)
//	0xC4: long encrypted   [0xC4][lenHi][lenLo](ciphertext...)
//
// The declared length always counts the entire frame including the
// header bytes. Long headers carry the length high byte first. For
// the encrypted tags the code byte lives inside the ciphertext and is
// only visible after the session cipher has run.
//
// # Codes and SubCodes
//
// The first body byte is the message code. A small set of extended
// codes (0x26, 0xF1, 0xF3) carries one additional subcode byte, and
// the true message identity is the (code, subcode) pair. All other
// codes are identified by the code byte alone.
//
// # Framer
//
// The Framer accumulates raw transport bytes and slices complete
// frames off the front. It never consumes a partial frame, so it can
// be fed byte by byte as data trickles in. A declared length below
// the minimum frame size or above the configured cap is a framing
// error; the format has no resynchronization marker, so the caller
// must drop the connection.
//
// # Stats Synchronization
//
// StatsSync is the fixed 26-byte packet (code 0x26, subcode 0xFF)
// carrying a character's current numeric attributes. The damage rate
// field travels as the real value scaled by 100 and rounded, so a
// rate of 4.15 is transmitted as the integer 415. The layout is part
// of the compatibility contract with existing clients and is pinned
// by tests.
package protocol
