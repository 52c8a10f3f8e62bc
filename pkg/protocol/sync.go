package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// StatsSyncPayloadSize is the fixed payload size of a stats sync
// message: four uint32 resources, two uint16 speeds and the scaled
// damage rate. With the short header, code and subcode the frame is
// 26 bytes on the wire.
const StatsSyncPayloadSize = 4*4 + 2*2 + 2

// StatsSync carries a character's current numeric attributes. It is
// produced fresh for every broadcast and immutable once serialized.
type StatsSync struct {
	Health  uint32
	Shield  uint32
	Mana    uint32
	Ability uint32

	AttackSpeed uint16
	MagicSpeed  uint16

	// DamageRate travels as the real value scaled by 100 and rounded,
	// so 4.15 is transmitted as 415. Existing clients depend on this
	// exact scaling.
	DamageRate float64
}

// EncodePayload serializes the fixed little-endian layout.
func (s *StatsSync) EncodePayload() []byte {
	buf := make([]byte, StatsSyncPayloadSize)
	offset := 0

	binary.LittleEndian.PutUint32(buf[offset:], s.Health)
	offset += 4

	binary.LittleEndian.PutUint32(buf[offset:], s.Shield)
	offset += 4

	binary.LittleEndian.PutUint32(buf[offset:], s.Mana)
	offset += 4

	binary.LittleEndian.PutUint32(buf[offset:], s.Ability)
	offset += 4

	binary.LittleEndian.PutUint16(buf[offset:], s.AttackSpeed)
	offset += 2

	binary.LittleEndian.PutUint16(buf[offset:], s.MagicSpeed)
	offset += 2

	binary.LittleEndian.PutUint16(buf[offset:], uint16(math.Round(s.DamageRate*100)))

	return buf
}

// DecodeStatsSync parses a stats sync payload.
func DecodeStatsSync(buf []byte) (StatsSync, error) {
	if len(buf) < StatsSyncPayloadSize {
		return StatsSync{}, fmt.Errorf("%w: stats sync payload %d bytes, want %d",
			ErrBodyTruncated, len(buf), StatsSyncPayloadSize)
	}

	var s StatsSync
	offset := 0

	s.Health = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4

	s.Shield = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4

	s.Mana = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4

	s.Ability = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4

	s.AttackSpeed = binary.LittleEndian.Uint16(buf[offset:])
	offset += 2

	s.MagicSpeed = binary.LittleEndian.Uint16(buf[offset:])
	offset += 2

	s.DamageRate = float64(binary.LittleEndian.Uint16(buf[offset:])) / 100

	return s, nil
}

// Message wraps the packet as an encrypted 0x26/0xFF message ready
// for the session send path.
func (s *StatsSync) Message() Message {
	m := NewSubMessage(CodeStats, SubStatsSync, s.EncodePayload())
	m.Encrypted = true
	return m
}
