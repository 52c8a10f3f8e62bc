package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"
)

// StreamTableSize is the length of a derived XOR key table.
const StreamTableSize = 32

// keyInfo domain-separates the session key derivation from any other
// hkdf use of the same secret.
const keyInfo = "realmgate session keys v1"

// DeriveTables expands a handshake session key into two independent
// XOR key tables, one per traffic direction. Client-to-server and
// server-to-client historically use different derived keys, so the
// two tables must never be swapped between directions.
func DeriveTables(secret, salt []byte) (inbound, outbound []byte, err error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(keyInfo))

	inbound = make([]byte, StreamTableSize)
	if _, err = r.Read(inbound); err != nil {
		return nil, nil, err
	}

	outbound = make([]byte, StreamTableSize)
	if _, err = r.Read(outbound); err != nil {
		return nil, nil, err
	}

	return inbound, outbound, nil
}
