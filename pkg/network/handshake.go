package network

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/HimbeerserverDE/srp"

	"github.com/openmist/realmgate/pkg/crypto"
	"github.com/openmist/realmgate/pkg/protocol"
)

// The handshake is a three-message SRP exchange. The client opens
// with its dialect, account name and public ephemeral A; the server
// answers with the account salt and its ephemeral B; the client
// proves knowledge of the password with M. On success the SRP session
// key seeds the per-direction cipher key schedules and the dialect is
// fixed for the rest of the connection.

// LoginRequest is the 0xF1/0x01 payload.
type LoginRequest struct {
	Version  protocol.Version
	Username string
	A        []byte
}

// Encode serializes the login request payload.
func (r *LoginRequest) Encode() []byte {
	buf := make([]byte, 0, 2+len(r.Username)+2+len(r.A))
	buf = append(buf, byte(r.Version), byte(len(r.Username)))
	buf = append(buf, r.Username...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.A)))
	return append(buf, r.A...)
}

// DecodeLoginRequest parses the login request payload.
func DecodeLoginRequest(p []byte) (LoginRequest, error) {
	if len(p) < 2 {
		return LoginRequest{}, fmt.Errorf("%w: login request", protocol.ErrBodyTruncated)
	}

	r := LoginRequest{Version: protocol.Version(p[0])}
	nameLen := int(p[1])
	offset := 2

	if len(p) < offset+nameLen+2 {
		return LoginRequest{}, fmt.Errorf("%w: login request name", protocol.ErrBodyTruncated)
	}
	r.Username = string(p[offset : offset+nameLen])
	offset += nameLen

	aLen := int(binary.LittleEndian.Uint16(p[offset:]))
	offset += 2

	if len(p) < offset+aLen {
		return LoginRequest{}, fmt.Errorf("%w: login request ephemeral", protocol.ErrBodyTruncated)
	}
	r.A = append([]byte(nil), p[offset:offset+aLen]...)

	return r, nil
}

// LoginChallenge is the 0xF1/0x02 payload.
type LoginChallenge struct {
	Salt []byte
	B    []byte
}

// Encode serializes the login challenge payload.
func (c *LoginChallenge) Encode() []byte {
	buf := make([]byte, 0, 1+len(c.Salt)+2+len(c.B))
	buf = append(buf, byte(len(c.Salt)))
	buf = append(buf, c.Salt...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(c.B)))
	return append(buf, c.B...)
}

// DecodeLoginChallenge parses the login challenge payload.
func DecodeLoginChallenge(p []byte) (LoginChallenge, error) {
	if len(p) < 1 {
		return LoginChallenge{}, fmt.Errorf("%w: login challenge", protocol.ErrBodyTruncated)
	}

	saltLen := int(p[0])
	offset := 1

	if len(p) < offset+saltLen+2 {
		return LoginChallenge{}, fmt.Errorf("%w: login challenge salt", protocol.ErrBodyTruncated)
	}
	c := LoginChallenge{Salt: append([]byte(nil), p[offset:offset+saltLen]...)}
	offset += saltLen

	bLen := int(binary.LittleEndian.Uint16(p[offset:]))
	offset += 2

	if len(p) < offset+bLen {
		return LoginChallenge{}, fmt.Errorf("%w: login challenge ephemeral", protocol.ErrBodyTruncated)
	}
	c.B = append([]byte(nil), p[offset:offset+bLen]...)

	return c, nil
}

// LoginProof is the 0xF1/0x03 payload.
type LoginProof struct {
	M []byte
}

// Encode serializes the login proof payload.
func (pr *LoginProof) Encode() []byte {
	buf := binary.LittleEndian.AppendUint16(make([]byte, 0, 2+len(pr.M)), uint16(len(pr.M)))
	return append(buf, pr.M...)
}

// DecodeLoginProof parses the login proof payload.
func DecodeLoginProof(p []byte) (LoginProof, error) {
	if len(p) < 2 {
		return LoginProof{}, fmt.Errorf("%w: login proof", protocol.ErrBodyTruncated)
	}

	mLen := int(binary.LittleEndian.Uint16(p))
	if len(p) < 2+mLen {
		return LoginProof{}, fmt.Errorf("%w: login proof", protocol.ErrBodyTruncated)
	}
	return LoginProof{M: append([]byte(nil), p[2:2+mLen]...)}, nil
}

// RegisterCoreHandlers installs the session lifecycle handlers for
// every supported dialect. Call before the server starts.
func RegisterCoreHandlers(d *Dispatcher) {
	vs := []protocol.Version{protocol.VersionLegacy, protocol.VersionModern}

	d.RegisterSub(vs, protocol.CodeSession, protocol.SubLoginRequest, handleLoginRequest)
	d.RegisterSub(vs, protocol.CodeSession, protocol.SubLoginProof, handleLoginProof)
	d.RegisterSub(vs, protocol.CodeSession, protocol.SubLogout, handleLogout)
	d.RegisterSub(vs, protocol.CodeWorld, protocol.SubWorldEnter, handleWorldEnter)
}

func loginResult(code byte) protocol.Message {
	return protocol.NewSubMessage(protocol.CodeSession, protocol.SubLoginResult, []byte{code})
}

func handleLoginRequest(s *Session, m protocol.Message) error {
	if s.State() != StateHandshaking || s.handshake() != nil {
		s.Send(loginResult(protocol.LoginOutOfOrder))
		s.Close()
		return nil
	}

	req, err := DecodeLoginRequest(m.Payload)
	if err != nil {
		return err
	}

	if !req.Version.Valid() {
		s.Send(loginResult(protocol.LoginBadVersion))
		s.Close()
		return nil
	}

	name := strings.ToLower(req.Username)
	salt, verifier, ok := s.srv.creds.Lookup(name)
	if !ok {
		s.Send(loginResult(protocol.LoginBadCreds))
		s.Close()
		return nil
	}

	B, _, K, err := srp.Handshake(req.A, verifier)
	if err != nil {
		return fmt.Errorf("srp handshake: %w", err)
	}

	s.setHandshake(&handshakeState{
		username: []byte(name),
		version:  req.Version,
		salt:     salt,
		verifier: verifier,
		clientA:  req.A,
		serverB:  B,
		key:      K,
	})

	challenge := LoginChallenge{Salt: salt, B: B}
	return s.Send(protocol.NewSubMessage(protocol.CodeSession, protocol.SubLoginChallenge, challenge.Encode()))
}

func handleLoginProof(s *Session, m protocol.Message) error {
	hs := s.handshake()
	if s.State() != StateHandshaking || hs == nil {
		s.Send(loginResult(protocol.LoginOutOfOrder))
		s.Close()
		return nil
	}

	proof, err := DecodeLoginProof(m.Payload)
	if err != nil {
		return err
	}

	expected := srp.CalculateM(hs.username, hs.salt, hs.clientA, hs.serverB, hs.key)
	if !bytes.Equal(proof.M, expected) {
		s.Send(loginResult(protocol.LoginBadCreds))
		s.Close()
		return nil
	}

	dec, enc, err := SessionCiphers(hs.version, hs.key, hs.salt)
	if err != nil {
		return err
	}

	if err := s.finishAuth(string(hs.username), hs.version, dec, enc); err != nil {
		return err
	}

	return s.Send(loginResult(protocol.LoginOK))
}

// SessionCiphers derives the per-direction ciphers a dialect uses
// after authentication. Legacy runs the XOR stream both ways; Modern
// decrypts inbound traffic with the modulus block cipher and keeps
// the derived stream cipher outbound.
func SessionCiphers(v protocol.Version, key, salt []byte) (dec, enc crypto.Cipher, err error) {
	inTable, outTable, err := crypto.DeriveTables(key, salt)
	if err != nil {
		return nil, nil, err
	}

	out, err := crypto.NewStreamCipher(outTable)
	if err != nil {
		return nil, nil, err
	}

	switch v {
	case protocol.VersionModern:
		return crypto.NewBlockCipher(), out, nil
	default:
		in, err := crypto.NewStreamCipher(inTable)
		if err != nil {
			return nil, nil, err
		}
		return in, out, nil
	}
}

func handleWorldEnter(s *Session, m protocol.Message) error {
	ack := protocol.NewSubMessage(protocol.CodeWorld, protocol.SubWorldEnterAck, []byte{0x00})
	ack.Encrypted = true

	if !s.transition(StateAuthenticated, StateInGame) {
		ack.Payload = []byte{0x01}
		s.Send(ack)
		return fmt.Errorf("world entry in state %s", s.State())
	}

	s.srv.broadcaster.Watch(s)
	return s.Send(ack)
}

func handleLogout(s *Session, m protocol.Message) error {
	s.Close()
	return nil
}
