package network

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/HimbeerserverDE/srp"
	"github.com/stretchr/testify/require"

	"github.com/openmist/realmgate/pkg/config"
	"github.com/openmist/realmgate/pkg/crypto"
	"github.com/openmist/realmgate/pkg/protocol"
)

// startGameServer brings up a full server on a loopback port with the
// periodic broadcast timer pushed out of the test's time horizon, so
// only change-triggered stats packets arrive.
func startGameServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.BroadcastIntervalMS = 3600000
	cfg.FlushTimeoutMS = 1000
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	creds := NewMemoryCredentials()
	require.NoError(t, creds.Add("Tester", "swordfish"))

	d := NewDispatcher()
	RegisterCoreHandlers(d)

	srv := NewServer(cfg, d, creds)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

// testClient is a minimal protocol peer: a framer plus the client-side
// view of the cipher schedule, where its encrypt direction matches the
// server's decrypt direction and vice versa.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	framer *protocol.Framer
	dec    crypto.Cipher
	enc    crypto.Cipher
}

func dialClient(t *testing.T, srv *Server) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testClient{
		t:      t,
		conn:   conn,
		framer: protocol.NewFramer(0),
		dec:    crypto.NewDefaultStreamCipher(),
		enc:    crypto.NewDefaultStreamCipher(),
	}
}

func (c *testClient) send(m protocol.Message) {
	c.t.Helper()

	body := protocol.EncodeBody(m)
	if m.Encrypted {
		body = c.enc.Encrypt(body)
	}
	_, err := c.conn.Write(protocol.BuildFrame(body, m.Encrypted))
	require.NoError(c.t, err)
}

// recv blocks for up to timeout waiting for one complete message. The
// second return is false when the deadline passed or the peer closed.
func (c *testClient) recv(timeout time.Duration) (protocol.Message, bool) {
	c.t.Helper()

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)
	for {
		frame, err := c.framer.Next()
		require.NoError(c.t, err)
		if frame != nil {
			body := frame.Body()
			if frame.Encrypted() {
				body, err = c.dec.Decrypt(body)
				require.NoError(c.t, err)
			}
			m, err := protocol.DecodeBody(body)
			require.NoError(c.t, err)
			m.Encrypted = frame.Encrypted()
			return m, true
		}

		c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(buf)
		if err != nil {
			return protocol.Message{}, false
		}
		c.framer.Feed(buf[:n])
	}
}

func (c *testClient) mustRecv() protocol.Message {
	c.t.Helper()
	m, ok := c.recv(2 * time.Second)
	require.True(c.t, ok, "expected a message before the deadline")
	return m
}

// login runs the three-message SRP exchange and, on success, installs
// the post-auth ciphers for the chosen dialect.
func (c *testClient) login(version protocol.Version, username, password string) byte {
	c.t.Helper()

	A, a, err := srp.InitiateHandshake()
	require.NoError(c.t, err)

	req := LoginRequest{Version: version, Username: username, A: A}
	c.send(protocol.NewSubMessage(protocol.CodeSession, protocol.SubLoginRequest, req.Encode()))

	m := c.mustRecv()
	require.Equal(c.t, protocol.CodeSession, m.Code)

	// Rejections skip the challenge and come back as a result code.
	if m.SubCode == protocol.SubLoginResult {
		return m.Payload[0]
	}
	require.Equal(c.t, protocol.SubLoginChallenge, m.SubCode)

	chal, err := DecodeLoginChallenge(m.Payload)
	require.NoError(c.t, err)

	name := []byte(strings.ToLower(username))
	K, err := srp.CompleteHandshake(A, a, name, []byte(password), chal.Salt, chal.B)
	require.NoError(c.t, err)

	proof := LoginProof{M: srp.CalculateM(name, chal.Salt, A, chal.B, K)}
	c.send(protocol.NewSubMessage(protocol.CodeSession, protocol.SubLoginProof, proof.Encode()))

	res := c.mustRecv()
	require.Equal(c.t, protocol.SubLoginResult, res.SubCode)
	if res.Payload[0] != protocol.LoginOK {
		return res.Payload[0]
	}

	inTable, outTable, err := crypto.DeriveTables(K, chal.Salt)
	require.NoError(c.t, err)
	out, err := crypto.NewStreamCipher(outTable)
	require.NoError(c.t, err)

	// Mirror of SessionCiphers with the directions swapped.
	c.dec = out
	if version == protocol.VersionModern {
		c.enc = crypto.NewBlockCipher()
	} else {
		in, err := crypto.NewStreamCipher(inTable)
		require.NoError(c.t, err)
		c.enc = in
	}
	return protocol.LoginOK
}

func waitForState(t *testing.T, srv *Server, st State) *Session {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.mu.RLock()
		for _, s := range srv.sessions {
			if s.State() == st {
				srv.mu.RUnlock()
				return s
			}
		}
		srv.mu.RUnlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no session reached state %s", st)
	return nil
}

func TestSessionFullLifecycle(t *testing.T) {
	for _, version := range []protocol.Version{protocol.VersionLegacy, protocol.VersionModern} {
		t.Run(version.String(), func(t *testing.T) {
			srv := startGameServer(t, nil)
			c := dialClient(t, srv)

			require.Equal(t, byte(protocol.LoginOK), c.login(version, "Tester", "swordfish"))

			sess := waitForState(t, srv, StateAuthenticated)
			require.Equal(t, "tester", sess.Username())
			require.Equal(t, version, sess.Version())

			// Seed the character before entering the world. Nothing is
			// attached yet, so none of these produce a packet.
			attrs := sess.Attributes()
			attrs.SetHealth(100)
			attrs.SetShield(50)
			attrs.SetMana(200)
			attrs.SetAbility(30)
			attrs.SetAttackSpeed(20)
			attrs.SetMagicSpeed(25)
			attrs.SetDamageRate(4.15)

			// A code nobody registered is logged and skipped, not fatal.
			c.send(protocol.NewMessage(0x77, []byte{1, 2, 3}))

			enter := protocol.NewSubMessage(protocol.CodeWorld, protocol.SubWorldEnter, nil)
			enter.Encrypted = true
			c.send(enter)

			ack := c.mustRecv()
			require.Equal(t, protocol.CodeWorld, ack.Code)
			require.Equal(t, protocol.SubWorldEnterAck, ack.SubCode)
			require.True(t, ack.Encrypted)
			require.Equal(t, byte(0x00), ack.Payload[0])
			require.Equal(t, StateInGame, sess.State())

			// One attribute change, one stats packet, carrying the full
			// current snapshot.
			attrs.SetHealth(80)

			m := c.mustRecv()
			require.Equal(t, protocol.CodeStats, m.Code)
			require.Equal(t, protocol.SubStatsSync, m.SubCode)

			sync, err := protocol.DecodeStatsSync(m.Payload)
			require.NoError(t, err)
			require.Equal(t, uint32(80), sync.Health)
			require.Equal(t, uint32(50), sync.Shield)
			require.Equal(t, uint32(200), sync.Mana)
			require.Equal(t, uint32(30), sync.Ability)
			require.Equal(t, uint16(20), sync.AttackSpeed)
			require.Equal(t, uint16(25), sync.MagicSpeed)
			require.InDelta(t, 4.15, sync.DamageRate, 0.001)

			// Writing the same value back is not a change.
			attrs.SetHealth(80)
			if extra, ok := c.recv(150 * time.Millisecond); ok {
				t.Fatalf("unexpected extra message %02X/%02X", extra.Code, extra.SubCode)
			}

			logout := protocol.NewSubMessage(protocol.CodeSession, protocol.SubLogout, nil)
			logout.Encrypted = true
			c.send(logout)

			select {
			case <-sess.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("session did not tear down after logout")
			}
			require.Equal(t, StateClosed, sess.State())
		})
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv := startGameServer(t, nil)
	c := dialClient(t, srv)

	require.Equal(t, byte(protocol.LoginBadCreds), c.login(protocol.VersionModern, "Tester", "not-the-password"))

	// The server hangs up after a failed proof.
	if _, ok := c.recv(time.Second); ok {
		t.Fatal("expected the connection to close after a failed login")
	}
}

func TestLoginUnknownAccount(t *testing.T) {
	srv := startGameServer(t, nil)
	c := dialClient(t, srv)

	require.Equal(t, byte(protocol.LoginBadCreds), c.login(protocol.VersionModern, "Nobody", "whatever"))
}

func TestLoginUnsupportedVersion(t *testing.T) {
	srv := startGameServer(t, nil)
	c := dialClient(t, srv)

	require.Equal(t, byte(protocol.LoginBadVersion), c.login(protocol.Version(0x09), "Tester", "swordfish"))
}

func TestLoginProofBeforeRequest(t *testing.T) {
	srv := startGameServer(t, nil)
	c := dialClient(t, srv)

	proof := LoginProof{M: []byte{1, 2, 3}}
	c.send(protocol.NewSubMessage(protocol.CodeSession, protocol.SubLoginProof, proof.Encode()))

	res := c.mustRecv()
	require.Equal(t, protocol.SubLoginResult, res.SubCode)
	require.Equal(t, protocol.LoginOutOfOrder, res.Payload[0])
}

func TestWorldEnterBeforeAuth(t *testing.T) {
	srv := startGameServer(t, nil)
	c := dialClient(t, srv)

	enter := protocol.NewSubMessage(protocol.CodeWorld, protocol.SubWorldEnter, nil)
	enter.Encrypted = true
	c.send(enter)

	ack := c.mustRecv()
	require.Equal(t, protocol.SubWorldEnterAck, ack.SubCode)
	require.Equal(t, byte(0x01), ack.Payload[0])
}

func TestSendQueueOverflowClosesSession(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SendQueue = 2
	cfg.FlushTimeoutMS = 50
	require.NoError(t, cfg.Validate())

	srv := NewServer(cfg, NewDispatcher(), NewMemoryCredentials())

	// net.Pipe gives a peer that never reads, so the writer wedges on
	// its first message and the queue fills behind it.
	server, client := net.Pipe()
	defer client.Close()

	s := newSession(srv, server)
	srv.add(s)
	s.start()

	var overflowed bool
	for i := 0; i < cfg.SendQueue+2; i++ {
		if err := s.Send(protocol.NewMessage(0x18, []byte{byte(i)})); err != nil {
			require.ErrorIs(t, err, ErrQueueOverflow)
			overflowed = true
			break
		}
	}
	require.True(t, overflowed, "queue never overflowed")

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not tear down after overflow")
	}
	require.Equal(t, StateClosed, s.State())
	require.ErrorIs(t, s.Send(protocol.NewMessage(0x18, nil)), ErrSessionClosed)
}

func TestOutsideCloseDuringInboundDrain(t *testing.T) {
	// An overflow-triggered close comes from outside the reader while
	// the reader is still busy decrypting buffered frames. Teardown
	// must leave the reader's framer and ciphers alone; the session
	// just has to wind down cleanly.
	cfg := config.DefaultConfig()
	cfg.SendQueue = 1
	cfg.FlushTimeoutMS = 50
	cfg.RateLimit = 0
	require.NoError(t, cfg.Validate())

	srv := NewServer(cfg, NewDispatcher(), NewMemoryCredentials())

	server, client := net.Pipe()
	defer client.Close()

	s := newSession(srv, server)
	srv.add(s)
	s.start()

	// Keep the reader occupied with a stream of encrypted frames.
	enc := crypto.NewDefaultStreamCipher()
	body := enc.Encrypt(protocol.EncodeBody(protocol.NewMessage(0x33, []byte{1, 2, 3})))
	frame := protocol.BuildFrame(body, true)
	go func() {
		for {
			if _, err := client.Write(frame); err != nil {
				return
			}
		}
	}()

	// The writer wedges on its first message (the peer never reads),
	// so a couple more sends overflow the queue and force the close.
	var overflowed bool
	for i := 0; i < cfg.SendQueue+2; i++ {
		if err := s.Send(protocol.NewMessage(0x18, nil)); err != nil {
			require.ErrorIs(t, err, ErrQueueOverflow)
			overflowed = true
			break
		}
	}
	require.True(t, overflowed, "queue never overflowed")

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not tear down")
	}
	require.Equal(t, StateClosed, s.State())
}

func TestInboundRateLimitClosesSession(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit = 5
	cfg.RateBurst = 2
	cfg.FlushTimeoutMS = 50
	require.NoError(t, cfg.Validate())

	srv := NewServer(cfg, NewDispatcher(), NewMemoryCredentials())

	server, client := net.Pipe()
	defer client.Close()

	s := newSession(srv, server)
	srv.add(s)
	s.start()

	go io.Copy(io.Discard, client)

	frame := protocol.BuildFrame(protocol.EncodeBody(protocol.NewMessage(0x77, nil)), false)
	for i := 0; i < 10; i++ {
		if _, err := client.Write(frame); err != nil {
			break
		}
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session survived a frame flood")
	}
}

func TestMalformedFrameClosesSession(t *testing.T) {
	srv := startGameServer(t, nil)
	c := dialClient(t, srv)

	_, err := c.conn.Write([]byte{0x00, 0x05, 0x18, 0x00, 0x00})
	require.NoError(t, err)

	if _, ok := c.recv(2 * time.Second); ok {
		t.Fatal("expected the connection to close on a bad tag")
	}
}

func TestServerStopClosesSessions(t *testing.T) {
	srv := startGameServer(t, nil)
	c := dialClient(t, srv)

	require.Equal(t, byte(protocol.LoginOK), c.login(protocol.VersionLegacy, "Tester", "swordfish"))
	require.Equal(t, 1, srv.SessionCount())

	require.NoError(t, srv.Stop())
	require.Equal(t, 0, srv.SessionCount())
	require.Equal(t, uint64(1), srv.Accepted())
	require.Equal(t, uint64(1), srv.Closed())
}
