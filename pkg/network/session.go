package network

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/openmist/realmgate/pkg/config"
	"github.com/openmist/realmgate/pkg/crypto"
	"github.com/openmist/realmgate/pkg/protocol"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrQueueOverflow = errors.New("send queue overflow")
	ErrRateExceeded  = errors.New("inbound rate exceeded")
)

// State is a session's lifecycle phase. Transitions only ever move
// forward; Closed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateAuthenticated
	StateInGame
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticated:
		return "authenticated"
	case StateInGame:
		return "ingame"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// handshakeState holds the SRP exchange between login request and
// proof. It is dropped as soon as the session authenticates.
type handshakeState struct {
	username []byte
	version  protocol.Version
	salt     []byte
	verifier []byte
	clientA  []byte
	serverB  []byte
	key      []byte
}

// Session is the per-client state machine gluing framer, ciphers and
// dispatcher to one socket. One reader goroutine and one writer
// goroutine own it between them.
type Session struct {
	id   string
	conn net.Conn
	srv  *Server

	framer  *protocol.Framer
	limiter *rate.Limiter

	state atomic.Int32

	// mu guards the fields the reader mutates at handshake time and
	// the writer reads on every send. Never held across I/O.
	mu        sync.Mutex
	version   protocol.Version
	decCipher crypto.Cipher
	encCipher crypto.Cipher
	username  string
	hs        *handshakeState

	attrs *Attributes

	sendCh    chan protocol.Message
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(srv *Server, conn net.Conn) *Session {
	cfg := srv.cfg

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	s := &Session{
		id:      uuid.NewString(),
		conn:    conn,
		srv:     srv,
		framer:  protocol.NewFramer(cfg.MaxFrame),
		limiter: limiter,
		version: protocol.VersionLegacy,
		attrs:   NewAttributes(),
		sendCh:  make(chan protocol.Message, cfg.SendQueue),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	// Until the handshake fixes the dialect and re-keys, both
	// directions run the public-table stream cipher.
	s.decCipher = crypto.NewDefaultStreamCipher()
	s.encCipher = crypto.NewDefaultStreamCipher()

	s.state.Store(int32(StateConnecting))
	return s
}

// start moves the session into Handshaking and launches its reader
// and writer goroutines.
func (s *Session) start() {
	s.transition(StateConnecting, StateHandshaking)

	s.srv.wg.Add(2)
	go func() {
		defer s.srv.wg.Done()
		s.readLoop()
	}()
	go func() {
		defer s.srv.wg.Done()
		s.writeLoop()
	}()
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ShortID returns the identifier prefix used in logs.
func (s *Session) ShortID() string { return s.id[:8] }

// RemoteAddr returns the client's network address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session has fully torn down and released
// its resources.
func (s *Session) Done() <-chan struct{} { return s.done }

// Attributes returns the character attribute set broadcast by the
// stats broadcaster.
func (s *Session) Attributes() *Attributes { return s.attrs }

// Version returns the wire dialect. Provisionally Legacy until the
// handshake fixes it.
func (s *Session) Version() protocol.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Username returns the authenticated account name, empty before
// authentication.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// QueueDepth returns the number of queued outbound messages.
func (s *Session) QueueDepth() int { return len(s.sendCh) }

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Send enqueues one outbound message. Messages leave the socket in
// enqueue order. A full queue means the client has stalled; the
// session is forcibly closed rather than allowed to buffer without
// bound.
func (s *Session) Send(m protocol.Message) error {
	if s.State() >= StateClosing {
		return ErrSessionClosed
	}

	select {
	case s.sendCh <- m:
		return nil
	default:
		log.Printf("session %s: send queue full (%d), closing", s.ShortID(), cap(s.sendCh))
		s.close(ErrQueueOverflow)
		return ErrQueueOverflow
	}
}

// Close starts an orderly shutdown: drain the outbound queue under
// the flush timeout, then release everything exactly once.
func (s *Session) Close() {
	s.close(nil)
}

func (s *Session) close(reason error) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		if reason != nil && !errors.Is(reason, io.EOF) {
			log.Printf("session %s: closing: %v", s.ShortID(), reason)
		}
		close(s.closing)
	})
}

// readLoop feeds the framer and processes every complete frame in
// arrival order. Any framing, decryption or fatal handler error ends
// the session; the loop itself never touches another session.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.framer.Feed(buf[:n])
			if perr := s.processFrames(); perr != nil {
				s.close(perr)
				return
			}
		}
		if err != nil {
			s.close(err)
			return
		}
	}
}

func (s *Session) processFrames() error {
	for {
		select {
		case <-s.closing:
			// A close initiated elsewhere wins; whatever is still
			// buffered never reaches a handler.
			return ErrSessionClosed
		default:
		}

		frame, err := s.framer.Next()
		if err != nil {
			return err
		}
		if frame == nil {
			return nil
		}

		if s.limiter != nil && !s.limiter.Allow() {
			return fmt.Errorf("%w: frame budget exhausted", ErrRateExceeded)
		}

		body := frame.Body()
		if frame.Encrypted() {
			body, err = s.cipherDec().Decrypt(body)
			if err != nil {
				return err
			}
		}

		m, err := protocol.DecodeBody(body)
		if err != nil {
			return err
		}
		m.Encrypted = frame.Encrypted()

		if herr := s.srv.dispatcher.Dispatch(s, m); herr != nil {
			log.Printf("session %s: handler for %s failed: %v", s.ShortID(), messageName(m), herr)
			if s.srv.cfg.HandlerPolicy == config.PolicyDisconnect {
				return herr
			}
		}
	}
}

// writeLoop drains the send queue until the session closes, then
// flushes what is left best-effort and tears the session down. The
// teardown runs here exactly once, whichever side initiated the
// close.
func (s *Session) writeLoop() {
	for {
		select {
		case m := <-s.sendCh:
			if err := s.writeMessage(m); err != nil {
				s.close(err)
				s.teardown()
				return
			}
		case <-s.closing:
			s.flush()
			s.teardown()
			return
		}
	}
}

func (s *Session) writeMessage(m protocol.Message) error {
	body := protocol.EncodeBody(m)
	if m.Encrypted {
		body = s.cipherEnc().Encrypt(body)
	}
	frame := protocol.BuildFrame(body, m.Encrypted)

	// Every write carries a deadline so a stalled client can never
	// wedge the writer; config validation keeps the timeout positive.
	s.conn.SetWriteDeadline(time.Now().Add(s.srv.cfg.FlushTimeout()))
	_, err := s.conn.Write(frame)
	return err
}

func (s *Session) flush() {
	deadline := time.Now().Add(s.srv.cfg.FlushTimeout())
	for {
		select {
		case m := <-s.sendCh:
			if time.Now().After(deadline) {
				return
			}
			if err := s.writeMessage(m); err != nil {
				return
			}
		default:
			return
		}
	}
}

// teardown runs exactly once, after which the state is Closed and
// every Send fails. It only closes the socket: the framer is owned by
// the reader and the ciphers may still be in use by a reader that is
// draining buffered frames, so neither is touched here. Both are
// reclaimed with the session.
func (s *Session) teardown() {
	s.conn.Close()
	s.state.Store(int32(StateClosed))
	s.srv.remove(s)
	close(s.done)
	log.Printf("session %s: closed", s.ShortID())
}

func (s *Session) cipherDec() crypto.Cipher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decCipher
}

func (s *Session) cipherEnc() crypto.Cipher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encCipher
}

func (s *Session) setHandshake(hs *handshakeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hs = hs
}

func (s *Session) handshake() *handshakeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hs
}

// finishAuth fixes the dialect, installs the per-direction key
// schedules and moves the session to Authenticated. The version is
// never mutated again afterwards.
func (s *Session) finishAuth(username string, version protocol.Version, dec, enc crypto.Cipher) error {
	if !s.transition(StateHandshaking, StateAuthenticated) {
		return fmt.Errorf("finish auth in state %s", s.State())
	}

	s.mu.Lock()
	s.username = username
	s.version = version
	s.decCipher = dec
	s.encCipher = enc
	s.hs = nil
	s.mu.Unlock()

	log.Printf("session %s: authenticated %q (version 0x%02X)", s.ShortID(), username, byte(version))
	return nil
}
