package network

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openmist/realmgate/pkg/config"
)

// Server owns the listener and the live session set.
type Server struct {
	cfg         *config.Config
	dispatcher  *Dispatcher
	creds       CredentialStore
	broadcaster *Broadcaster

	ln net.Listener

	mu       sync.RWMutex
	sessions map[string]*Session

	startTime time.Time
	accepted  atomic.Uint64
	closed    atomic.Uint64

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// SessionInfo is the diagnostics view of one live session.
type SessionInfo struct {
	ID         string `json:"id"`
	RemoteAddr string `json:"remoteAddr"`
	State      string `json:"state"`
	Version    byte   `json:"version"`
	Username   string `json:"username,omitempty"`
	QueueDepth int    `json:"queueDepth"`
}

// NewServer wires a server from its collaborators. The dispatcher
// must already carry every handler registration; Start seals it.
func NewServer(cfg *config.Config, d *Dispatcher, creds CredentialStore) *Server {
	return &Server{
		cfg:         cfg,
		dispatcher:  d,
		creds:       creds,
		broadcaster: NewBroadcaster(cfg.BroadcastInterval()),
		sessions:    make(map[string]*Session),
		quit:        make(chan struct{}),
	}
}

// Start seals the dispatch table and begins accepting connections.
func (srv *Server) Start() error {
	srv.dispatcher.seal()

	ln, err := net.Listen("tcp", srv.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.cfg.ListenAddr, err)
	}
	srv.ln = ln
	srv.startTime = time.Now()

	log.Printf("game server listening on %s", ln.Addr())

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.acceptLoop()
	}()

	return nil
}

func (srv *Server) acceptLoop() {
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			select {
			case <-srv.quit:
			default:
				log.Printf("accept error: %v", err)
			}
			return
		}

		srv.accepted.Add(1)
		s := newSession(srv, conn)
		srv.add(s)
		log.Printf("session %s: connected from %s", s.ShortID(), s.RemoteAddr())
		s.start()
	}
}

// Stop closes the listener and every live session, then waits for
// all session goroutines to finish. Safe to call more than once.
func (srv *Server) Stop() error {
	srv.stopOnce.Do(func() {
		close(srv.quit)
		if srv.ln != nil {
			srv.ln.Close()
		}

		srv.mu.RLock()
		live := make([]*Session, 0, len(srv.sessions))
		for _, s := range srv.sessions {
			live = append(live, s)
		}
		srv.mu.RUnlock()

		for _, s := range live {
			s.Close()
		}

		srv.wg.Wait()
		log.Printf("game server stopped")
	})
	return nil
}

// Addr returns the bound listener address, nil before Start.
func (srv *Server) Addr() net.Addr {
	if srv.ln == nil {
		return nil
	}
	return srv.ln.Addr()
}

func (srv *Server) add(s *Session) {
	srv.mu.Lock()
	srv.sessions[s.ID()] = s
	srv.mu.Unlock()
}

func (srv *Server) remove(s *Session) {
	srv.mu.Lock()
	delete(srv.sessions, s.ID())
	srv.mu.Unlock()
	srv.closed.Add(1)
}

// SessionCount returns the number of live sessions.
func (srv *Server) SessionCount() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.sessions)
}

// Sessions returns a diagnostics snapshot of every live session.
func (srv *Server) Sessions() []SessionInfo {
	srv.mu.RLock()
	defer srv.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		infos = append(infos, SessionInfo{
			ID:         s.ID(),
			RemoteAddr: s.RemoteAddr(),
			State:      s.State().String(),
			Version:    byte(s.Version()),
			Username:   s.Username(),
			QueueDepth: s.QueueDepth(),
		})
	}
	return infos
}

// Uptime returns how long the server has been serving.
func (srv *Server) Uptime() time.Duration {
	if srv.startTime.IsZero() {
		return 0
	}
	return time.Since(srv.startTime)
}

// Accepted returns the total number of accepted connections.
func (srv *Server) Accepted() uint64 { return srv.accepted.Load() }

// Closed returns the total number of fully torn down sessions.
func (srv *Server) Closed() uint64 { return srv.closed.Load() }

// Dispatcher exposes the dispatch table for diagnostics.
func (srv *Server) Dispatcher() *Dispatcher { return srv.dispatcher }

// Broadcaster returns the stats broadcaster sessions attach to on
// world entry.
func (srv *Server) Broadcaster() *Broadcaster { return srv.broadcaster }
