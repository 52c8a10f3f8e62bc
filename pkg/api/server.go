// Package api exposes read-only runtime diagnostics over HTTP.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openmist/realmgate/pkg/network"
)

// StatusResponse summarizes the running server.
type StatusResponse struct {
	Success       bool    `json:"success"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Sessions      int     `json:"sessions"`
	Accepted      uint64  `json:"accepted"`
	Closed        uint64  `json:"closed"`
}

// SessionsResponse lists the live sessions.
type SessionsResponse struct {
	Success  bool                  `json:"success"`
	Count    int                   `json:"count"`
	Sessions []network.SessionInfo `json:"sessions"`
}

// DispatchResponse reports dispatch table hit counters.
type DispatchResponse struct {
	Success bool              `json:"success"`
	Hits    map[string]uint64 `json:"hits"`
	Misses  uint64            `json:"misses"`
}

// Server serves the diagnostics endpoints for one game server.
type Server struct {
	game *network.Server
	http *http.Server
}

// NewServer builds the API around a game server.
func NewServer(game *network.Server, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{game: game}

	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/sessions", s.handleSessions)
		v1.GET("/dispatch", s.handleDispatch)
	}

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start serves in the background until Stop. The diagnostics surface
// is auxiliary: a failure to serve is logged, never fatal to the game
// server.
func (s *Server) Start() error {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("diagnostics api: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Success:       true,
		UptimeSeconds: s.game.Uptime().Round(time.Millisecond).Seconds(),
		Sessions:      s.game.SessionCount(),
		Accepted:      s.game.Accepted(),
		Closed:        s.game.Closed(),
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	infos := s.game.Sessions()
	c.JSON(http.StatusOK, SessionsResponse{
		Success:  true,
		Count:    len(infos),
		Sessions: infos,
	})
}

func (s *Server) handleDispatch(c *gin.Context) {
	hits, misses := s.game.Dispatcher().Stats()
	c.JSON(http.StatusOK, DispatchResponse{
		Success: true,
		Hits:    hits,
		Misses:  misses,
	})
}
