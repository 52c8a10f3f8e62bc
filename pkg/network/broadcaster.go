package network

import (
	"log"
	"time"
)

// Broadcaster produces stats sync messages for in-game sessions, on a
// recurring timer and immediately on every attribute change. Packets
// only ever go to the subject's own session.
type Broadcaster struct {
	interval time.Duration
}

// NewBroadcaster returns a broadcaster with the given timer period.
// A non-positive period disables the timer; change-triggered
// broadcasts still fire.
func NewBroadcaster(interval time.Duration) *Broadcaster {
	return &Broadcaster{interval: interval}
}

// Watch attaches the session to the broadcaster: its attribute
// mutations now push a stats sync, and a per-session ticker pushes
// periodic refreshes until the session closes.
func (b *Broadcaster) Watch(s *Session) {
	s.Attributes().OnChange(func() {
		b.push(s)
	})

	if b.interval > 0 {
		go b.tick(s)
	}
}

func (b *Broadcaster) tick(s *Session) {
	t := time.NewTicker(b.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			b.push(s)
		case <-s.Done():
			return
		}
	}
}

func (b *Broadcaster) push(s *Session) {
	snap := s.Attributes().Snapshot()
	if err := s.Send(snap.Message()); err != nil {
		log.Printf("session %s: stats sync dropped: %v", s.ShortID(), err)
	}
}
