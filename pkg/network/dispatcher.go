package network

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/openmist/realmgate/pkg/protocol"
)

// Handler processes one decoded message for a session. Handlers reply
// through the session send API and never touch framer or cipher
// internals. A returned error is a handler failure, resolved by the
// configured policy; an unknown message is not an error.
type Handler func(s *Session, m protocol.Message) error

type dispatchKey struct {
	version protocol.Version
	code    byte
	sub     byte
	hasSub  bool
}

func (k dispatchKey) String() string {
	if k.hasSub {
		return fmt.Sprintf("0x%02X/0x%02X", k.code, k.sub)
	}
	return fmt.Sprintf("0x%02X", k.code)
}

// Dispatcher maps (code, subcode, version) to handlers. All
// registration happens at process start; once the server starts
// serving the table is sealed and lookups are lock-free.
type Dispatcher struct {
	sealed   atomic.Bool
	table    map[dispatchKey]Handler
	counters map[dispatchKey]*atomic.Uint64
	misses   atomic.Uint64
}

// NewDispatcher returns an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		table:    make(map[dispatchKey]Handler),
		counters: make(map[dispatchKey]*atomic.Uint64),
	}
}

// Register installs a handler for a bare code under each given
// version. It panics after the table is sealed or on a duplicate key;
// both are wiring bugs, not runtime conditions.
func (d *Dispatcher) Register(versions []protocol.Version, code byte, h Handler) {
	for _, v := range versions {
		d.add(dispatchKey{version: v, code: code}, h)
	}
}

// RegisterSub installs a handler for an extended (code, subcode) pair
// under each given version. A subcode entry takes precedence over a
// bare-code entry for the same code.
func (d *Dispatcher) RegisterSub(versions []protocol.Version, code, sub byte, h Handler) {
	for _, v := range versions {
		d.add(dispatchKey{version: v, code: code, sub: sub, hasSub: true}, h)
	}
}

func (d *Dispatcher) add(k dispatchKey, h Handler) {
	if d.sealed.Load() {
		panic("network: handler registration after dispatcher was sealed")
	}
	if h == nil {
		panic("network: nil handler")
	}
	if _, dup := d.table[k]; dup {
		panic(fmt.Sprintf("network: duplicate handler for %s version 0x%02X", k, byte(k.version)))
	}
	d.table[k] = h
	d.counters[k] = &atomic.Uint64{}
}

// seal freezes the table. Called once when the server starts serving.
func (d *Dispatcher) seal() {
	d.sealed.Store(true)
}

// Dispatch routes one message to its handler under the session's
// protocol version. Subcode-specific entries win over bare-code
// entries. An unmatched message is dropped and counted: clients
// speaking a newer or older dialect may legitimately send codes this
// server does not know.
func (d *Dispatcher) Dispatch(s *Session, m protocol.Message) error {
	v := s.Version()

	if m.HasSubCode {
		k := dispatchKey{version: v, code: m.Code, sub: m.SubCode, hasSub: true}
		if h, ok := d.table[k]; ok {
			d.counters[k].Add(1)
			return h(s, m)
		}
	}

	k := dispatchKey{version: v, code: m.Code}
	if h, ok := d.table[k]; ok {
		d.counters[k].Add(1)
		return h(s, m)
	}

	d.misses.Add(1)
	log.Printf("session %s: no handler for %s (version 0x%02X), dropping",
		s.ShortID(), messageName(m), byte(v))
	return nil
}

func messageName(m protocol.Message) string {
	if m.HasSubCode {
		return fmt.Sprintf("0x%02X/0x%02X", m.Code, m.SubCode)
	}
	return fmt.Sprintf("0x%02X", m.Code)
}

// Stats reports per-entry hit counts (summed across versions) and the
// number of dropped unmatched messages.
func (d *Dispatcher) Stats() (hits map[string]uint64, misses uint64) {
	hits = make(map[string]uint64)
	for k, c := range d.counters {
		hits[k.String()] += c.Load()
	}
	return hits, d.misses.Load()
}
