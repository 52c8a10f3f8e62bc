// Package network glues the wire protocol to TCP: it owns the
// listener, the per-connection session state machine, the versioned
// message dispatch table, and the stats broadcaster.
//
// Ownership is split into two domains. The dispatch table is built
// once before the listener starts and is immutable afterwards, so the
// hot dispatch path takes no locks. Everything mutable (framer,
// ciphers, handshake state, attributes) is owned by exactly one
// session and touched only by that session's reader and writer
// goroutines; the send queue is the single structure shared between
// producers and the writer.
//
// A session runs one reader goroutine and one writer goroutine.
// Frames from a connection are processed strictly in arrival order,
// outbound messages leave in enqueue order, and nothing is ordered
// across connections. Handlers run on the session's reader goroutine,
// so a slow client only ever stalls itself.
package network
