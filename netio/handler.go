package netio

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cliffg-softwarelibre/chops"
)

// MsgHandler processes one decoded inbound message. It is invoked once per
// message, in framing order, from the handler's read goroutine. payload is
// only guaranteed valid for the duration of the call on datagram handlers;
// stream payloads are freshly allocated. io is a handle to the receiving
// handler and may be used to reply. from is the peer address, or nil when
// it is not known.
//
// Returning false stops reading and tears the connection down with
// ErrMsgHandlerHalt; the conventional use is an intentionally empty message
// as an end-of-flow sentinel. A read or decode error tears the connection
// down with the underlying cause regardless of earlier return values.
type MsgHandler func(payload []byte, io Handle, from net.Addr) bool

// IOConfig carries the per-connection read and write settings installed by
// StartIO.
type IOConfig struct {
	// Handler is the per-message callback. A nil Handler selects send-only
	// mode: no read loop is started.
	Handler MsgHandler

	// Framer determines message boundaries on stream transports. Required
	// there when Handler is set; ignored by datagram handlers, where each
	// datagram is one message.
	Framer chops.Framer

	// ReadSize is the largest datagram payload accepted. Zero selects
	// DefaultReadSize. Ignored by stream handlers.
	ReadSize int

	// FlushOnStop writes out the queued buffers before the socket closes on
	// an explicit StopIO instead of discarding them. The flush shares one
	// bounded window with any in-flight write.
	FlushOnStop bool
}

// ioHandler is the transport-specific capability set behind a Handle, with
// one implementing variant per transport shape (stream, datagram).
type ioHandler interface {
	startIO(cfg IOConfig) bool
	stopIO() bool
	terminate(cause error) bool
	send(p []byte, dest net.Addr) bool
	ioStarted() bool
	queueStats() QueueStats
	socket() net.Conn
	ident() uint64
	attached() bool
	setDetached()
}

// ioSeq hands out handler identities; handles order valid referents by this
// sequence.
var ioSeq atomic.Uint64

func nextIOSeq() uint64 {
	return ioSeq.Add(1)
}

// ioBase carries the lifecycle state shared by both handler variants.
//
// State transitions funnel through terminate: the first terminal cause wins
// and every later cause (including "operation aborted" style errors from
// in-flight completions after a local close) is dropped. The owning entity
// is notified exactly once per handler via term.
type ioBase struct {
	seqNo uint64
	conn  net.Conn
	queue *outQueue
	term  func(err error) // owner notification, invoked exactly once.

	mu       sync.Mutex
	cfg      IOConfig
	started  bool
	stopping bool
	running  bool // run supervisor launched.
	cause    error

	detach atomic.Bool   // set when the owning entity discards the handler.
	wakeCh chan struct{} // writer wake signal, capacity one.
	doneCh chan struct{} // closed when teardown begins.
}

func newIOBase(conn net.Conn, term func(err error)) ioBase {
	return ioBase{
		seqNo:  nextIOSeq(),
		conn:   conn,
		queue:  newOutQueue(),
		term:   term,
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
}

func (b *ioBase) ident() uint64 { return b.seqNo }

func (b *ioBase) socket() net.Conn { return b.conn }

func (b *ioBase) queueStats() QueueStats { return b.queue.stats() }

func (b *ioBase) ioStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.started
}

func (b *ioBase) attached() bool { return !b.detach.Load() }

// setDetached marks the handler discarded by its owner; handles referring to
// it become invalid.
func (b *ioBase) setDetached() { b.detach.Store(true) }

// begin claims the not-started -> started transition. It returns false if io
// is already started or teardown has begun.
func (b *ioBase) begin(cfg IOConfig) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started || b.stopping {
		return false
	}
	b.cfg = cfg
	b.started = true
	b.running = true

	return true
}

// sendable reports whether a send may be enqueued right now.
func (b *ioBase) sendable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.started && !b.stopping
}

// wake nudges the writer loop without blocking.
func (b *ioBase) wake() {
	select {
	case b.wakeCh <- struct{}{}:
	default:
	}
}

func (b *ioBase) stopIO() bool {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()

	if !started {
		return false
	}

	return b.terminate(ErrIOStopped)
}

// terminate records the first terminal cause and begins teardown. It returns
// true only for the call that initiated teardown. When no supervisor is
// running (io never started), terminate closes the socket and fires the
// owner notification itself.
func (b *ioBase) terminate(cause error) bool {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return false
	}
	b.stopping = true
	b.started = false
	b.cause = cause
	running := b.running
	b.mu.Unlock()

	close(b.doneCh)

	if !running {
		_ = b.conn.Close()
		b.term(cause)
	}

	return true
}

// terminalCause returns the recorded cause; valid once doneCh is closed.
func (b *ioBase) terminalCause() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.cause
}

// flushWriteTimeout caps a flushing teardown. The in-flight write and the
// queued remainder share one absolute deadline, so a peer that stopped
// reading cannot pin the teardown goroutines.
const flushWriteTimeout = 2 * time.Second

// flushWanted reports whether the remaining queue should be written out
// before the socket closes. An end-of-flow halt from the message handler is
// an orderly teardown and always flushes, so replies queued by the final
// callback reach the peer; an explicit local stop flushes per configuration;
// transport errors and entity stops discard the queue.
func (b *ioBase) flushWanted(cfg IOConfig) bool {
	cause := b.terminalCause()
	switch {
	case errors.Is(cause, ErrMsgHandlerHalt):
		return true
	case errors.Is(cause, ErrIOStopped):
		return cfg.FlushOnStop
	default:
		return false
	}
}
