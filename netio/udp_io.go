package netio

import (
	"net"
	"sync"
	"time"

	"github.com/cliffg-softwarelibre/chops"
)

// DefaultReadSize is the datagram read buffer size when IOConfig.ReadSize is
// zero. It is the largest UDP payload deliverable over IPv4.
const DefaultReadSize = 65507

// udpIO is the datagram-transport handler. Each datagram is one message, so
// no Framer is involved. A handler is either connected (socket dialed to a
// fixed peer) or bound (local endpoint only); bound handlers need a
// destination per send, either explicit or the entity-wide default.
type udpIO struct {
	ioBase
	uconn     *net.UDPConn
	connected bool
	defDest   *net.UDPAddr
}

func newUDPIO(conn *net.UDPConn, dest *net.UDPAddr, term func(err error)) *udpIO {
	return &udpIO{
		ioBase:    newIOBase(conn, term),
		uconn:     conn,
		connected: conn.RemoteAddr() != nil,
		defDest:   dest,
	}
}

func (h *udpIO) startIO(cfg IOConfig) bool {
	if !h.begin(cfg) {
		return false
	}

	go h.run(cfg)

	return true
}

// send enqueues one datagram. Zero-length datagrams are legitimate wire
// events (keepalives) and are transmitted. Connected sockets reject
// per-send destinations at the OS level, so dest is dropped there; a bound
// socket with neither an explicit nor a default destination cannot deliver
// and reports failure.
func (h *udpIO) send(p []byte, dest net.Addr) bool {
	if !h.sendable() {
		return false
	}

	if h.connected {
		dest = nil
	} else if dest == nil {
		if h.defDest == nil {
			return false
		}
		dest = h.defDest
	}

	h.queue.push(outMsg{data: p, dest: dest})
	h.wake()

	return true
}

// run supervises the read and write goroutines; teardown ordering matches
// the stream handler: writer first, settle the queue, close the socket,
// reader, owner notification.
func (h *udpIO) run(cfg IOConfig) {
	var writerWG sync.WaitGroup

	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		h.writeLoop()
	}()

	var readerWG sync.WaitGroup
	if cfg.Handler != nil {
		readerWG.Add(1)
		go func() {
			defer readerWG.Done()
			h.readLoop(cfg)
		}()
	}

	<-h.doneCh

	flush := h.flushWanted(cfg)
	if flush {
		_ = h.conn.SetWriteDeadline(time.Now().Add(flushWriteTimeout))
	} else {
		_ = h.conn.Close()
	}
	writerWG.Wait()

	if flush {
		h.flush()
	}
	h.queue.drain()

	_ = h.conn.Close()
	readerWG.Wait()

	h.term(h.terminalCause())
}

func (h *udpIO) readLoop(cfg IOConfig) {
	size := cfg.ReadSize
	if size <= 0 {
		size = DefaultReadSize
	}

	for {
		buf := chops.GetBuffer(size)
		n, from, err := h.uconn.ReadFrom(buf)
		if err != nil {
			chops.PutBuffer(buf)
			h.terminate(err)

			return
		}

		keep := cfg.Handler(buf[:n], Handle{h: h}, from)
		chops.PutBuffer(buf)
		if !keep {
			h.terminate(ErrMsgHandlerHalt)
			return
		}
	}
}

func (h *udpIO) writeLoop() {
	for {
		select {
		case <-h.doneCh:
			return
		case <-h.wakeCh:
			for {
				m, ok := h.queue.pop()
				if !ok {
					break
				}
				if err := h.writeOut(m); err != nil {
					h.terminate(err)
					return
				}
			}
		}
	}
}

func (h *udpIO) flush() {
	for {
		m, ok := h.queue.pop()
		if !ok {
			return
		}
		if err := h.writeOut(m); err != nil {
			return
		}
	}
}

func (h *udpIO) writeOut(m outMsg) error {
	if m.dest != nil {
		_, err := h.uconn.WriteTo(m.data, m.dest)
		return err
	}
	_, err := h.uconn.Write(m.data)

	return err
}
