package netio

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// tcpIO is the stream-transport handler. Reads are framed by the configured
// Framer; writes go through the outbound queue and a single writer
// goroutine, so send never blocks on the socket.
type tcpIO struct {
	ioBase
}

func newTCPIO(conn net.Conn, term func(err error)) *tcpIO {
	return &tcpIO{ioBase: newIOBase(conn, term)}
}

func (h *tcpIO) startIO(cfg IOConfig) bool {
	if cfg.Handler != nil && cfg.Framer == nil {
		return false
	}
	if !h.begin(cfg) {
		return false
	}

	go h.run(cfg)

	return true
}

// send enqueues an already framed buffer for transmission. A zero-length
// buffer is a no-op on a stream: there are no bytes to put on the wire.
func (h *tcpIO) send(p []byte, _ net.Addr) bool {
	if !h.sendable() {
		return false
	}
	if len(p) == 0 {
		return true
	}
	h.queue.push(outMsg{data: p})
	h.wake()

	return true
}

// run supervises the read and write goroutines and owns teardown ordering:
// wait for the writer to exit, settle the remaining queue (flush or drain),
// close the socket to unblock a reader parked in a read call, wait for the
// reader, then notify the owner with the recorded cause.
func (h *tcpIO) run(cfg IOConfig) {
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
		// The queue is being discarded; close now so a writer parked in a
		// socket write cannot stall teardown.
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

func (h *tcpIO) readLoop(cfg IOConfig) {
	rdr := bufio.NewReader(h.conn)
	for {
		payload, err := cfg.Framer.ReadMsg(rdr)
		if err != nil {
			h.terminate(err)
			return
		}
		if !cfg.Handler(payload, Handle{h: h}, h.conn.RemoteAddr()) {
			h.terminate(ErrMsgHandlerHalt)
			return
		}
	}
}

func (h *tcpIO) writeLoop() {
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
				if _, err := h.conn.Write(m.data); err != nil {
					h.terminate(err)
					return
				}
			}
		}
	}
}

// flush writes out whatever the writer left queued. Runs only after the
// writer goroutine has exited, so queue order is preserved; the write
// deadline set at teardown start still applies here.
func (h *tcpIO) flush() {
	for {
		m, ok := h.queue.pop()
		if !ok {
			return
		}
		if _, err := h.conn.Write(m.data); err != nil {
			return
		}
	}
}
