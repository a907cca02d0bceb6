package netio

import (
	"net"
	"sync"

	"github.com/eapache/queue"
)

// outMsg is one pending outbound write.
type outMsg struct {
	data []byte
	dest net.Addr // non-nil only for unconnected datagram sends.
}

// outQueue is the unbounded FIFO of pending writes for one handler. Pushes
// never block and never fail for capacity; FIFO pop order is the delivery
// order guarantee for a single handler.
type outQueue struct {
	mu    sync.Mutex
	q     *queue.Queue
	bytes uint64
}

func newOutQueue() *outQueue {
	return &outQueue{q: queue.New()}
}

func (o *outQueue) push(m outMsg) {
	o.mu.Lock()
	o.q.Add(m)
	o.bytes += uint64(len(m.data))
	o.mu.Unlock()
}

func (o *outQueue) pop() (outMsg, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.q.Length() == 0 {
		return outMsg{}, false
	}

	m, ok := o.q.Remove().(outMsg)
	if !ok {
		return outMsg{}, false
	}
	o.bytes -= uint64(len(m.data))

	return m, true
}

// stats returns a snapshot of the queue depth and byte volume.
func (o *outQueue) stats() QueueStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	return QueueStats{
		Count: uint64(o.q.Length()),
		Bytes: o.bytes,
	}
}

// drain discards all pending entries.
func (o *outQueue) drain() {
	o.mu.Lock()
	for o.q.Length() > 0 {
		o.q.Remove()
	}
	o.bytes = 0
	o.mu.Unlock()
}
