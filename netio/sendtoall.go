package netio

import "sync"

// SendToAll fans one buffer out to a dynamic collection of handles. It is an
// index for broadcast only: it never owns the connections behind the handles
// and never drives their lifecycle. A handle whose connection has gone away
// fails its own Send quietly and stays in the collection until removed;
// removal is driven by the entity's lifecycle notifications, typically by
// wiring IOStateChange in as the state-change half of an Observer.
//
// All methods are safe for concurrent use.
type SendToAll struct {
	mu  sync.Mutex
	ios []Handle
}

// Add appends a handle to the collection.
func (s *SendToAll) Add(io Handle) {
	s.mu.Lock()
	s.ios = append(s.ios, io)
	s.mu.Unlock()
}

// Remove erases every handle equal to io, by connection identity. Since all
// invalid handles compare equal, removing one invalid handle removes them
// all.
func (s *SendToAll) Remove(io Handle) {
	s.mu.Lock()
	kept := s.ios[:0]
	for _, h := range s.ios {
		if !h.Equal(io) {
			kept = append(kept, h)
		}
	}
	for i := len(kept); i < len(s.ios); i++ {
		s.ios[i] = Handle{}
	}
	s.ios = kept
	s.mu.Unlock()
}

// Send queues p on every member. The buffer is shared across members, so the
// caller must not modify it afterwards. Members that cannot send, because
// the connection is gone or was never started, are skipped quietly.
func (s *SendToAll) Send(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.ios {
		h.Send(p)
	}
}

// Len reports the number of handles in the collection, valid or not.
func (s *SendToAll) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.ios)
}

// TotalQueueStats sums the outbound queue stats of every valid member
// field-wise. Invalid members contribute nothing.
func (s *SendToAll) TotalQueueStats() QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tot QueueStats
	for _, h := range s.ios {
		qs, err := h.QueueStats()
		if err != nil {
			continue
		}
		tot = tot.Add(qs)
	}

	return tot
}

// IOStateChange adds io on started and removes it on stopped, so a SendToAll
// can serve as the state-change half of an application's Observer:
//
//	all := &netio.SendToAll{}
//	obs := netio.ObserverFuncs{
//	    StateChange: func(io netio.Handle, count int, started bool) {
//	        if started {
//	            io.StartIO(cfg)
//	        }
//	        all.IOStateChange(io, count, started)
//	    },
//	}
func (s *SendToAll) IOStateChange(io Handle, _ int, started bool) {
	if started {
		s.Add(io)
		return
	}
	s.Remove(io)
}
