package netio

import "net"

// Handle is a weak reference to one live connection owned by an Acceptor,
// Connector, or UDPEntity. Handles are small copyable values: pass them
// around, store them, compare them. A handle is valid while the owning
// entity still tracks the connection; once the entity shuts the connection
// down and reports it, every handle referring to it becomes invalid.
//
// Observer methods on an invalid handle fail loudly with ErrUnattached.
// Mutating methods fail quietly, reporting false, since a send or stop
// racing a natural disconnect is routine rather than exceptional.
type Handle struct {
	h ioHandler
}

// IsValid reports whether the handle refers to a connection its owning
// entity still tracks. The zero Handle is invalid.
func (hd Handle) IsValid() bool {
	return hd.h != nil && hd.h.attached()
}

// Started reports whether message processing is active on the referent.
func (hd Handle) Started() (bool, error) {
	if !hd.IsValid() {
		return false, ErrUnattached
	}

	return hd.h.ioStarted(), nil
}

// Socket exposes the referent's network connection for option tweaking
// (deadlines, buffer sizes, TCP options). Closing it out from under the
// handler tears the connection down with the close error as the cause.
func (hd Handle) Socket() (net.Conn, error) {
	if !hd.IsValid() {
		return nil, ErrUnattached
	}

	return hd.h.socket(), nil
}

// QueueStats reports the referent's outbound queue depth and byte total.
func (hd Handle) QueueStats() (QueueStats, error) {
	if !hd.IsValid() {
		return QueueStats{}, ErrUnattached
	}

	return hd.h.queueStats(), nil
}

// StartIO installs the read and write configuration and begins message
// processing. It reports false if the handle is invalid, the referent is
// already started, or cfg names a message handler on a stream transport
// without a framer. The usual call site is an Observer's state-change
// notification for a freshly created connection.
func (hd Handle) StartIO(cfg IOConfig) bool {
	if !hd.IsValid() {
		return false
	}

	return hd.h.startIO(cfg)
}

// StopIO halts message processing and tears the connection down with
// ErrIOStopped. It reports false if the handle is invalid or the referent
// was not started.
func (hd Handle) StopIO() bool {
	if !hd.IsValid() {
		return false
	}

	return hd.h.stopIO()
}

// Send queues an already framed buffer for transmission. The buffer is
// handed off as-is: the caller must not modify it afterwards. Send reports
// false if the handle is invalid or the referent is not accepting sends.
func (hd Handle) Send(p []byte) bool {
	if !hd.IsValid() {
		return false
	}

	return hd.h.send(p, nil)
}

// SendTo is Send with an explicit destination, for bound datagram
// handlers. Stream and connected-datagram referents ignore dest.
func (hd Handle) SendTo(p []byte, dest net.Addr) bool {
	if !hd.IsValid() {
		return false
	}

	return hd.h.send(p, dest)
}

// Equal reports whether two handles refer to the same live connection. All
// invalid handles compare equal to each other, so a stored handle whose
// referent has gone away matches the zero Handle.
func (hd Handle) Equal(o Handle) bool {
	hv, ov := hd.IsValid(), o.IsValid()
	if !hv || !ov {
		return hv == ov
	}

	return hd.h.ident() == o.h.ident()
}

// Less orders handles for sorted containers: invalid handles sort before
// valid ones, and valid handles order by connection identity.
func (hd Handle) Less(o Handle) bool {
	hv, ov := hd.IsValid(), o.IsValid()
	if !hv {
		return ov
	}
	if !ov {
		return false
	}

	return hd.h.ident() < o.h.ident()
}
