package netio

// Observer receives connection lifecycle notifications from an Acceptor,
// Connector, or UDPEntity. Notifications for a single connection arrive in
// a fixed order: IOStateChange with started=true once the connection
// exists, exactly one IOShutdown carrying the terminal cause, then
// IOStateChange with started=false, after which every Handle to the
// connection is invalid.
//
// Callbacks run on entity goroutines. They must not block for long, and
// they must not call the owning entity's Stop; starting or stopping the
// observed handle is fine.
type Observer interface {
	// IOStateChange reports a connection coming up (started=true) or going
	// away (started=false). count is the number of connections the entity
	// tracks after this change. The started=true call is the place to
	// invoke io.StartIO.
	IOStateChange(io Handle, count int, started bool)

	// IOShutdown reports why a connection terminated; err is never nil. A
	// zero (invalid) io reports an entity-level failure instead, such as a
	// dead listener.
	IOShutdown(io Handle, err error, count int)
}

// ObserverFuncs adapts plain functions to the Observer interface. A nil
// field means that notification is ignored, so callers can subscribe to
// only what they need.
type ObserverFuncs struct {
	StateChange func(io Handle, count int, started bool)
	Shutdown    func(io Handle, err error, count int)
}

func (o ObserverFuncs) IOStateChange(io Handle, count int, started bool) {
	if o.StateChange != nil {
		o.StateChange(io, count, started)
	}
}

func (o ObserverFuncs) IOShutdown(io Handle, err error, count int) {
	if o.Shutdown != nil {
		o.Shutdown(io, err, count)
	}
}
