package netio

import "errors"

var (
	// ErrUnattached indicates a Handle observer was called with no live
	// handler behind it. Querying a handle that is known to be invalid is a
	// caller bug; guard observers with IsValid.
	ErrUnattached = errors.New("handle is not attached to an io handler")

	// ErrIOStopped is the shutdown cause reported when io was stopped
	// locally through StopIO.
	ErrIOStopped = errors.New("io stopped locally")

	// ErrMsgHandlerHalt is the shutdown cause reported when the message
	// handler returned false to end the message flow.
	ErrMsgHandlerHalt = errors.New("message handler terminated io")

	// ErrEntityStopped is the shutdown cause reported for every handler torn
	// down because its owning acceptor, connector, or UDP entity stopped.
	ErrEntityStopped = errors.New("net entity stopped")

	// ErrAlreadyStarted indicates Start was called on an entity that is
	// already started.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted indicates Stop was called on an entity that is not
	// started.
	ErrNotStarted = errors.New("not started")

	// ErrNilObserver indicates Start was called without an observer.
	ErrNilObserver = errors.New("nil observer")
)
