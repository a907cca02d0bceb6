package netio

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cliffg-softwarelibre/chops"
)

const (
	DefaultShutdownTimeout = 5 * time.Second  // grace period Stop waits for teardown.
	DefaultKeepAlivePeriod = 30 * time.Second // TCP keepalive probe period.
)

// AcceptorConfig holds the optional settings for an Acceptor.
type AcceptorConfig struct {
	Listener        net.Listener  // pre-built listener; overrides the address when set.
	KeepAlivePeriod time.Duration // TCP keepalive period; negative disables keepalive.
	ShutdownTimeout time.Duration // grace period for Stop to wait on teardown.
	Logger          chops.Logger  // optional logger for entity events.
}

func (c *AcceptorConfig) applyDefaults() {
	if c.KeepAlivePeriod == 0 {
		c.KeepAlivePeriod = DefaultKeepAlivePeriod
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Logger == nil {
		c.Logger = &chops.NoopLogger{}
	}
}

// termEvent reports a handler's demise to its owning entity's run loop.
// Handlers post it from a spawned goroutine so that a termination triggered
// on the run loop itself (an observer stopping a connection it was just
// given, an entity-wide shutdown) cannot deadlock against it.
type termEvent struct {
	h   ioHandler
	err error
}

// Acceptor listens for TCP connections and owns every connection it
// accepts. Each new connection is reported to the Observer as a Handle with
// started=true; the observer typically calls StartIO on it. When a
// connection dies, by error, message-handler halt, StopIO, or entity stop,
// the acceptor reports the shutdown and invalidates outstanding handles.
//
// A single run loop goroutine owns the connection registry, so observer
// callbacks are never concurrent with each other.
type Acceptor struct {
	address string          // network address to listen on.
	obs     Observer        // lifecycle notification sink.
	config  *AcceptorConfig // acceptor configuration options.

	mu       sync.Mutex // guards the fields below and every started transition.
	listener net.Listener
	eg       *errgroup.Group
	stopChan chan struct{}
	stopOnce *sync.Once
	started  atomic.Bool // flips under mu; read lock-free by IsStarted.
}

// NewAcceptor creates an acceptor for the given listen address. The
// observer is required; config may be nil for defaults. The acceptor does
// not listen until Start.
func NewAcceptor(address string, obs Observer, config *AcceptorConfig) (*Acceptor, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	if config == nil {
		config = &AcceptorConfig{}
	}
	config.applyDefaults()

	return &Acceptor{
		address: address,
		obs:     obs,
		config:  config,
	}, nil
}

// Start binds the listener and launches the accept and run loops. It
// reports ErrAlreadyStarted on a running acceptor.
func (a *Acceptor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started.Load() {
		return ErrAlreadyStarted
	}

	ln := a.config.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.address)
		if err != nil {
			return err
		}
	}

	stopChan := make(chan struct{})
	stopOnce := &sync.Once{}
	connCh := make(chan net.Conn)
	termCh := make(chan termEvent)
	accErrCh := make(chan error, 1)

	eg := &errgroup.Group{}
	eg.Go(func() error {
		return a.acceptLoop(ln, stopChan, connCh, accErrCh)
	})
	eg.Go(func() error {
		return a.runLoop(ln, stopChan, stopOnce, connCh, termCh, accErrCh)
	})

	// Publish before flipping started so a concurrent Stop that sees the
	// flag set always reads this cycle's fields.
	a.listener = ln
	a.eg = eg
	a.stopChan = stopChan
	a.stopOnce = stopOnce
	a.started.Store(true)

	a.config.Logger.Infof("acceptor %v: listening", ln.Addr())

	return nil
}

// Stop closes the listener and tears down every owned connection with
// ErrEntityStopped, waiting up to ShutdownTimeout for teardown to finish.
// It reports ErrNotStarted on an acceptor that is not running.
func (a *Acceptor) Stop() error {
	a.mu.Lock()
	if !a.started.Load() {
		a.mu.Unlock()

		return ErrNotStarted
	}
	a.started.Store(false)
	ln, eg, stopChan, stopOnce := a.listener, a.eg, a.stopChan, a.stopOnce
	a.mu.Unlock()

	stopOnce.Do(func() {
		close(stopChan)
		_ = ln.Close()
	})

	done := make(chan struct{})
	go func() {
		_ = eg.Wait()

		close(done)
	}()

	if a.config.ShutdownTimeout > 0 {
		select {
		case <-done:
		case <-time.After(a.config.ShutdownTimeout):
			a.config.Logger.Warnf("acceptor %s: timeout waiting for connections to close", a.address)
		}
	} else {
		<-done
	}

	a.config.Logger.Infof("acceptor %s: stopped", a.address)

	return nil
}

// IsStarted reports whether the acceptor is running.
func (a *Acceptor) IsStarted() bool {
	return a.started.Load()
}

// Addr returns the bound listen address, or nil before the first Start.
// With a ":0" listen address the bound port is only known here.
func (a *Acceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener == nil {
		return nil
	}

	return a.listener.Addr()
}

func (a *Acceptor) acceptLoop(
	ln net.Listener,
	stopChan chan struct{},
	connCh chan net.Conn,
	accErrCh chan error,
) error {
	for {
		select {
		case <-stopChan:
			return nil
		default:
		}

		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				time.Sleep(100 * time.Millisecond)

				continue
			}
			a.config.Logger.Errorf("acceptor %s: accept error: %v", a.address, err)
			accErrCh <- err

			return err
		}

		select {
		case connCh <- conn:
		case <-stopChan:
			_ = conn.Close()

			return nil
		}
	}
}

// runLoop is the single goroutine that owns the connection registry and
// issues all observer notifications for this acceptor.
func (a *Acceptor) runLoop(
	ln net.Listener,
	stopChan chan struct{},
	stopOnce *sync.Once,
	connCh chan net.Conn,
	termCh chan termEvent,
	accErrCh chan error,
) error {
	owned := make(map[ioHandler]struct{})

	for {
		select {
		case conn := <-connCh:
			a.adopt(conn, owned, termCh)
		case ev := <-termCh:
			a.discard(ev, owned)
		case err := <-accErrCh:
			// The listener is dead; report the entity-level failure, tear
			// down what we own, and stop ourselves.
			a.obs.IOShutdown(Handle{}, err, len(owned))
			a.drainOwned(owned, termCh)
			a.mu.Lock()
			a.started.Store(false)
			a.mu.Unlock()
			stopOnce.Do(func() {
				close(stopChan)
				_ = ln.Close()
			})

			return err
		case <-stopChan:
			a.drainOwned(owned, termCh)

			return nil
		}
	}
}

func (a *Acceptor) adopt(conn net.Conn, owned map[ioHandler]struct{}, termCh chan termEvent) {
	if tc, ok := conn.(*net.TCPConn); ok && a.config.KeepAlivePeriod > 0 {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(a.config.KeepAlivePeriod)
	}

	var h *tcpIO
	h = newTCPIO(conn, func(err error) {
		ev := termEvent{h: h, err: err}
		go func() { termCh <- ev }()
	})

	owned[h] = struct{}{}
	a.config.Logger.Infof("acceptor %s: connection from %v (%d active)",
		a.address, conn.RemoteAddr(), len(owned))

	a.obs.IOStateChange(Handle{h: h}, len(owned), true)
}

// discard removes a dead handler from the registry and issues the shutdown
// and state-change notifications. The handle stays valid through both
// callbacks so the observer can still inspect it, then detaches.
func (a *Acceptor) discard(ev termEvent, owned map[ioHandler]struct{}) {
	if _, ok := owned[ev.h]; !ok {
		return
	}
	delete(owned, ev.h)

	hd := Handle{h: ev.h}
	a.obs.IOShutdown(hd, ev.err, len(owned))
	a.obs.IOStateChange(hd, len(owned), false)
	ev.h.setDetached()

	a.config.Logger.Infof("acceptor %s: connection closed: %v (%d active)",
		a.address, ev.err, len(owned))
}

// drainOwned terminates every owned handler with ErrEntityStopped, then
// consumes exactly one termination event per handler. Handlers already
// dying keep their original cause; they still post exactly one event each.
func (a *Acceptor) drainOwned(owned map[ioHandler]struct{}, termCh chan termEvent) {
	for h := range owned {
		h.terminate(ErrEntityStopped)
	}

	for len(owned) > 0 {
		a.discard(<-termCh, owned)
	}
}
