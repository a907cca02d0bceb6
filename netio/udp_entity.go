package netio

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cliffg-softwarelibre/chops"
)

// UDPConfig holds the optional settings for a UDPEntity.
type UDPConfig struct {
	// Conn is a pre-built socket; it overrides both addresses when set.
	Conn *net.UDPConn

	// Dest is the remote address. When set, the socket is connected to it:
	// sends need no destination and reads are filtered to the peer by the
	// OS. When empty, the socket is bound only and each send needs a
	// destination, either per SendTo call or DefaultDest.
	Dest string

	// DefaultDest is the destination for plain Send calls on an unconnected
	// socket. Ignored when Dest is set.
	DefaultDest string

	ShutdownTimeout time.Duration // grace period for Stop to wait on teardown.
	Logger          chops.Logger  // optional logger for entity events.
}

func (c *UDPConfig) applyDefaults() {
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Logger == nil {
		c.Logger = &chops.NoopLogger{}
	}
}

// UDPEntity owns one datagram socket wrapped in a single handler. Each
// datagram is one message; no framing is involved. Lifecycle notifications
// follow the connector's shape: IOStateChange with started=true once the
// socket is open, one IOShutdown with the terminal cause, IOStateChange with
// started=false. The entity stops itself when its handler dies.
type UDPEntity struct {
	address string     // local address to bind to.
	obs     Observer   // lifecycle notification sink.
	config  *UDPConfig // entity configuration options.

	mu       sync.Mutex // guards the fields below and every started transition.
	conn     *net.UDPConn
	eg       *errgroup.Group
	stopChan chan struct{}
	started  atomic.Bool // flips under mu; read lock-free by IsStarted.
}

// NewUDPEntity creates a UDP entity bound to the given local address. The
// observer is required; config may be nil for defaults. No socket is opened
// until Start.
func NewUDPEntity(address string, obs Observer, config *UDPConfig) (*UDPEntity, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	if config == nil {
		config = &UDPConfig{}
	}
	config.applyDefaults()

	return &UDPEntity{
		address: address,
		obs:     obs,
		config:  config,
	}, nil
}

// Start opens the socket and launches the run loop. Socket setup happens
// synchronously, so address resolution and bind failures are returned here
// rather than through the observer. It reports ErrAlreadyStarted on a
// running entity.
func (u *UDPEntity) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.started.Load() {
		return ErrAlreadyStarted
	}

	conn, defDest, err := u.openSocket()
	if err != nil {
		return err
	}

	stopChan := make(chan struct{})
	eg := &errgroup.Group{}
	eg.Go(func() error {
		return u.runLoop(conn, defDest, stopChan)
	})

	// Publish before flipping started so a concurrent Stop that sees the
	// flag set always reads this cycle's fields.
	u.conn = conn
	u.eg = eg
	u.stopChan = stopChan
	u.started.Store(true)

	u.config.Logger.Infof("udp %s: open on %v", u.address, conn.LocalAddr())

	return nil
}

func (u *UDPEntity) openSocket() (*net.UDPConn, *net.UDPAddr, error) {
	var defDest *net.UDPAddr
	if u.config.Dest == "" && u.config.DefaultDest != "" {
		addr, err := net.ResolveUDPAddr("udp", u.config.DefaultDest)
		if err != nil {
			return nil, nil, err
		}
		defDest = addr
	}

	if u.config.Conn != nil {
		return u.config.Conn, defDest, nil
	}

	var laddr *net.UDPAddr
	if u.address != "" {
		addr, err := net.ResolveUDPAddr("udp", u.address)
		if err != nil {
			return nil, nil, err
		}
		laddr = addr
	}

	if u.config.Dest != "" {
		raddr, err := net.ResolveUDPAddr("udp", u.config.Dest)
		if err != nil {
			return nil, nil, err
		}
		conn, err := net.DialUDP("udp", laddr, raddr)
		if err != nil {
			return nil, nil, err
		}

		return conn, nil, nil
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, nil, err
	}

	return conn, defDest, nil
}

// Stop tears the handler down with ErrEntityStopped, waiting up to
// ShutdownTimeout. It reports ErrNotStarted on an entity that is not
// running, including one that already stopped itself.
func (u *UDPEntity) Stop() error {
	u.mu.Lock()
	if !u.started.Load() {
		u.mu.Unlock()

		return ErrNotStarted
	}
	u.started.Store(false)
	stopChan, eg := u.stopChan, u.eg
	u.mu.Unlock()

	close(stopChan)

	done := make(chan struct{})
	go func() {
		_ = eg.Wait()

		close(done)
	}()

	if u.config.ShutdownTimeout > 0 {
		select {
		case <-done:
		case <-time.After(u.config.ShutdownTimeout):
			u.config.Logger.Warnf("udp %s: timeout waiting for socket to close", u.address)
		}
	} else {
		<-done
	}

	u.config.Logger.Infof("udp %s: stopped", u.address)

	return nil
}

// IsStarted reports whether the entity is running.
func (u *UDPEntity) IsStarted() bool {
	return u.started.Load()
}

// LocalAddr returns the bound local address, or nil before the first Start.
// With a ":0" bind address the chosen port is only known here.
func (u *UDPEntity) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn == nil {
		return nil
	}

	return u.conn.LocalAddr()
}

// runLoop owns the entity's single handler slot and issues all observer
// notifications for it.
func (u *UDPEntity) runLoop(conn *net.UDPConn, defDest *net.UDPAddr, stopChan chan struct{}) error {
	termCh := make(chan termEvent, 1)

	var h *udpIO
	h = newUDPIO(conn, defDest, func(err error) {
		ev := termEvent{h: h, err: err}
		go func() { termCh <- ev }()
	})

	u.obs.IOStateChange(Handle{h: h}, 1, true)

	var ev termEvent
	select {
	case ev = <-termCh:
	case <-stopChan:
		h.terminate(ErrEntityStopped)
		ev = <-termCh
	}

	hd := Handle{h: h}
	u.obs.IOShutdown(hd, ev.err, 0)
	u.obs.IOStateChange(hd, 0, false)
	h.setDetached()
	u.config.Logger.Infof("udp %s: closed: %v", u.address, ev.err)

	u.mu.Lock()
	u.started.Store(false)
	u.mu.Unlock()

	return nil
}
