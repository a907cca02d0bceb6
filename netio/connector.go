package netio

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cliffg-softwarelibre/chops"
)

// DefaultDialTimeout bounds the default dialer's connection attempts.
const DefaultDialTimeout = 5 * time.Second

// ConnectorConfig holds the optional settings for a Connector.
type ConnectorConfig struct {
	// Dial establishes the connection; overrides DialTimeout when set. The
	// default dials TCP with DialTimeout.
	Dial func(address string) (net.Conn, error)

	DialTimeout       time.Duration // timeout for the default dialer.
	ReconnectInterval time.Duration // delay between attempts; zero means a single connection, no retries.
	KeepAlivePeriod   time.Duration // TCP keepalive period; negative disables keepalive.
	ShutdownTimeout   time.Duration // grace period for Stop to wait on teardown.
	Logger            chops.Logger  // optional logger for entity events.
}

func (c *ConnectorConfig) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}

	if c.KeepAlivePeriod == 0 {
		c.KeepAlivePeriod = DefaultKeepAlivePeriod
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Logger == nil {
		c.Logger = &chops.NoopLogger{}
	}

	if c.Dial == nil {
		timeout := c.DialTimeout
		c.Dial = func(address string) (net.Conn, error) {
			return net.DialTimeout("tcp", address, timeout)
		}
	}
}

// Connector maintains one outbound TCP connection. A failed attempt is
// reported to the Observer as an entity-level IOShutdown with a zero
// Handle; no state-change notifications are issued for a connection that
// never existed. With a positive ReconnectInterval the connector keeps
// redialing after failures and disconnects until stopped; otherwise it
// stops itself once the attempt or the connection ends.
type Connector struct {
	address string           // remote address to connect to.
	obs     Observer         // lifecycle notification sink.
	config  *ConnectorConfig // connector configuration options.

	mu       sync.Mutex // guards the fields below and every started transition.
	eg       *errgroup.Group
	stopChan chan struct{}
	started  atomic.Bool // flips under mu; read lock-free by IsStarted.
}

// NewConnector creates a connector for the given remote address. The
// observer is required; config may be nil for defaults. The connector does
// not dial until Start.
func NewConnector(address string, obs Observer, config *ConnectorConfig) (*Connector, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	if config == nil {
		config = &ConnectorConfig{}
	}
	config.applyDefaults()

	return &Connector{
		address: address,
		obs:     obs,
		config:  config,
	}, nil
}

// Start launches the connect loop. The first dial happens on that loop, so
// Start returns before the connection exists; watch the Observer for the
// outcome. It reports ErrAlreadyStarted on a running connector.
func (c *Connector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started.Load() {
		return ErrAlreadyStarted
	}

	stopChan := make(chan struct{})
	eg := &errgroup.Group{}
	eg.Go(func() error {
		return c.runLoop(stopChan)
	})

	// Publish before flipping started so a concurrent Stop that sees the
	// flag set always reads this cycle's fields.
	c.stopChan = stopChan
	c.eg = eg
	c.started.Store(true)

	return nil
}

// Stop tears down the current connection, if any, with ErrEntityStopped and
// halts reconnection, waiting up to ShutdownTimeout. It reports
// ErrNotStarted on a connector that is not running, including one that
// already stopped itself.
func (c *Connector) Stop() error {
	c.mu.Lock()
	if !c.started.Load() {
		c.mu.Unlock()

		return ErrNotStarted
	}
	c.started.Store(false)
	stopChan, eg := c.stopChan, c.eg
	c.mu.Unlock()

	close(stopChan)

	done := make(chan struct{})
	go func() {
		_ = eg.Wait()

		close(done)
	}()

	if c.config.ShutdownTimeout > 0 {
		select {
		case <-done:
		case <-time.After(c.config.ShutdownTimeout):
			c.config.Logger.Warnf("connector %s: timeout waiting for connection to close", c.address)
		}
	} else {
		<-done
	}

	c.config.Logger.Infof("connector %s: stopped", c.address)

	return nil
}

// IsStarted reports whether the connector is running.
func (c *Connector) IsStarted() bool {
	return c.started.Load()
}

// runLoop owns the connector's single connection slot and issues all
// observer notifications for it.
func (c *Connector) runLoop(stopChan chan struct{}) error {
	termCh := make(chan termEvent, 1)

	for {
		select {
		case <-stopChan:
			return nil
		default:
		}

		conn, err := c.config.Dial(c.address)
		if err != nil {
			c.config.Logger.Warnf("connector %s: dial error: %v", c.address, err)
			c.obs.IOShutdown(Handle{}, err, 0)

			if c.config.ReconnectInterval <= 0 {
				c.mu.Lock()
				c.started.Store(false)
				c.mu.Unlock()

				return err
			}

			select {
			case <-time.After(c.config.ReconnectInterval):
				continue
			case <-stopChan:
				return nil
			}
		}

		select {
		case <-stopChan:
			// Stopped while the dial was in flight.
			_ = conn.Close()

			return nil
		default:
		}

		if tc, ok := conn.(*net.TCPConn); ok && c.config.KeepAlivePeriod > 0 {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(c.config.KeepAlivePeriod)
		}

		var h *tcpIO
		h = newTCPIO(conn, func(err error) {
			ev := termEvent{h: h, err: err}
			go func() { termCh <- ev }()
		})

		c.config.Logger.Infof("connector %s: connected from %v", c.address, conn.LocalAddr())
		c.obs.IOStateChange(Handle{h: h}, 1, true)

		var ev termEvent
		select {
		case ev = <-termCh:
		case <-stopChan:
			h.terminate(ErrEntityStopped)
			ev = <-termCh
		}

		hd := Handle{h: h}
		c.obs.IOShutdown(hd, ev.err, 0)
		c.obs.IOStateChange(hd, 0, false)
		h.setDetached()
		c.config.Logger.Infof("connector %s: connection closed: %v", c.address, ev.err)

		select {
		case <-stopChan:
			return nil
		default:
		}

		if c.config.ReconnectInterval <= 0 {
			c.mu.Lock()
			c.started.Store(false)
			c.mu.Unlock()

			return nil
		}

		select {
		case <-time.After(c.config.ReconnectInterval):
		case <-stopChan:
			return nil
		}
	}
}
