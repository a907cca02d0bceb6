package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/cliffg-softwarelibre/chops"
	"github.com/cliffg-softwarelibre/chops/netio"
)

// loggerWrapper adapts a zerolog logger to the chops.Logger interface.
type loggerWrapper struct {
	l log.Logger
}

func (lw *loggerWrapper) Print(v ...any)                 { lw.l.Print(v...) }
func (lw *loggerWrapper) Printf(format string, v ...any) { lw.l.Printf(format, v...) }
func (lw *loggerWrapper) Infof(format string, v ...any)  { lw.l.Info().Msgf(format, v...) }
func (lw *loggerWrapper) Warnf(format string, v ...any)  { lw.l.Warn().Msgf(format, v...) }
func (lw *loggerWrapper) Errorf(format string, v ...any) { lw.l.Error().Msgf(format, v...) }

// chat is a line-based broadcast server: every line a client sends is fanned
// out to all connected clients, prefixed with the sender's address. An empty
// line disconnects the sender.
func main() {
	addr := flag.String("addr", ":3456", "listen address")
	maxConns := flag.Int("max-conns", 100, "concurrent connection cap")
	flag.Parse()

	logger := &loggerWrapper{
		l: log.New(os.Stdout).With().Timestamp().Logger(),
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Errorf("listen %s: %v", *addr, err)
		os.Exit(1)
	}
	// Cap admissions at the listener, before the acceptor ever sees the
	// connection.
	ln = netutil.LimitListener(ln, *maxConns)

	lf := []byte{'\n'}
	all := &netio.SendToAll{}

	obs := netio.ObserverFuncs{
		StateChange: func(io netio.Handle, count int, started bool) {
			if started {
				io.StartIO(netio.IOConfig{
					Framer: chops.NewDelimFramer(lf),
					Handler: func(line []byte, _ netio.Handle, from net.Addr) bool {
						if len(line) == 0 {
							return false
						}
						out := fmt.Sprintf("%v: %s", from, line)
						all.Send(chops.AppendDelim([]byte(out), lf))

						return true
					},
				})
			}
			all.IOStateChange(io, count, started)
			logger.Infof("%d clients connected", count)
		},
		Shutdown: func(io netio.Handle, err error, _ int) {
			if !io.IsValid() {
				logger.Errorf("listener failed: %v", err)

				return
			}
			logger.Infof("client left: %v", err)
		},
	}

	acc, err := netio.NewAcceptor(*addr, obs, &netio.AcceptorConfig{
		Listener: ln,
		Logger:   logger,
	})
	if err != nil {
		logger.Errorf("acceptor setup failed: %v", err)
		os.Exit(1)
	}
	if err := acc.Start(); err != nil {
		logger.Errorf("acceptor failed to start: %v", err)
		os.Exit(1)
	}

	logger.Infof("chat server on %v, up to %d clients", acc.Addr(), *maxConns)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Infof("shutting down")
	if err := acc.Stop(); err != nil {
		logger.Errorf("stop failed: %v", err)
		os.Exit(1)
	}
}
