// Package main provides an example of using the chops toolkit.
package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/cliffg-softwarelibre/chops"
	"github.com/cliffg-softwarelibre/chops/netio"
)

// loggerWrapper adapts the standard log.Logger to satisfy the chops.Logger
// interface.
type loggerWrapper struct {
	*log.Logger
}

func (lw *loggerWrapper) Printf(format string, v ...any) {
	lw.Logger.Printf(format, v...)
}

func (lw *loggerWrapper) Print(v ...any) {
	lw.Logger.Print(v...)
}

func (lw *loggerWrapper) Infof(format string, v ...any) {
	lw.Printf(format, v...)
}

func (lw *loggerWrapper) Warnf(format string, v ...any) {
	lw.Printf("[WARN] "+format, v...)
}

func (lw *loggerWrapper) Errorf(format string, v ...any) {
	lw.Printf("[ERROR] "+format, v...)
}

// startServer brings up an acceptor that reverses every message and sends it
// back. An empty message ends the connection.
func startServer(addr string, logger chops.Logger) (*netio.Acceptor, error) {
	obs := netio.ObserverFuncs{
		StateChange: func(io netio.Handle, _ int, started bool) {
			if !started {
				return
			}
			io.StartIO(netio.IOConfig{
				Framer: chops.NewVarLenFramer(2, nil),
				Handler: func(req []byte, io netio.Handle, _ net.Addr) bool {
					if len(req) == 0 {
						return false
					}

					// reverse request data.
					out := make([]byte, len(req))
					for i := range req {
						out[len(req)-1-i] = req[i]
					}

					msg, err := chops.EncodeVarLen(out)
					if err != nil {
						return false
					}
					io.Send(msg)

					return true
				},
			})
		},
	}

	srv, err := netio.NewAcceptor(addr, obs, &netio.AcceptorConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("server setup failed: %w", err)
	}
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return srv, nil
}

// runClient connects to the server, sends every request, logs the reversed
// responses, and ends the flow with an empty message. It returns once the
// server has closed the connection.
func runClient(addr string, requests []string, logger chops.Logger) error {
	hdCh := make(chan netio.Handle, 1)
	done := make(chan error, 1)

	pending := len(requests)
	obs := netio.ObserverFuncs{
		StateChange: func(io netio.Handle, _ int, started bool) {
			if !started {
				return
			}
			io.StartIO(netio.IOConfig{
				Framer: chops.NewVarLenFramer(2, nil),
				Handler: func(resp []byte, io netio.Handle, _ net.Addr) bool {
					logger.Infof("client received: %s", resp)
					pending--
					if pending == 0 {
						// All responses are in; an empty message tells the
						// server we are finished.
						msg, _ := chops.EncodeVarLen(nil)
						io.Send(msg)
					}

					return true
				},
			})
			hdCh <- io
		},
		Shutdown: func(_ netio.Handle, err error, _ int) {
			done <- err
		},
	}

	cl, err := netio.NewConnector(addr, obs, nil)
	if err != nil {
		return fmt.Errorf("client setup failed: %w", err)
	}
	if err := cl.Start(); err != nil {
		return fmt.Errorf("client failed to start: %w", err)
	}

	var hd netio.Handle
	select {
	case hd = <-hdCh:
	case err := <-done:
		return fmt.Errorf("connect to %s failed: %w", addr, err)
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out connecting to %s", addr)
	}

	for _, req := range requests {
		logger.Infof("client sending: %s", req)
		msg, err := chops.EncodeVarLen([]byte(req))
		if err != nil {
			return err
		}
		if !hd.Send(msg) {
			return fmt.Errorf("send %q failed", req)
		}
	}

	select {
	case err := <-done:
		logger.Infof("client connection closed: %v", err)
	case <-time.After(5 * time.Second):
		return errors.New("timed out waiting for the flow to finish")
	}

	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger := &loggerWrapper{
		Logger: log.New(os.Stdout, "EXAMPLE: ", log.LstdFlags|log.Lmicroseconds),
	}

	addr := "localhost:3000"

	srv, err := startServer(addr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			logger.Errorf("error stopping server: %v", err)
		}
	}()

	requests := []string{"hello", "world", "chops test", "concurrent", "request"}
	if err := runClient(addr, requests, logger); err != nil {
		logger.Errorf("client failed: %v", err)
		os.Exit(1)
	}
}
