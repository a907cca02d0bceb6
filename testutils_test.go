// Package chops_test provides tests for the chops package.
package chops_test

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/cliffg-softwarelibre/chops"
)

// waitGroupWithTimeout waits for a WaitGroup but gives up after timeout, so
// a wedged connection cannot hang the whole test run. It reports whether the
// WaitGroup completed in time.
func waitGroupWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// StartTestServer runs a TCP server that echoes back every message framed
// with the canonical 2-byte length header. It returns the server's address
// and a cleanup function that stops the server and waits briefly for active
// connections to drain.
func StartTestServer() (string, func() error, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}

	quit := make(chan struct{})
	var activeConns sync.WaitGroup

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					log.Printf("test server accept error: %v", err)
				}

				return
			}

			activeConns.Add(1)
			go func(conn net.Conn) {
				defer func() {
					_ = conn.Close()
					activeConns.Done()
				}()

				for {
					// Per-message deadlines keep a stalled peer from
					// pinning the connection goroutine.
					if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
						return
					}

					req, err := chops.Read(conn)
					if err != nil {
						if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
							log.Printf("test server read error: %v", err)
						}

						return
					}

					if err := conn.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
						return
					}
					if err := chops.Write(conn, req); err != nil {
						if !errors.Is(err, net.ErrClosed) {
							log.Printf("test server write error: %v", err)
						}

						return
					}

					select {
					case <-quit:
						return
					default:
					}
				}
			}(conn)
		}
	}()

	return l.Addr().String(), func() error {
		close(quit)
		err := l.Close()
		if !waitGroupWithTimeout(&activeConns, 5*time.Second) {
			log.Printf("timed out waiting for test server connections to close")
		}

		return err
	}, nil
}
