// Package netio_test provides tests for the netio package.
//
// The shared strategy is message senders and message receivers, with a flag
// selecting whether the receiver echoes messages back. Entity lifecycle
// callbacks are recorded for later assertions. When a message flow is
// finished, an empty-body message is sent to the receiver, which signals the
// end-of-flow condition and halts that connection.
package netio_test

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cliffg-softwarelibre/chops"
	"github.com/cliffg-softwarelibre/chops/netio"
)

// wireFormat bundles the encode and decode sides of one framing convention
// so the same scenario can run against every format the toolkit supports.
type wireFormat struct {
	name   string
	framer func() chops.Framer
	encode func(body []byte) []byte
}

func varLenFormat() wireFormat {
	return wireFormat{
		name:   "VarLen",
		framer: func() chops.Framer { return chops.NewVarLenFramer(2, nil) },
		encode: func(body []byte) []byte {
			msg, err := chops.EncodeVarLen(body)
			if err != nil {
				panic(err)
			}

			return msg
		},
	}
}

func delimFormat(name string, delim []byte) wireFormat {
	return wireFormat{
		name:   name,
		framer: func() chops.Framer { return chops.NewDelimFramer(delim) },
		encode: func(body []byte) []byte { return chops.AppendDelim(body, delim) },
	}
}

func crLfFormat() wireFormat { return delimFormat("CrLf", []byte{0x0D, 0x0A}) }

func lfFormat() wireFormat { return delimFormat("Lf", []byte{0x0A}) }

// makeBody builds one test body: a preamble followed by a repeated char.
func makeBody(pre string, ch byte, n int) []byte {
	body := make([]byte, 0, len(pre)+n)
	body = append(body, pre...)
	for i := 0; i < n; i++ {
		body = append(body, ch)
	}

	return body
}

// makeBodySet builds count bodies of increasing size.
func makeBodySet(pre string, ch byte, count int) [][]byte {
	set := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		set = append(set, makeBody(pre, ch, i+1))
	}

	return set
}

// echoCountHandler returns the message handler the scenarios share: count
// non-empty messages, echo each one back framed by wf when reply is set, and
// treat an empty message as the end-of-flow sentinel, echoing it too before
// halting so the peer can observe the handshake.
func echoCountHandler(wf wireFormat, reply bool, cnt *atomic.Int64) netio.MsgHandler {
	return func(payload []byte, io netio.Handle, _ net.Addr) bool {
		if len(payload) > 0 {
			cnt.Add(1)
			if reply {
				io.Send(wf.encode(payload))
			}

			return true
		}
		if reply {
			io.Send(wf.encode(nil))
		}

		return false
	}
}

// lifecycleRecorder accumulates entity notifications for assertions. Every
// method is safe to call while the entity is still delivering callbacks.
type lifecycleRecorder struct {
	mu             sync.Mutex
	started        int
	stopped        int
	lastStartCount int
	lastShutCount  int
	causes         []error
	entityErrs     []error // shutdowns reported with a zero handle.
}

func (r *lifecycleRecorder) onStateChange(_ netio.Handle, count int, started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if started {
		r.started++
		r.lastStartCount = count

		return
	}
	r.stopped++
}

func (r *lifecycleRecorder) onShutdown(io netio.Handle, err error, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !io.IsValid() {
		r.entityErrs = append(r.entityErrs, err)

		return
	}
	r.causes = append(r.causes, err)
	r.lastShutCount = count
}

func (r *lifecycleRecorder) starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.started
}

func (r *lifecycleRecorder) stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stopped
}

func (r *lifecycleRecorder) shutdowns() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]error, len(r.causes))
	copy(out, r.causes)

	return out
}

func (r *lifecycleRecorder) entityFailures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]error, len(r.entityErrs))
	copy(out, r.entityErrs)

	return out
}

func (r *lifecycleRecorder) counts() (lastStart, lastShut int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastStartCount, r.lastShutCount
}

// recordingObserver wires a recorder into an Observer. When cfg is non-nil
// its result is installed on every connection as it comes up.
func recordingObserver(rec *lifecycleRecorder, cfg func() netio.IOConfig) netio.ObserverFuncs {
	return netio.ObserverFuncs{
		StateChange: func(io netio.Handle, count int, started bool) {
			if started && cfg != nil {
				io.StartIO(cfg())
			}
			rec.onStateChange(io, count, started)
		},
		Shutdown: rec.onShutdown,
	}
}

// startEchoAcceptor brings up an acceptor on a loopback ephemeral port that
// echoes every message framed by wf and halts each connection on the empty
// end-of-flow message. The returned counter tracks received messages across
// all connections.
func startEchoAcceptor(t *testing.T, wf wireFormat) (*netio.Acceptor, *atomic.Int64) {
	t.Helper()

	var cnt atomic.Int64
	rec := &lifecycleRecorder{}
	obs := recordingObserver(rec, func() netio.IOConfig {
		return netio.IOConfig{
			Framer:  wf.framer(),
			Handler: echoCountHandler(wf, true, &cnt),
		}
	})

	acc, err := netio.NewAcceptor("127.0.0.1:0", obs, nil)
	require.NoError(t, err)
	require.NoError(t, acc.Start())
	t.Cleanup(func() { _ = acc.Stop() })

	return acc, &cnt
}

// runSenderConn dials addr and drives one blocking client connection via
// driveSenderConn.
func runSenderConn(addr string, wf wireFormat, bodies [][]byte, twoWay bool) error {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return err
	}

	return driveSenderConn(conn, wf, bodies, twoWay)
}

// driveSenderConn drives one blocking client connection: send every body
// framed by wf, verify the echo after each send when twoWay is set, then
// send the empty end-of-flow message and wait for the server to close the
// connection. It is the peer-side counterpart to the entity under test and
// uses only raw conns plus the chops framing helpers. The conn is closed on
// return.
func driveSenderConn(conn net.Conn, wf wireFormat, bodies [][]byte, twoWay bool) error {
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}

	rdr := bufio.NewReader(conn)
	framer := wf.framer()
	for _, body := range bodies {
		if _, err := conn.Write(wf.encode(body)); err != nil {
			return err
		}
		if !twoWay {
			continue
		}
		echo, err := framer.ReadMsg(rdr)
		if err != nil {
			return fmt.Errorf("echo read: %w", err)
		}
		if !bytes.Equal(echo, body) {
			return fmt.Errorf("echo mismatch: got %q, want %q", echo, body)
		}
	}

	if _, err := conn.Write(wf.encode(nil)); err != nil {
		return err
	}
	if twoWay {
		echo, err := framer.ReadMsg(rdr)
		if err != nil {
			return fmt.Errorf("final echo read: %w", err)
		}
		if len(echo) != 0 {
			return fmt.Errorf("final echo not empty: %q", echo)
		}
	}

	// The receiver tears the connection down after the empty message.
	if _, err := framer.ReadMsg(rdr); !errors.Is(err, io.EOF) {
		return fmt.Errorf("expected EOF after end of flow, got %v", err)
	}

	return nil
}

// callRecovered invokes a lifecycle call on its own goroutine and converts
// a panic into an error, so a crash in a racing Start or Stop surfaces as a
// test failure instead of killing the run.
func callRecovered(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fmt.Errorf("panic: %v", r)
			}
		}()
		ch <- fn()
	}()

	return ch
}

// waitErr collects the outcome of a callRecovered call, failing the test if
// the call never returns.
func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()

	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle call did not return")
	}

	return nil
}
