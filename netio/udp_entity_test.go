package netio_test

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cliffg-softwarelibre/chops/netio"
)

// udpEchoHandler counts non-empty datagrams and echoes each one to its
// source, halting on the empty end-of-flow datagram after echoing it.
// Datagram payloads are only valid during the callback, so the echo works on
// a copy.
func udpEchoHandler(cnt *atomic.Int64) netio.MsgHandler {
	return func(payload []byte, io netio.Handle, from net.Addr) bool {
		out := append([]byte(nil), payload...)
		io.SendTo(out, from)
		if len(payload) > 0 {
			cnt.Add(1)

			return true
		}

		return false
	}
}

// udpCountHandler counts non-empty datagrams and halts on an empty one.
func udpCountHandler(cnt *atomic.Int64) netio.MsgHandler {
	return func(payload []byte, _ netio.Handle, _ net.Addr) bool {
		if len(payload) > 0 {
			cnt.Add(1)

			return true
		}

		return false
	}
}

// startUDPEntity builds, starts, and hands back a UDP entity along with its
// recorder and the handle delivery channel.
func startUDPEntity(
	t *testing.T,
	address string,
	config *netio.UDPConfig,
	handler netio.MsgHandler,
) (*netio.UDPEntity, *lifecycleRecorder, netio.Handle) {
	t.Helper()

	rec := &lifecycleRecorder{}
	hdCh := make(chan netio.Handle, 1)
	obs := netio.ObserverFuncs{
		StateChange: func(io netio.Handle, count int, started bool) {
			if started {
				io.StartIO(netio.IOConfig{Handler: handler})
				select {
				case hdCh <- io:
				default:
				}
			}
			rec.onStateChange(io, count, started)
		},
		Shutdown: rec.onShutdown,
	}

	ent, err := netio.NewUDPEntity(address, obs, config)
	require.NoError(t, err)
	require.NoError(t, ent.Start())

	return ent, rec, waitHandle(t, hdCh)
}

func TestUDPEntityRoundTrip(t *testing.T) {
	t.Parallel()

	const numMsgs = 20

	// Receiver: bound socket, echoes every datagram to its source.
	var rxCnt atomic.Int64
	rx, rxRec, _ := startUDPEntity(t, "127.0.0.1:0", nil, udpEchoHandler(&rxCnt))
	require.NotNil(t, rx.LocalAddr())

	// Sender: connected to the receiver, counts the echoes coming back.
	var txCnt atomic.Int64
	tx, txRec, hd := startUDPEntity(t, "", &netio.UDPConfig{
		Dest: rx.LocalAddr().String(),
	}, udpCountHandler(&txCnt))

	for _, body := range makeBodySet("whoosh", 'U', numMsgs) {
		require.True(t, hd.Send(body), "a connected socket sends without a destination")
	}
	require.Eventually(t, func() bool {
		return rxCnt.Load() == numMsgs && txCnt.Load() == numMsgs
	}, 5*time.Second, 10*time.Millisecond)

	// The empty datagram ends the flow on both sides.
	require.True(t, hd.Send(nil), "a zero-length datagram is a real wire event")
	require.Eventually(t, func() bool {
		return rxRec.stops() == 1 && txRec.stops() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, rxRec.shutdowns()[0], netio.ErrMsgHandlerHalt)
	require.ErrorIs(t, txRec.shutdowns()[0], netio.ErrMsgHandlerHalt)
	require.False(t, hd.IsValid())

	// Both entities stop themselves once their handler dies.
	require.Eventually(t, func() bool {
		return !rx.IsStarted() && !tx.IsStarted()
	}, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, rx.Stop(), netio.ErrNotStarted)
	require.ErrorIs(t, tx.Stop(), netio.ErrNotStarted)
}

func TestUDPEntitySendNeedsDestination(t *testing.T) {
	t.Parallel()

	var cnt atomic.Int64
	ent, rec, hd := startUDPEntity(t, "127.0.0.1:0", nil, udpCountHandler(&cnt))

	require.False(t, hd.Send([]byte("nowhere")),
		"a bound socket without a default destination cannot plain-send")

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = peer.Close() }()

	require.True(t, hd.SendTo([]byte("hi there"), peer.LocalAddr()))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, "hi there", string(buf[:n]))

	require.NoError(t, ent.Stop())
	require.Equal(t, 1, rec.stops())
	require.ErrorIs(t, rec.shutdowns()[0], netio.ErrEntityStopped)
	require.False(t, hd.IsValid())
}

func TestUDPEntityDefaultDestination(t *testing.T) {
	t.Parallel()

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = peer.Close() }()

	var cnt atomic.Int64
	ent, _, hd := startUDPEntity(t, "127.0.0.1:0", &netio.UDPConfig{
		DefaultDest: peer.LocalAddr().String(),
	}, udpCountHandler(&cnt))
	defer func() { _ = ent.Stop() }()

	require.True(t, hd.Send([]byte("routed")), "plain sends fall back to the default destination")

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, "routed", string(buf[:n]))
}

func TestUDPEntityZeroLengthDatagram(t *testing.T) {
	t.Parallel()

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = peer.Close() }()

	var cnt atomic.Int64
	ent, _, hd := startUDPEntity(t, "", &netio.UDPConfig{
		Dest: peer.LocalAddr().String(),
	}, udpCountHandler(&cnt))
	defer func() { _ = ent.Stop() }()

	require.True(t, hd.Send(nil))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Zero(t, n, "the peer sees a datagram with no payload")
}

func TestUDPEntityAdoptedConn(t *testing.T) {
	t.Parallel()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	var cnt atomic.Int64
	ent, rec, _ := startUDPEntity(t, "", &netio.UDPConfig{Conn: conn}, udpCountHandler(&cnt))
	require.Equal(t, conn.LocalAddr().String(), ent.LocalAddr().String())

	require.NoError(t, ent.Stop())
	require.Equal(t, 1, rec.stops())

	// Stop closed the adopted socket.
	_, err = conn.WriteToUDP([]byte("x"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9})
	require.Error(t, err)
}

func TestUDPEntityLifecycle(t *testing.T) {
	t.Parallel()

	_, err := netio.NewUDPEntity("127.0.0.1:0", nil, nil)
	require.ErrorIs(t, err, netio.ErrNilObserver)

	rec := &lifecycleRecorder{}
	obs := recordingObserver(rec, nil)

	bad, err := netio.NewUDPEntity("127.0.0.1:notaport", obs, nil)
	require.NoError(t, err)
	require.Error(t, bad.Start(), "address resolution failures surface from Start")
	require.False(t, bad.IsStarted())

	ent, err := netio.NewUDPEntity("127.0.0.1:0", obs, nil)
	require.NoError(t, err)
	require.Nil(t, ent.LocalAddr())
	require.ErrorIs(t, ent.Stop(), netio.ErrNotStarted)

	require.NoError(t, ent.Start())
	require.True(t, ent.IsStarted())
	require.NotNil(t, ent.LocalAddr())
	require.ErrorIs(t, ent.Start(), netio.ErrAlreadyStarted)

	require.NoError(t, ent.Stop())
	require.False(t, ent.IsStarted())
	require.ErrorIs(t, ent.Stop(), netio.ErrNotStarted)

	// The same entity restarts cleanly on a fresh socket.
	require.NoError(t, ent.Start())
	require.True(t, ent.IsStarted())
	require.NoError(t, ent.Stop())
}

// TestUDPEntityStartStopRace drives Start and Stop concurrently against
// fresh entities. Neither call may crash, and the entity must settle into a
// state a plain Stop sequence can clean up.
func TestUDPEntityStartStopRace(t *testing.T) {
	t.Parallel()

	rec := &lifecycleRecorder{}
	obs := recordingObserver(rec, nil)

	for i := 0; i < 300; i++ {
		ent, err := netio.NewUDPEntity("127.0.0.1:0", obs, nil)
		require.NoError(t, err)

		startCh := callRecovered(ent.Start)
		stopCh := callRecovered(ent.Stop)

		require.NoError(t, waitErr(t, startCh))

		if err := waitErr(t, stopCh); err != nil {
			require.ErrorIs(t, err, netio.ErrNotStarted)
			require.True(t, ent.IsStarted())
			require.NoError(t, ent.Stop())
		}

		require.False(t, ent.IsStarted())
		require.ErrorIs(t, ent.Stop(), netio.ErrNotStarted)
	}
}
