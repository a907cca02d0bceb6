// Package netio manages connection lifecycles over asynchronous TCP and UDP
// message streams. It wraps each connection in a handler owning the socket,
// the outbound queue, and the started state, and hands application code a
// weak Handle that can observe and drive the connection without owning it.
//
// Features:
//   - Acceptor: listens for TCP connections and owns every connection it
//     accepts, with no cap imposed; admission policy belongs outside, for
//     example a limiting net.Listener passed through AcceptorConfig.
//   - Connector: maintains one outbound TCP connection, optionally redialing
//     on failure and disconnect when ReconnectInterval is set.
//   - UDPEntity: owns one datagram socket, connected or bound, where each
//     datagram is one message.
//   - Handle: a copyable weak reference to one connection. Observers fail
//     loudly with ErrUnattached when the connection is gone; mutators fail
//     quietly with false, since racing a disconnect is routine.
//   - SendToAll: a mutex-guarded broadcast set of handles with aggregate
//     queue statistics.
//
// Every entity reports connection lifecycle through an Observer: a state
// change with started=true when a connection comes up (the place to call
// StartIO), exactly one shutdown with the terminal cause when it ends, then
// a state change with started=false. Entity-level failures, such as a dead
// listener or a failed dial, are reported as a shutdown with a zero Handle.
//
// Basic echo server:
//
//	obs := netio.ObserverFuncs{
//	    StateChange: func(io netio.Handle, _ int, started bool) {
//	        if !started {
//	            return
//	        }
//	        io.StartIO(netio.IOConfig{
//	            Framer: chops.NewVarLenFramer(2, nil),
//	            Handler: func(payload []byte, io netio.Handle, _ net.Addr) bool {
//	                if len(payload) == 0 {
//	                    return false // end of flow
//	                }
//	                out, _ := chops.EncodeVarLen(payload)
//	                io.Send(out)
//	                return true
//	            },
//	        })
//	    },
//	}
//	acc, err := netio.NewAcceptor("127.0.0.1:9000", obs, nil)
//	if err != nil {
//	    // handle error
//	}
//	if err := acc.Start(); err != nil {
//	    // handle error
//	}
//	defer acc.Stop()
package netio
