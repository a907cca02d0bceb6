// Package chops provides message framing and buffer plumbing for
// connection-oriented networking, along with the shared logging interface
// used across the module. The higher-level connection management layer
// (handlers, handles, acceptor, connector, broadcast) lives in the netio
// subpackage and builds on the primitives here.
//
// Features:
//   - Message framing: the Framer strategies split a byte stream into
//     discrete messages, either length-prefixed (VarLenFramer) or
//     delimiter-terminated (DelimFramer). Write and Read handle the
//     canonical 2-byte big-endian length header for one-shot framed I/O
//     over any stream.
//   - Buffer pool: GetBuffer and PutBuffer reuse size-classed byte slices
//     to reduce allocations on hot read paths.
//   - Logging: the Logger interface decouples the module from any logging
//     framework; NoopLogger is the default wherever a configuration leaves
//     the logger unset.
//
// Basic framing example:
//
//	framer := chops.NewVarLenFramer(2, nil)
//	rdr := bufio.NewReader(conn)
//	for {
//	    payload, err := framer.ReadMsg(rdr)
//	    if err != nil {
//	        // handle error
//	    }
//	    // process payload
//	}
//
// Sending side:
//
//	if err := chops.Write(conn, []byte("hello")); err != nil {
//	    // handle error
//	}
package chops
