package chops

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultHdrLen is the canonical length-prefix header size in bytes.
	DefaultHdrLen = 2

	// DefaultMaxMsgLen caps decoded payload lengths when a framer does not
	// configure its own limit.
	DefaultMaxMsgLen = 64 * 1024
)

// ErrInvalidMsgLength indicates a message length header is invalid.
var ErrInvalidMsgLength = errors.New("invalid message length")

// ErrMaxLenExceeded indicates the message length exceeds the maximum allowed.
var ErrMaxLenExceeded = errors.New("maximum message length exceeded")

// ErrEmptyDelim indicates a delimiter framer was built with no delimiter bytes.
var ErrEmptyDelim = errors.New("empty delimiter")

// HdrDecoder maps a fixed-size length header to the payload length it
// encodes. Implementations may return a negative value to signal a
// malformed header.
type HdrDecoder func(hdr []byte) int

// Framer extracts exactly one application message from a buffered byte
// stream. Exactly one framer is installed per connection and drives all
// reads over that connection's lifetime; a single instance may also be
// shared across connections, so implementations must not keep per-stream
// state between calls.
type Framer interface {
	ReadMsg(r *bufio.Reader) ([]byte, error)
}

// bigEndianLen decodes hdr as a big-endian unsigned integer.
func bigEndianLen(hdr []byte) int {
	var n uint64
	for _, b := range hdr {
		n = n<<8 | uint64(b)
	}

	return int(n)
}

// VarLenFramer splits a stream into messages carrying a fixed-size length
// header followed by that many payload bytes.
type VarLenFramer struct {
	hdrLen int
	decode HdrDecoder

	// MaxLen caps the decoded payload length. A decoded length above the
	// cap is a protocol error. Zero selects DefaultMaxMsgLen.
	MaxLen int
}

// NewVarLenFramer returns a Framer for length-prefixed messages. hdrLen is
// the header size in bytes; values below one select DefaultHdrLen. decode
// maps the header bytes to the payload length; nil selects a big-endian
// unsigned decode, which requires hdrLen <= 8.
func NewVarLenFramer(hdrLen int, decode HdrDecoder) *VarLenFramer {
	if hdrLen < 1 {
		hdrLen = DefaultHdrLen
	}
	if decode == nil {
		decode = bigEndianLen
	}

	return &VarLenFramer{hdrLen: hdrLen, decode: decode}
}

// ReadMsg reads one length-prefixed message and returns its payload without
// the header. A zero decoded length is valid and yields an empty, non-nil
// payload.
func (f *VarLenFramer) ReadMsg(r *bufio.Reader) ([]byte, error) {
	hdr := GetBuffer(f.hdrLen)
	defer PutBuffer(hdr)

	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}

	n := f.decode(hdr)
	if n < 0 {
		return nil, fmt.Errorf("decoded length %d: %w", n, ErrInvalidMsgLength)
	}
	maxLen := f.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxMsgLen
	}
	if n > maxLen {
		return nil, fmt.Errorf("decoded length %d exceeds %d: %w", n, maxLen, ErrMaxLenExceeded)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return payload, nil
}

// DelimFramer splits a stream into messages terminated by a fixed byte
// sequence. The delimiter is consumed from the stream and never appears in
// the delivered payload.
type DelimFramer struct {
	delim []byte
}

// NewDelimFramer returns a Framer for delimiter-terminated messages. Any
// non-empty byte sequence is a legal delimiter; delim is copied.
func NewDelimFramer(delim []byte) *DelimFramer {
	return &DelimFramer{delim: bytes.Clone(delim)}
}

// ReadMsg reads through the next delimiter and returns the bytes before it.
func (f *DelimFramer) ReadMsg(r *bufio.Reader) ([]byte, error) {
	if len(f.delim) == 0 {
		return nil, ErrEmptyDelim
	}

	last := f.delim[len(f.delim)-1]
	var msg []byte
	for {
		chunk, err := r.ReadBytes(last)
		msg = append(msg, chunk...)
		if err != nil {
			// A clean EOF between messages stays io.EOF; an EOF inside a
			// partial message means the stream was truncated.
			if errors.Is(err, io.EOF) && len(msg) > 0 {
				return nil, io.ErrUnexpectedEOF
			}

			return nil, err
		}
		if bytes.HasSuffix(msg, f.delim) {
			return msg[:len(msg)-len(f.delim)], nil
		}
	}
}

// EncodeVarLen prepends the canonical 2-byte big-endian length header to
// body. Returns ErrMaxLenExceeded for bodies above 65535 bytes.
func EncodeVarLen(body []byte) ([]byte, error) {
	maxLen := uint64(1<<(8*DefaultHdrLen)) - 1
	if uint64(len(body)) > maxLen {
		return nil, ErrMaxLenExceeded
	}

	out := make([]byte, DefaultHdrLen+len(body))
	binary.BigEndian.PutUint16(out[:DefaultHdrLen], uint16(len(body)))
	copy(out[DefaultHdrLen:], body)

	return out, nil
}

// AppendDelim returns body followed by delim in a fresh slice.
func AppendDelim(body, delim []byte) []byte {
	out := make([]byte, 0, len(body)+len(delim))
	out = append(out, body...)

	return append(out, delim...)
}

// Write writes data prefixed with the canonical 2-byte big-endian length
// header.
func Write(w io.Writer, in []byte) error {
	out, err := EncodeVarLen(in)
	if err != nil {
		return err
	}

	if _, err := w.Write(out); err != nil {
		return err
	}

	return nil
}

// Read reads one message prefixed with the canonical 2-byte big-endian
// length header and returns its payload.
func Read(r io.Reader) ([]byte, error) {
	var hdr [DefaultHdrLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	message := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, message); err != nil {
		return nil, err
	}

	return message, nil
}
