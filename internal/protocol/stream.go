package protocol

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// DefaultMaxEnvelopeBytes bounds how much a single Decode may pull off the wire.
const DefaultMaxEnvelopeBytes = 16 << 20

// ErrEnvelopeTooLarge is returned when a peer sends more than the configured
// number of bytes for one envelope.
var ErrEnvelopeTooLarge = errors.New("protocol: envelope exceeds size limit")

// Stream reads and writes whole envelopes over a connection.
//
// A Stream is not safe for concurrent readers or concurrent writers; one
// reader and one writer may run at the same time.
type Stream struct {
	conn   net.Conn
	lr     *limitedReader
	enc    *cbor.Encoder
	dec    *cbor.Decoder
	closed atomic.Bool
}

// NewStream wraps conn. maxBytes <= 0 selects DefaultMaxEnvelopeBytes.
func NewStream(conn net.Conn, maxBytes int64) *Stream {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxEnvelopeBytes
	}
	lr := &limitedReader{conn: conn, max: maxBytes}
	return &Stream{
		conn: conn,
		lr:   lr,
		enc:  NewEncoder(conn),
		dec:  NewDecoder(lr),
	}
}

// Decode blocks until one envelope has been read or the read deadline passes.
// A clean close by the peer between envelopes yields io.EOF.
//
// A deadline error leaves any partially buffered envelope in place, so
// Decode may be called again after extending the deadline.
func (s *Stream) Decode() (*Envelope, error) {
	s.lr.reset()
	var env Envelope
	if err := s.dec.Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Read sets a read deadline of now+timeout and decodes one envelope.
// timeout <= 0 disables the deadline.
func (s *Stream) Read(timeout time.Duration) (*Envelope, error) {
	if err := s.SetReadDeadline(deadline(timeout)); err != nil {
		return nil, err
	}
	return s.Decode()
}

// Write encodes env, failing if it cannot be written before now+timeout.
// timeout <= 0 disables the deadline.
func (s *Stream) Write(env *Envelope, timeout time.Duration) error {
	return s.WriteBy(env, deadline(timeout))
}

// WriteBy encodes env with an absolute write deadline.
func (s *Stream) WriteBy(env *Envelope, t time.Time) error {
	if env == nil {
		return fmt.Errorf("protocol: nil envelope")
	}
	if err := s.conn.SetWriteDeadline(t); err != nil {
		return err
	}
	return s.enc.Encode(env)
}

// SetReadDeadline sets the deadline for the next Decode. Setting it in the
// past unblocks a Decode that is already waiting.
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close closes the underlying connection. It is safe to call more than once.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// limitedReader counts bytes pulled from the connection since the last reset.
type limitedReader struct {
	conn net.Conn
	max  int64
	n    int64
}

func (r *limitedReader) reset() {
	r.n = 0
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if r.n >= r.max {
		return 0, ErrEnvelopeTooLarge
	}
	if remaining := r.max - r.n; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.conn.Read(p)
	r.n += int64(n)
	return n, err
}
