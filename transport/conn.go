package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	readChunkSize = 4096

	defaultWriteDeadline      = 5 * time.Second
	defaultCloseWriteDeadline = 2 * time.Second
)

// ErrConnClosed is returned by ReadMessage after a close frame arrives.
var ErrConnClosed = errors.New("connection closed by peer")

// Conn is a message-oriented connection on top of a raw stream. Reads must
// come from a single goroutine; Send is safe for concurrent use.
type Conn struct {
	nc     net.Conn
	br     *bufio.Reader
	buf    []byte
	chunk  []byte
	wmu    sync.Mutex
	logger zerolog.Logger
}

// Accept performs the server side of the upgrade handshake on nc and wraps
// it into a framed Conn. On handshake failure nc is closed.
func Accept(nc net.Conn, path string, logger *zerolog.Logger) (*Conn, error) {
	br := bufio.NewReader(nc)
	if err := Upgrade(nc, br, path); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return &Conn{
		nc:    nc,
		br:    br,
		chunk: make([]byte, readChunkSize),
		logger: logger.With().
			Str("component", "transport").
			Str("remote", nc.RemoteAddr().String()).
			Logger(),
	}, nil
}

// ReadMessage returns the payload of the next text or binary frame. Control
// frames are handled internally: ping gets an immediate pong, pong and
// continuation frames are dropped, close yields ErrConnClosed after echoing
// the close frame. Leftover bytes past a decoded frame are retained for the
// next call.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		for {
			frame, n, err := Decode(c.buf)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				break
			}
			c.buf = c.buf[n:]
			switch frame.Opcode {
			case OpText, OpBinary:
				return frame.Payload, nil
			case OpClose:
				_ = c.writeFrame(OpClose, nil)
				return nil, ErrConnClosed
			case OpPing:
				_ = c.writeFrame(OpPong, frame.Payload)
			default:
				// pong or continuation, nothing to do
			}
		}
		n, err := c.br.Read(c.chunk)
		if n > 0 {
			c.buf = append(c.buf, c.chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// SendJSON marshals v and writes it as a single text frame. Write failures
// are logged and swallowed: the read side observes the broken stream
// independently and triggers cleanup, so the send path never propagates
// errors into callers.
func (c *Conn) SendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal outgoing message")
		return
	}
	if err = c.writeFrame(OpText, b); err != nil {
		c.logger.Debug().Err(err).Msg("dropped write to dead peer")
	}
}

func (c *Conn) writeFrame(opcode byte, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.nc.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
		return err
	}
	_, err := c.nc.Write(Encode(opcode, payload))
	return err
}

// Close sends a close frame on a best-effort basis and tears down the
// underlying stream.
func (c *Conn) Close() {
	c.wmu.Lock()
	if err := c.nc.SetWriteDeadline(time.Now().Add(defaultCloseWriteDeadline)); err == nil {
		_, _ = c.nc.Write(Encode(OpClose, nil))
	}
	c.wmu.Unlock()
	_ = c.nc.Close()
}

// RemoteAddr reports the peer address of the underlying stream.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}
