package nrepl

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/parley-dev/parley/internal/bencode"
)

// Conn owns exactly one socket for exactly one logical unit of work: a CLI
// invocation or a single discovery probe. It is not safe for concurrent use;
// the client is single-threaded by design.
type Conn struct {
	target Target
	addr   string
	c      net.Conn
	r      *bufio.Reader
	log    *slog.Logger
	closed bool
}

// Dial opens a connection to the evaluation server at host:port. Refusal or
// timeout fails with *ConnectError.
func Dial(host string, port int, timeout time.Duration) (*Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Op: "dial", Err: err}
	}
	conn := &Conn{
		target: Target{Host: host, Port: port},
		addr:   addr,
		c:      c,
		r:      bufio.NewReader(c),
		log:    slog.With("component", "nrepl", "addr", addr),
	}
	conn.log.Debug("connected")
	return conn, nil
}

// Addr returns the remote address as host:port.
func (c *Conn) Addr() string { return c.addr }

// Target returns the host and port this connection is bound to.
func (c *Conn) Target() Target { return c.target }

// Send writes one encoded message and flushes it immediately; the server is
// a streaming peer, not a request/response endpoint, so nothing is batched.
func (c *Conn) Send(msg Message) error {
	var buf bytes.Buffer
	if err := bencode.Encode(&buf, map[string]any(msg)); err != nil {
		return fmt.Errorf("encode %q message: %w", msg.GetString("op"), err)
	}
	if err := c.c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return &ConnectError{Addr: c.addr, Op: "write", Err: err}
	}
	if _, err := c.c.Write(buf.Bytes()); err != nil {
		return &ConnectError{Addr: c.addr, Op: "write", Err: err}
	}
	c.log.Debug("sent", "op", msg.GetString("op"), "id", msg.GetString("id"))
	return nil
}

// Receive returns the next decoded message. The timeout covers only the
// wait for a message to begin; expiring there returns (nil, nil) without
// closing the connection, and the caller decides whether that is fatal.
// Once the first byte is in, the rest of the message reads under its own
// generous bound, so a slow or fragmented frame is never mistaken for a
// protocol violation. A closed or reset connection fails with
// *ConnectError and malformed data with *bencode.ProtocolError.
func (c *Conn) Receive(timeout time.Duration) (Message, error) {
	if err := c.c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, &ConnectError{Addr: c.addr, Op: "read", Err: err}
	}
	// Peek consumes nothing, so timing out here leaves the stream intact
	// for the next poll.
	if _, err := c.r.Peek(1); err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, nil
		}
		if errors.Is(err, io.EOF) {
			err = errors.New("connection closed by server")
		}
		return nil, &ConnectError{Addr: c.addr, Op: "read", Err: err}
	}
	if err := c.c.SetReadDeadline(time.Now().Add(messageReadTimeout)); err != nil {
		return nil, &ConnectError{Addr: c.addr, Op: "read", Err: err}
	}
	v, err := bencode.Decode(c.r)
	if err != nil {
		// With the first byte already buffered, every decode failure has
		// consumed part of the value and is a *bencode.ProtocolError.
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &bencode.ProtocolError{Reason: fmt.Sprintf("message is %T, want dictionary", v)}
	}
	msg := Message(m)
	c.log.Debug("received", "id", msg.GetString("id"), "status", msg.GetStringList("status"))
	return msg, nil
}

// Close is idempotent.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.c.Close()
}

// NewRequestID returns a fresh unguessable request id so replies can be
// attributed unambiguously even when several logical operations share one
// connection.
func NewRequestID() string {
	return uuid.NewString()
}
