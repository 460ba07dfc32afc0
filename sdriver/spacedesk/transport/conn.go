package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	readBufferSize = 256 << 10
	writeTimeout   = 5 * time.Second
)

// Conn is a buffered TCP connection with per-call read timeouts.
// One goroutine reads; writes may come from any goroutine.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

type Stats struct {
	BytesIn  uint64
	BytesOut uint64
}

// Dial connects to address:port, giving up after timeout or when ctx ends.
func Dial(ctx context.Context, address string, port int, timeout time.Duration) (*Conn, error) {
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	if tc, ok := c.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return Wrap(c), nil
}

// Wrap adopts an already connected net.Conn.
func Wrap(c net.Conn) *Conn {
	return &Conn{
		conn: c,
		br:   bufio.NewReaderSize(c, readBufferSize),
	}
}

// WithConn dials, runs fn and always releases the socket afterwards.
func WithConn(ctx context.Context, address string, port int, timeout time.Duration, fn func(*Conn) error) error {
	c, err := Dial(ctx, address, port, timeout)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// Read returns between 1 and max bytes. A zero timeout blocks until data,
// close or error.
func (c *Conn) Read(max int, timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, c.classify(err)
	}

	p := make([]byte, max)
	n, err := c.br.Read(p)
	if n > 0 {
		c.bytesIn.Add(uint64(n))
		return p[:n], nil
	}
	if err == nil {
		return nil, ErrTimedOut
	}
	return nil, c.classify(err)
}

func (c *Conn) classify(err error) error {
	if c.closed.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return ErrClosed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimedOut
	}
	return &ReadError{Err: err}
}

// Write sends all of b or fails.
func (c *Conn) Write(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.write(b, writeTimeout)
}

// TryWrite is for best-effort messages. It fails with ErrBusy instead of
// queueing behind another write, and waits at most timeout for the socket.
func (c *Conn) TryWrite(b []byte, timeout time.Duration) error {
	if !c.wmu.TryLock() {
		return &WriteError{Err: ErrBusy}
	}
	defer c.wmu.Unlock()
	return c.write(b, timeout)
}

func (c *Conn) write(b []byte, timeout time.Duration) error {
	if c.closed.Load() {
		return &WriteError{Err: ErrClosed}
	}
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	n, err := c.conn.Write(b)
	c.bytesOut.Add(uint64(n))
	if err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// Close is safe to call more than once and from any goroutine. A blocked
// Read returns ErrClosed.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) Stats() Stats {
	return Stats{BytesIn: c.bytesIn.Load(), BytesOut: c.bytesOut.Load()}
}
