package srtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	defaultConnectTimeout = 2 * time.Second
	defaultReadTimeout    = 2 * time.Second
	defaultWriteTimeout   = 1 * time.Second
)

// State is the lifecycle state of a Client's TCP session.
type State int

const (
	// Disconnected means no TCP connection is held.
	Disconnected State = iota
	// Connecting means a dial/handshake attempt is in progress.
	Connecting
	// Ready means the handshake completed and reads/writes may proceed.
	Ready
)

// ConnectError wraps failures encountered while dialing or handshaking.
type ConnectError struct{ Err error }

func (e *ConnectError) Error() string { return e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError wraps failures encountered while reading or writing frames
// on an already-established session.
type ProtocolError struct{ Err error }

func (e *ProtocolError) Error() string { return e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// ErrNotConnected is returned by read/write operations when no session is
// established.
var ErrNotConnected = &ProtocolError{Err: errors.New("srtp: not connected")}

// ErrPeerClosed is returned when the peer closes the socket with zero bytes
// delivered for the frame in progress.
var ErrPeerClosed = &ProtocolError{Err: errors.New("srtp: peer closed connection mid-frame")}

// ErrTruncated is returned when the peer closes the socket after delivering
// some, but not enough, bytes of the frame in progress.
var ErrTruncated = &ProtocolError{Err: errors.New("srtp: truncated frame")}

// ErrBadHandshake is returned when a handshake response carries an
// unexpected frame-type byte.
var ErrBadHandshake = errors.New("srtp: unexpected handshake response")

// ClientHooks allows observing bytes written/read by a Client, e.g. for
// logging or tests. Implementations must not retain the given slices.
type ClientHooks interface {
	BeforeWrite(toWrite []byte)
	AfterRead(received []byte, err error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// DialContextFunc overrides how the TCP connection is established. Used
	// in tests to dial an in-process srtptest peer.
	DialContextFunc func(ctx context.Context, address string) (net.Conn, error)

	Hooks ClientHooks
}

// Client is a non-reentrant SRTP client for one PLC TCP endpoint. A single
// Client permits at most one outstanding request at a time; concurrent
// callers block on Client's internal mutex.
type Client struct {
	address string

	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	dialContextFunc func(ctx context.Context, address string) (net.Conn, error)
	timeNow         func() time.Time
	hooks           ClientHooks

	mu    sync.Mutex
	state State
	conn  net.Conn
	seq   uint16
}

// NewClient creates a Client targeting ip:port.
func NewClient(ip string, port uint16) *Client {
	return NewClientWithConfig(ip, port, ClientConfig{})
}

// NewClientWithConfig creates a Client targeting ip:port with the given
// configuration overrides.
func NewClientWithConfig(ip string, port uint16, conf ClientConfig) *Client {
	c := &Client{
		address:        fmt.Sprintf("%s:%d", ip, port),
		connectTimeout: defaultConnectTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		timeNow:        time.Now,
		dialContextFunc: func(ctx context.Context, address string) (net.Conn, error) {
			d := &net.Dialer{Timeout: defaultConnectTimeout}
			return d.DialContext(ctx, "tcp", address)
		},
	}
	if conf.ConnectTimeout > 0 {
		c.connectTimeout = conf.ConnectTimeout
	}
	if conf.ReadTimeout > 0 {
		c.readTimeout = conf.ReadTimeout
	}
	if conf.WriteTimeout > 0 {
		c.writeTimeout = conf.WriteTimeout
	}
	if conf.DialContextFunc != nil {
		c.dialContextFunc = conf.DialContextFunc
	}
	c.hooks = conf.Hooks
	return c
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens a TCP connection and performs the SRTP handshake. It is
// safe to call when already connected: the call is a no-op and returns
// true. Any failure (dial error, wrong handshake response byte, socket
// reset) returns false; the client remains Disconnected.
func (c *Client) Connect(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Ready {
		return true
	}
	c.state = Connecting

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		dialCtx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}
	conn, err := c.dialContextFunc(dialCtx, c.address)
	if err != nil {
		c.state = Disconnected
		return false
	}
	c.conn = conn

	if err := c.handshake(); err != nil {
		_ = conn.Close()
		c.conn = nil
		c.state = Disconnected
		return false
	}
	c.state = Ready
	return true
}

func (c *Client) handshake() error {
	if err := c.writeFrame(BuildHandshakeFrame1()); err != nil {
		return &ConnectError{Err: err}
	}
	frame1, err := c.readFrameSkippingAcks(0, func(b byte) bool { return b == FrameInterimAck })
	if err != nil {
		return &ConnectError{Err: err}
	}
	if frame1[0] != FrameHandshakeAck {
		return &ConnectError{Err: ErrBadHandshake}
	}

	if err := c.writeFrame(BuildHandshakeFrame2()); err != nil {
		return &ConnectError{Err: err}
	}
	frame2, err := c.readFrameSkippingAcks(0, func(b byte) bool { return b == FrameInterimAck })
	if err != nil {
		return &ConnectError{Err: err}
	}
	if frame2[0] != FrameData {
		return &ConnectError{Err: ErrBadHandshake}
	}
	return nil
}

// Disconnect sends the best-effort disconnect frame and closes the socket.
// It never returns or logs an error to the caller; any send/close failure
// is swallowed because the connection is being torn down regardless.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.state = Disconnected
		return
	}
	_ = c.writeFrame(BuildDisconnectFrame())
	_ = c.conn.Close()
	c.conn = nil
	c.state = Disconnected
}

// ReadRegisters reads count words starting at the 1-based plcStart offset
// of area.
func (c *Client) ReadRegisters(ctx context.Context, plcStart uint16, count uint16, area MemoryArea) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Ready {
		return nil, ErrNotConnected
	}

	c.seq++
	req := BuildReadRequest(c.seq, plcStart, count, area)
	if err := c.writeFrame(req); err != nil {
		return nil, err
	}

	frame, err := c.readFrameSkippingAcks(int(count)*2, func(b byte) bool {
		return b == FrameHandshakeAck || b == FrameInterimAck
	})
	if err != nil {
		return nil, err
	}
	return ParseDataWords(frame, int(count)), nil
}

// WriteRegisters writes values starting at the 1-based plcStart offset of
// area. It returns true iff the PLC's response frame carries the
// FrameData tag.
func (c *Client) WriteRegisters(ctx context.Context, plcStart uint16, values []uint16, area MemoryArea) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Ready {
		return false, ErrNotConnected
	}

	c.seq++
	req := BuildWriteRequest(c.seq, plcStart, values, area)
	if err := c.writeFrame(req); err != nil {
		return false, err
	}

	frame, err := c.readFrameSkippingAcks(0, func(b byte) bool {
		return b == FrameHandshakeAck || b == FrameInterimAck
	})
	if err != nil {
		return false, err
	}
	return frame[0] == FrameData, nil
}

func (c *Client) writeFrame(frame []byte) error {
	if c.hooks != nil {
		c.hooks.BeforeWrite(frame)
	}
	_ = c.conn.SetWriteDeadline(c.timeNow().Add(c.writeTimeout))
	_, err := c.conn.Write(frame)
	if err != nil {
		return &ProtocolError{Err: err}
	}
	return nil
}

// readFrameSkippingAcks accumulates bytes into a HeaderLen+extraPayloadLen
// buffer. Once at least HeaderLen bytes are in hand it inspects byte 0: if
// isAck reports true the accumulator is reset to zero and reading resumes
// (the discipline described in spec §4.B — "restart accumulation until
// 0x03 appears"); otherwise the frame is treated as the real response and
// reading continues only until extraPayloadLen bytes of trailing payload
// have also arrived.
func (c *Client) readFrameSkippingAcks(extraPayloadLen int, isAck func(byte) bool) ([]byte, error) {
	want := HeaderLen + extraPayloadLen
	buf := make([]byte, 0, want)
	tmp := make([]byte, want)

	for {
		_ = c.conn.SetReadDeadline(c.timeNow().Add(c.readTimeout))
		n, err := c.conn.Read(tmp)
		if c.hooks != nil {
			c.hooks.AfterRead(tmp[:n], err)
		}
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf) == 0 {
					return nil, ErrPeerClosed
				}
				return nil, ErrTruncated
			}
			return nil, &ProtocolError{Err: err}
		}

		if len(buf) < HeaderLen {
			continue
		}
		if isAck(buf[0]) {
			buf = buf[:0]
			continue
		}
		if len(buf) >= want {
			return buf[:want], nil
		}
	}
}
