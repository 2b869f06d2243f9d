// Package cdp is a minimal Chrome DevTools Protocol client that speaks
// WebSocket framing directly over the browser's local devtools socket.
package cdp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateOpen
	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EvaluateParams are the params of Runtime.evaluate.
type EvaluateParams struct {
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue,omitempty"`
	AwaitPromise  bool   `json:"awaitPromise,omitempty"`
}

// Conn is a WebSocket connection to one page target.
//
// One goroutine may send commands while another runs Listen. Close may be
// called from any goroutine and unblocks a pending Listen.
type Conn struct {
	tabID string
	addr  string
	opts  Options
	log   *zap.Logger

	sock net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
	nextID  int64 // guarded by writeMu

	state     atomic.Int32
	listening atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	// closeCause is why the connection was closed; nil for an explicit Close.
	// Written before closing is set.
	closeCause error
}

// Connect opens the devtools socket for opts.Namespace and upgrades it to a
// WebSocket attached to /devtools/page/{tabID}.
//
// The well-known socket is tried first, then the PID-suffixed one. There is
// no further retry: a failed Conn is never resumed, callers connect again.
func Connect(ctx context.Context, tabID string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	c := &Conn{
		tabID:  tabID,
		opts:   opts,
		log:    opts.Logger.With(zap.String("tab", tabID)),
		nextID: 1,
	}
	opts.Logger = c.log

	c.setState(StateConnecting)
	sock, addr, err := dialSocket(ctx, opts)
	if err != nil {
		c.setState(StateClosed)
		return nil, err
	}
	c.sock = sock
	c.addr = addr
	c.r = bufio.NewReader(sock)

	c.setState(StateHandshaking)
	if err := c.handshake(ctx); err != nil {
		err = fmt.Errorf("devtools handshake: %w", err)
		_ = c.close(err)
		return nil, err
	}

	c.setState(StateOpen)
	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	// Only the handshake honours ctx; frame I/O has no deadlines.
	stop := context.AfterFunc(ctx, func() {
		_ = c.sock.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		if stop() {
			_ = c.sock.SetDeadline(time.Time{})
		}
	}()

	key, err := newNonceKey(c.rand())
	if err != nil {
		return err
	}

	req := upgradeRequest(c.tabID, key)
	c.log.Debug("connecting to devtools page", zap.String("request", "GET /devtools/page/"+c.tabID))
	if _, err := c.sock.Write(req); err != nil {
		return fmt.Errorf("write upgrade request: %w", err)
	}
	if err := c.opts.Handshake.ReadResponse(c.r, key); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *Conn) rand() io.Reader {
	if c.opts.Rand != nil {
		return c.opts.Rand
	}
	return cryptoRand
}

// TabID returns the page target this connection is attached to.
func (c *Conn) TabID() string {
	return c.tabID
}

// Addr returns the socket name that accepted the connection.
func (c *Conn) Addr() string {
	return c.addr
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// SendCommand writes {id, method, params} as one text frame and returns the id used.
// It does not wait for the response; match it by id in the Listen callback.
//
// A params value that cannot be marshalled returns a SerializationError and
// leaves the connection open. A failed write closes the connection.
func (c *Conn) SendCommand(method string, params any) (int64, error) {
	if c.State() != StateOpen {
		return 0, ErrClosed
	}
	if params == nil {
		params = struct{}{}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	id := c.nextID
	data, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return 0, &SerializationError{Op: "marshal CDP command " + method, Err: err}
	}

	frame, err := EncodeTextFrame(data, c.opts.Rand)
	if err != nil {
		c.log.Error("encode frame failed", zap.String("method", method), zap.Error(err))
		_ = c.close(err)
		return 0, err
	}

	if c.State() != StateOpen {
		return 0, ErrClosed
	}
	if _, err := c.sock.Write(frame); err != nil {
		c.log.Error("write to devtools socket failed", zap.String("method", method), zap.Error(err))
		err = fmt.Errorf("send %s: %w", method, err)
		_ = c.close(err)
		return 0, err
	}

	c.nextID++
	return id, nil
}

// Evaluate sends Runtime.evaluate with script as the expression.
// It returns false, and closes the connection, if the command could not be sent.
// On a closed connection it returns false without writing.
func (c *Conn) Evaluate(script string) bool {
	if c.State() != StateOpen {
		return false
	}
	if _, err := c.SendCommand("Runtime.evaluate", EvaluateParams{Expression: script}); err != nil {
		c.log.Warn("evaluate failed", zap.Error(err))
		_ = c.close(err)
		return false
	}
	return true
}

var errAlreadyListening = errors.New("devtools connection is already being listened to")

// Listen decodes frames until the connection ends, calling onMessage with each
// parsed message on the calling goroutine. A nil onMessage logs messages at debug level.
//
// Listen always leaves the connection closed. It returns nil after Close,
// io.EOF when the peer ended the stream, the send error that closed the
// connection, or the ProtocolError, SerializationError or read error that stopped it.
func (c *Conn) Listen(onMessage func(Message)) error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	if !c.listening.CompareAndSwap(false, true) {
		return errAlreadyListening
	}
	defer c.listening.Store(false)

	if onMessage == nil {
		onMessage = func(m Message) {
			c.log.Debug("devtools message", zap.ByteString("message", m.Raw))
		}
	}

	for {
		frame, err := ReadFrame(c.r, c.opts.MaxFrameSize)
		if err != nil {
			return c.stopListening(err)
		}
		msg, err := parseMessage(frame.Payload)
		if err != nil {
			return c.stopListening(err)
		}
		onMessage(msg)
	}
}

// stopListening logs why the listen loop ended and closes the connection.
func (c *Conn) stopListening(err error) error {
	if c.closing.Load() {
		if c.closeCause != nil {
			c.log.Warn("listen stopped: send failed", zap.Error(c.closeCause))
			return c.closeCause
		}
		c.log.Debug("listen stopped: closed locally")
		return nil
	}

	var protoErr *ProtocolError
	var serErr *SerializationError
	switch {
	case errors.Is(err, io.EOF):
		c.log.Info("listen stopped: stream ended")
	case errors.As(err, &protoErr):
		c.log.Warn("listen stopped: protocol violation", zap.Error(err))
	case errors.As(err, &serErr):
		c.log.Warn("listen stopped: malformed payload", zap.Error(err))
	default:
		c.log.Warn("listen stopped: read failed", zap.Error(err))
	}
	_ = c.close(err)
	return err
}

// Close closes the socket. It is safe to call concurrently with Listen and
// SendCommand, and more than once.
func (c *Conn) Close() error {
	return c.close(nil)
}

// close closes the socket once, recording cause for a concurrent Listen.
func (c *Conn) close(cause error) error {
	c.closeOnce.Do(func() {
		c.closeCause = cause
		c.closing.Store(true)
		c.setState(StateClosed)
		if c.sock != nil {
			c.closeErr = c.sock.Close()
		}
	})
	return c.closeErr
}
