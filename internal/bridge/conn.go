package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/chanbridge/internal/observability"
	"github.com/haasonsaas/chanbridge/internal/storage"
	"github.com/haasonsaas/chanbridge/internal/wire"
)

const readChunkSize = 32 << 10

// Peer is the registry's view of a live connection.
type Peer interface {
	ID() string
	Send(payload []byte) error
	Close(code uint16, reason string)
}

func sendJSON(p Peer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Send(payload)
}

// readAction tells the read loop what to do after a message was handled.
type readAction int

const (
	readContinue readAction = iota
	// readReset drops the decoder buffer and any frames left in the batch.
	readReset
	readStop
)

type connConfig struct {
	id               string
	channelID        string
	role             storage.Role
	mode             string
	client           bool
	maxFrameBytes    int64
	maxBufferedBytes int
	writeTimeout     time.Duration
	logger           *slog.Logger
	metrics          *observability.Metrics
}

// Conn is one framed transport. A single reader goroutine runs serve; a
// writer goroutine drains the outbox. Send and Close are safe from any
// goroutine.
type Conn struct {
	id        string
	channelID string
	role      storage.Role
	mode      string
	client    bool

	transport    net.Conn
	decoder      *wire.Decoder
	out          *outbox
	writeTimeout time.Duration

	logger  *slog.Logger
	metrics *observability.Metrics

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(transport net.Conn, cfg connConfig) *Conn {
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		id:           cfg.id,
		channelID:    cfg.channelID,
		role:         cfg.role,
		mode:         cfg.mode,
		client:       cfg.client,
		transport:    transport,
		decoder:      wire.NewDecoder(cfg.maxFrameBytes),
		out:          newOutbox(cfg.maxBufferedBytes),
		writeTimeout: cfg.writeTimeout,
		logger: logger.With(
			"conn_id", cfg.id,
			"channel_id", cfg.channelID,
			"role", string(cfg.role),
		),
		metrics: cfg.metrics,
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// ID is the connection id assigned at upgrade.
func (c *Conn) ID() string { return c.id }

// Role reports whether this is the agent or a human connection.
func (c *Conn) Role() storage.Role { return c.role }

// Done is closed once the transport has been closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues a text frame. A peer that lets its outbox exceed the byte
// budget is closed with a policy violation.
func (c *Conn) Send(payload []byte) error {
	err := c.out.push(c.encode(wire.OpText, payload))
	if errors.Is(err, ErrOutboxFull) {
		c.logger.Warn("peer too slow, closing", "buffered", c.out.buffered())
		c.metrics.Error("outbox_overflow")
		c.Close(wire.ClosePolicyViolation, errTextTooSlow)
		return err
	}
	if err == nil {
		c.metrics.Frame("out", wire.OpText.String())
	}
	return err
}

func (c *Conn) ping() error {
	err := c.out.push(c.encode(wire.OpPing, nil))
	if err == nil {
		c.metrics.Frame("out", wire.OpPing.String())
	}
	return err
}

func (c *Conn) pong(payload []byte) {
	if err := c.out.push(c.encode(wire.OpPong, payload)); err == nil {
		c.metrics.Frame("out", wire.OpPong.String())
	}
}

// Close sends a close frame after anything already queued, then shuts the
// transport. Later calls are no-ops.
func (c *Conn) Close(code uint16, reason string) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		if c.out.finish(c.encode(wire.OpClose, wire.ClosePayload(code, reason))) {
			c.metrics.Frame("out", wire.OpClose.String())
		}
	})
}

// abort drops queued frames and closes the transport immediately.
func (c *Conn) abort() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
	})
	c.out.abort()
	_ = c.transport.Close() //nolint:errcheck
}

func (c *Conn) encode(op wire.Opcode, payload []byte) []byte {
	if c.client {
		return wire.EncodeMasked(op, payload, wire.NewMaskKey())
	}
	return wire.Encode(op, payload)
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	defer c.transport.Close() //nolint:errcheck

	for {
		frame, ok, closed := c.out.pop()
		if !ok {
			if closed {
				return
			}
			<-c.out.ready
			continue
		}
		if c.writeTimeout > 0 {
			_ = c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout)) //nolint:errcheck
		}
		if _, err := c.transport.Write(frame); err != nil {
			c.logger.Debug("write failed", "error", err)
			c.out.abort()
			return
		}
	}
}

// serve reads frames until the transport ends or handle asks to stop. Text
// messages are passed to handle in the order they completed parsing.
func (c *Conn) serve(handle func(payload []byte) readAction) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			if !c.consume(buf[:n], handle) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !c.closing.Load() {
				c.logger.Debug("read failed", "error", err)
			}
			c.abort()
			return
		}
	}
}

func (c *Conn) consume(chunk []byte, handle func(payload []byte) readAction) bool {
	frames, ferr := c.decoder.Feed(chunk)
batch:
	for _, frame := range frames {
		if c.closing.Load() {
			return false
		}
		c.metrics.Frame("in", frame.Opcode.String())
		switch frame.Kind() {
		case wire.KindMessage:
			switch handle(frame.Payload) {
			case readStop:
				return false
			case readReset:
				// A framing error behind the reset still ends the connection.
				c.decoder.Reset()
				break batch
			}
		case wire.KindPing:
			c.pong(frame.Payload)
		case wire.KindClose:
			code := frame.CloseCode()
			if code == 0 {
				code = wire.CloseNormal
			}
			c.Close(code, "")
			return false
		default:
			if !frame.Fin || frame.Opcode == wire.OpContinuation {
				c.logger.Debug("dropping fragmented frame", "opcode", frame.Opcode.String())
			}
		}
	}
	if ferr != nil {
		code := wire.CloseProtocolError
		if errors.Is(ferr, wire.ErrFrameTooLarge) {
			code = wire.CloseMessageTooBig
		}
		c.logger.Warn("protocol violation", "error", ferr)
		c.metrics.Error(string(KindProtocolViolation))
		c.Close(code, "")
		return false
	}
	return true
}
