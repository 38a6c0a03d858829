package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	reuseport "github.com/libp2p/go-reuseport"
	"go.uber.org/zap"

	"github.com/ZentaChain/palladium/pkg/errs"
	"github.com/ZentaChain/palladium/pkg/protocol"
)

var (
	ErrEngineClosed     = errors.New("engine closed")
	ErrDatagramTooLarge = errors.New("datagram too large")
)

// Transport is the packet transport a Client runs on.
type Transport interface {
	Send(ctx context.Context, p *protocol.Packet) error
	SubscribeReceived(buffer int) *Subscription[Transmission]
	Close() error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

type datagram struct {
	data   []byte
	remote net.Addr
	err    error
}

// Engine owns the UDP socket bound to the configured port. A reader
// goroutine drains the socket into a bounded queue; a delivery goroutine
// parses each datagram and publishes it on the received feed before taking
// the next one.
type Engine struct {
	cfg  Config
	dest *net.UDPAddr
	log  *zap.Logger

	conn  net.PacketConn
	queue chan datagram

	received    Feed[Transmission]
	transmitted Feed[Transmission]

	closing   atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	sentCount     atomic.Uint64
	receivedCount atomic.Uint64
	failedCount   atomic.Uint64
}

// NewEngine binds the receive socket and starts the receive loop.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dest, _ := cfg.destination()

	e := &Engine{
		cfg:   cfg,
		dest:  dest,
		log:   zap.NewNop(),
		queue: make(chan datagram, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(e)
	}

	conn, err := reuseport.ListenPacket("udp4", cfg.listenAddress())
	if err != nil {
		return nil, errs.Wrap(errs.Transport, "failed to bind "+cfg.listenAddress(), err)
	}
	e.conn = conn

	e.wg.Add(2)
	go e.readLoop()
	go e.deliverLoop()

	e.log.Info("engine listening",
		zap.String("listen", conn.LocalAddr().String()),
		zap.String("destination", dest.String()))
	return e, nil
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// LocalAddr returns the bound receive address.
func (e *Engine) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// SubscribeReceived subscribes to receive-completed events.
func (e *Engine) SubscribeReceived(buffer int) *Subscription[Transmission] {
	return e.received.Subscribe(buffer)
}

// SubscribeTransmitted subscribes to transmit-completed events.
func (e *Engine) SubscribeTransmitted(buffer int) *Subscription[Transmission] {
	return e.transmitted.Subscribe(buffer)
}

// Send serializes p and broadcasts it as a single datagram from an ephemeral
// socket. A transmit event is published on every path: Sent|Success when the
// datagram was handed to the OS, Sending|Fail otherwise.
func (e *Engine) Send(ctx context.Context, p *protocol.Packet) (err error) {
	status := Fail | Sending
	defer func() {
		if err != nil {
			e.failedCount.Add(1)
		} else {
			e.sentCount.Add(1)
		}
		e.transmitted.Publish(Transmission{Packet: p, Status: status, Err: err, Remote: e.dest})
	}()

	if p == nil {
		return errs.New(errs.Argument, "packet is nil")
	}
	if e.closing.Load() {
		return errs.Wrap(errs.Transport, "send", ErrEngineClosed)
	}

	data, err := p.ToJSON()
	if err != nil {
		return err
	}
	if len(data) > MaxDatagramSize {
		return errs.Wrap(errs.Transport, "send", ErrDatagramTooLarge)
	}

	lc := net.ListenConfig{Control: setBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return errs.Wrap(errs.Transport, "failed to open send socket", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.Transport, "send", err)
	}
	if _, err := conn.WriteTo(data, e.dest); err != nil {
		return errs.Wrap(errs.Transport, "failed to write datagram", err)
	}

	status = Sent | Success
	e.log.Debug("packet sent",
		zap.String("id", p.ID().String()),
		zap.Int("bytes", len(data)))
	return nil
}

// readLoop re-arms the socket read as soon as a datagram is queued.
func (e *Engine) readLoop() {
	defer e.wg.Done()
	defer close(e.queue)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 10 * time.Millisecond
	retry.MaxInterval = time.Second
	retry.MaxElapsedTime = 0

	buf := make([]byte, MaxDatagramSize)
	for {
		n, remote, err := e.conn.ReadFrom(buf)
		if err != nil {
			if e.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			e.queue <- datagram{remote: remote, err: err}
			wait := retry.NextBackOff()
			e.log.Warn("receive failed", zap.Error(err), zap.Duration("retry", wait))
			time.Sleep(wait)
			continue
		}
		retry.Reset()

		data := make([]byte, n)
		copy(data, buf[:n])
		e.queue <- datagram{data: data, remote: remote}
	}
}

// deliverLoop publishes one event per datagram, in arrival order.
func (e *Engine) deliverLoop() {
	defer e.wg.Done()

	for d := range e.queue {
		status := Fail | Receiving
		tx := Transmission{Remote: d.remote}

		switch {
		case d.err != nil:
			tx.Err = errs.Wrap(errs.Transport, "receive", d.err)
		default:
			p, err := protocol.FromJSON(d.data)
			if err != nil {
				tx.Err = err
				e.log.Debug("dropping malformed datagram",
					zap.Stringer("remote", d.remote), zap.Error(err))
				break
			}
			tx.Packet = p
			status = Received | Success
		}

		tx.Status = status
		if tx.Succeeded() {
			e.receivedCount.Add(1)
		} else {
			e.failedCount.Add(1)
		}
		if e.closing.Load() {
			continue
		}
		e.received.Publish(tx)
	}
}

// Stats returns packet counters.
func (e *Engine) Stats() (sent, received, failed uint64) {
	return e.sentCount.Load(), e.receivedCount.Load(), e.failedCount.Load()
}

// Close closes the socket and stops both loops. Events are not raised for
// the interrupted read. Close is idempotent.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closing.Store(true)
		err = e.conn.Close()
		e.received.Close()
		e.wg.Wait()
		e.transmitted.Close()
		e.log.Info("engine closed")
	})
	return err
}
