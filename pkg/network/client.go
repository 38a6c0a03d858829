package network

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ZentaChain/palladium/pkg/datauri"
	"github.com/ZentaChain/palladium/pkg/errs"
	"github.com/ZentaChain/palladium/pkg/protocol"
)

var ErrOffline = errors.New("session is offline")

// State is the session lifecycle state.
type State int32

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the session logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// WithHistoryLimit caps the inbound message log; zero keeps everything.
func WithHistoryLimit(n int) ClientOption {
	return func(c *Client) {
		c.historyLimit = n
	}
}

// WithQueueSize sets the buffer between the transport and the dispatcher.
func WithQueueSize(n int) ClientOption {
	return func(c *Client) {
		c.queueSize = n
	}
}

// Client is a protocol session. Every inbound packet is handled on a single
// dispatch goroutine, one packet at a time; the roster and message log are
// only written there and published to readers as immutable snapshots.
type Client struct {
	transport Transport
	log       *zap.Logger

	queueSize    int
	historyLimit int

	user     atomic.Pointer[protocol.Identity]
	state    atomic.Int32
	users    atomic.Pointer[[]*protocol.Identity]
	messages atomic.Pointer[[]Message]

	pendingMu sync.Mutex
	pending   map[uuid.UUID]*protocol.Identity

	roster   Feed[RosterEvent]
	inbox    Feed[Message]
	acks     Feed[Acknowledgement]
	failures Feed[error]

	sub    *Subscription[Transmission]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logoutOnce sync.Once
}

// NewClient starts a session for user on transport and logs in. The client
// owns the transport from here on and closes it on Logout.
func NewClient(ctx context.Context, user *protocol.Identity, transport Transport, opts ...ClientOption) (*Client, error) {
	if user == nil {
		return nil, errs.New(errs.Argument, "user is nil")
	}
	if transport == nil {
		return nil, errs.New(errs.Argument, "transport is nil")
	}
	if !user.Key().HasPrivate() {
		return nil, errs.New(errs.Argument, "user key cannot decrypt")
	}

	c := &Client{
		transport: transport,
		log:       zap.NewNop(),
		queueSize: DefaultQueueSize,
		pending:   make(map[uuid.UUID]*protocol.Identity),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("user", user.Account()))

	c.user.Store(user)
	c.users.Store(&[]*protocol.Identity{})
	c.messages.Store(&[]Message{})
	c.state.Store(int32(Online))
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.sub = transport.SubscribeReceived(c.queueSize)
	c.wg.Add(1)
	go c.dispatch()

	if err := c.Login(ctx); err != nil {
		c.shutdown()
		return nil, err
	}
	return c, nil
}

// Identity returns the session's own identity.
func (c *Client) Identity() *protocol.Identity {
	return c.user.Load()
}

// State returns the lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Users returns a snapshot of the roster.
func (c *Client) Users() []*protocol.Identity {
	users := *c.users.Load()
	out := make([]*protocol.Identity, len(users))
	copy(out, users)
	return out
}

// Messages returns a snapshot of the inbound message log.
func (c *Client) Messages() []Message {
	msgs := *c.messages.Load()
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Lookup finds a roster entry by canonical string.
func (c *Client) Lookup(canonical string) (*protocol.Identity, bool) {
	for _, u := range *c.users.Load() {
		if u.String() == canonical {
			return u, true
		}
	}
	return nil, false
}

// SubscribeRoster subscribes to roster changes.
func (c *Client) SubscribeRoster(buffer int) *Subscription[RosterEvent] {
	return c.roster.Subscribe(buffer)
}

// SubscribeMessages subscribes to delivered messages.
func (c *Client) SubscribeMessages(buffer int) *Subscription[Message] {
	return c.inbox.Subscribe(buffer)
}

// SubscribeAcks subscribes to delivery acknowledgements for sent messages.
func (c *Client) SubscribeAcks(buffer int) *Subscription[Acknowledgement] {
	return c.acks.Subscribe(buffer)
}

// SubscribeErrors subscribes to delivery failures.
func (c *Client) SubscribeErrors(buffer int) *Subscription[error] {
	return c.failures.Subscribe(buffer)
}

// Login announces the session and asks peers to identify themselves.
func (c *Client) Login(ctx context.Context) error {
	if c.State() != Online {
		return ErrOffline
	}
	self := c.Identity()
	if err := c.transport.Send(ctx, protocol.LoginAnnouncement.Build(self)); err != nil {
		return err
	}
	c.log.Info("logged in")
	return c.transport.Send(ctx, protocol.RequestOnlineUsers.Build(self))
}

// Logout announces departure, closes the transport and destroys the
// private key. The session cannot come back online.
func (c *Client) Logout(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(Online), int32(Offline)) {
		return ErrOffline
	}
	self := c.Identity()
	err := c.transport.Send(ctx, protocol.LogoutAnnouncement.Build(self))
	c.shutdown()
	self.Key().Destroy()
	c.log.Info("logged out")
	return err
}

func (c *Client) shutdown() {
	c.logoutOnce.Do(func() {
		c.state.Store(int32(Offline))
		c.cancel()
		c.roster.Close()
		c.inbox.Close()
		c.acks.Close()
		c.failures.Close()
		if err := c.transport.Close(); err != nil {
			c.log.Warn("failed to close transport", zap.Error(err))
		}
		c.sub.Unsubscribe()
		c.wg.Wait()
	})
}

// Message encrypts payload under recipient's public key and sends it to the
// recipient's address. The returned packet carries the ciphertext.
func (c *Client) Message(ctx context.Context, recipient *protocol.Identity, payload *datauri.DataURI) (*protocol.Packet, error) {
	if recipient == nil {
		return nil, errs.New(errs.Argument, "recipient is nil")
	}
	if payload == nil || payload.Data() == nil {
		return nil, errs.New(errs.Argument, "payload is empty")
	}
	if c.State() != Online {
		return nil, ErrOffline
	}

	cipher, err := recipient.Key().Encrypt(payload.String())
	if err != nil {
		return nil, err
	}
	p := protocol.UserMessage.BuildFor(c.Identity(), recipient, cipher)

	c.pendingMu.Lock()
	c.pending[p.ID()] = recipient
	c.pendingMu.Unlock()

	if err := c.transport.Send(ctx, p); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, p.ID())
		c.pendingMu.Unlock()
		return nil, err
	}
	c.log.Debug("message sent",
		zap.String("id", p.ID().String()),
		zap.String("to", recipient.Account()))
	return p, nil
}

// SendText is Message with a text payload.
func (c *Client) SendText(ctx context.Context, recipient *protocol.Identity, text string) (*protocol.Packet, error) {
	return c.Message(ctx, recipient, datauri.Text(text))
}

// SendFile is Message with the contents of path.
func (c *Client) SendFile(ctx context.Context, recipient *protocol.Identity, path string) (*protocol.Packet, error) {
	payload, err := datauri.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return c.Message(ctx, recipient, payload)
}

// SetNick switches to a copy of the identity carrying nick and announces it.
// Messages addressed to the previous canonical string are no longer accepted.
func (c *Client) SetNick(ctx context.Context, nick string) error {
	if c.State() != Online {
		return ErrOffline
	}
	renamed, err := c.Identity().WithNick(nick)
	if err != nil {
		return err
	}
	c.user.Store(renamed)
	return c.transport.Send(ctx, protocol.NickAnnouncement.Build(renamed))
}

// PendingAcks returns the number of sent messages not yet acknowledged.
func (c *Client) PendingAcks() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}
