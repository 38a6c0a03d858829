package network

import (
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/palladium/pkg/datauri"
	"github.com/ZentaChain/palladium/pkg/errs"
	"github.com/ZentaChain/palladium/pkg/protocol"
)

// dispatch handles received packets in order until the transport closes.
func (c *Client) dispatch() {
	defer c.wg.Done()

	for tx := range c.sub.C {
		if !tx.Succeeded() || tx.Packet == nil {
			c.log.Debug("ignoring failed receive", zap.Stringer("status", tx.Status), zap.Error(tx.Err))
			continue
		}
		if c.State() != Online {
			continue
		}
		c.handle(tx.Packet)
	}
}

func (c *Client) handle(p *protocol.Packet) {
	self := c.Identity()

	switch {
	case protocol.LoginAnnouncement.Matches(p):
		c.addUser(p.Source)

	case protocol.LogoutAnnouncement.Matches(p):
		c.removeUser(p.Source)

	case protocol.RequestOnlineUsers.Matches(p):
		if p.Source == nil || p.Source.Equal(self) {
			return
		}
		c.addUser(p.Source)
		c.send(protocol.ResponseOnlineUsers.Build(self))

	case protocol.ResponseOnlineUsers.Matches(p):
		c.addUser(p.Source)

	case protocol.NickAnnouncement.Matches(p):
		c.renameUser(p.Source)

	case protocol.MessageReceived.Matches(p):
		c.handleAck(p)

	case protocol.UserMessage.MatchesRecipient(p, self):
		c.deliver(self, p)
	}
}

func (c *Client) send(p *protocol.Packet) {
	if err := c.transport.Send(c.ctx, p); err != nil {
		c.log.Warn("failed to send reply", zap.Error(err))
	}
}

// ===== ROSTER =====

func (c *Client) addUser(user *protocol.Identity) {
	if user == nil {
		return
	}
	users := *c.users.Load()
	for _, u := range users {
		if u.Equal(user) {
			return
		}
	}

	next := make([]*protocol.Identity, len(users), len(users)+1)
	copy(next, users)
	next = append(next, user)
	c.users.Store(&next)

	c.log.Info("user online", zap.String("peer", user.Account()), zap.String("nick", user.Nick()))
	c.roster.Publish(RosterEvent{Change: UserAdded, User: user})
}

func (c *Client) removeUser(user *protocol.Identity) {
	if user == nil {
		return
	}
	users := *c.users.Load()
	next := make([]*protocol.Identity, 0, len(users))
	var removed *protocol.Identity
	for _, u := range users {
		if removed == nil && u.Equal(user) {
			removed = u
			continue
		}
		next = append(next, u)
	}
	if removed == nil {
		return
	}
	c.users.Store(&next)

	c.log.Info("user offline", zap.String("peer", user.Account()))
	c.roster.Publish(RosterEvent{Change: UserRemoved, User: removed})
}

func (c *Client) renameUser(user *protocol.Identity) {
	if user == nil {
		return
	}
	users := *c.users.Load()
	for i, u := range users {
		if !u.SameEndpoint(user) {
			continue
		}
		if u.Equal(user) {
			return
		}
		next := make([]*protocol.Identity, len(users))
		copy(next, users)
		next[i] = user
		c.users.Store(&next)

		c.log.Info("user renamed", zap.String("peer", user.Account()), zap.String("nick", user.Nick()))
		c.roster.Publish(RosterEvent{Change: UserRenamed, User: user, Previous: u})
		return
	}
	c.addUser(user)
}

// ===== MESSAGES =====

// deliver opens a message addressed to self. A message that cannot be
// decrypted or parsed is reported on the error feed and not acknowledged.
func (c *Client) deliver(self *protocol.Identity, p *protocol.Packet) {
	plain, err := self.Key().Decrypt(p.Contents)
	if err != nil {
		c.fail(p, err)
		return
	}
	payload, err := datauri.Parse(plain)
	if err != nil {
		c.fail(p, err)
		return
	}

	msg := Message{
		Packet:   p.WithContents(plain),
		From:     p.Source,
		Payload:  payload,
		Received: time.Now(),
	}

	msgs := *c.messages.Load()
	start := 0
	if c.historyLimit > 0 && len(msgs) >= c.historyLimit {
		start = len(msgs) - c.historyLimit + 1
	}
	next := make([]Message, len(msgs)-start, len(msgs)-start+1)
	copy(next, msgs[start:])
	next = append(next, msg)
	c.messages.Store(&next)

	c.log.Info("message received",
		zap.String("id", p.ID().String()),
		zap.String("from", accountOf(p.Source)),
		zap.Stringer("type", payload.Type))
	c.inbox.Publish(msg)

	c.send(protocol.Acknowledge(self, p))
}

func (c *Client) fail(p *protocol.Packet, err error) {
	c.log.Warn("failed to open message",
		zap.String("id", p.ID().String()),
		zap.String("from", accountOf(p.Source)),
		zap.Stringer("kind", errs.KindOf(err)),
		zap.Error(err))
	c.failures.Publish(&DeliveryError{Packet: p, Err: err})
}

func (c *Client) handleAck(p *protocol.Packet) {
	ref, ok := protocol.AckRef(p)
	if !ok {
		return
	}

	c.pendingMu.Lock()
	recipient, ok := c.pending[ref]
	if ok && recipient.SameEndpoint(p.Source) {
		delete(c.pending, ref)
	} else {
		ok = false
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	c.log.Debug("message acknowledged", zap.String("id", ref.String()), zap.String("by", accountOf(p.Source)))
	c.acks.Publish(Acknowledgement{Ref: ref, From: p.Source, To: recipient})
}

func accountOf(id *protocol.Identity) string {
	if id == nil {
		return "unknown"
	}
	return id.Account()
}
