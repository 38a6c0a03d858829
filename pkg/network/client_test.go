package network

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/palladium/pkg/crypto"
	"github.com/ZentaChain/palladium/pkg/datauri"
	"github.com/ZentaChain/palladium/pkg/errs"
	"github.com/ZentaChain/palladium/pkg/protocol"
)

// memHub delivers every packet sent by one member to all members,
// including the sender, through a JSON round trip.
type memHub struct {
	mu    sync.Mutex
	nodes []*memTransport
}

type memTransport struct {
	hub      *memHub
	received Feed[Transmission]
	closed   atomic.Bool

	mu   sync.Mutex
	sent []*protocol.Packet
}

func (h *memHub) join() *memTransport {
	m := &memTransport{hub: h}
	h.mu.Lock()
	h.nodes = append(h.nodes, m)
	h.mu.Unlock()
	return m
}

func (h *memHub) deliver(p *protocol.Packet) error {
	data, err := p.ToJSON()
	if err != nil {
		return err
	}
	h.mu.Lock()
	nodes := append([]*memTransport(nil), h.nodes...)
	h.mu.Unlock()

	for _, n := range nodes {
		if n.closed.Load() {
			continue
		}
		q, err := protocol.FromJSON(data)
		if err != nil {
			return err
		}
		n.received.Publish(Transmission{Packet: q, Status: Received | Success})
	}
	return nil
}

func (m *memTransport) Send(_ context.Context, p *protocol.Packet) error {
	if m.closed.Load() {
		return errs.Wrap(errs.Transport, "send", ErrEngineClosed)
	}
	m.mu.Lock()
	m.sent = append(m.sent, p)
	m.mu.Unlock()
	return m.hub.deliver(p)
}

func (m *memTransport) SubscribeReceived(buffer int) *Subscription[Transmission] {
	return m.received.Subscribe(buffer)
}

func (m *memTransport) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.received.Close()
	}
	return nil
}

func (m *memTransport) sentMatching(tmpl protocol.Template) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.sent {
		if tmpl.Matches(p) {
			n++
		}
	}
	return n
}

func newIdentity(t *testing.T, name string) *protocol.Identity {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	id, err := protocol.NewIdentity("LAN", name, name+"-pc", "", key)
	require.NoError(t, err)
	return id
}

func newSession(t *testing.T, transport Transport, name string) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), newIdentity(t, name), transport)
	require.NoError(t, err)
	t.Cleanup(func() { c.Logout(context.Background()) })
	return c
}

func hasUser(c *Client, id *protocol.Identity) bool {
	for _, u := range c.Users() {
		if u.Equal(id) {
			return true
		}
	}
	return false
}

func countUser(c *Client, id *protocol.Identity) int {
	n := 0
	for _, u := range c.Users() {
		if u.Equal(id) {
			n++
		}
	}
	return n
}

func TestClientLoginBuildsRoster(t *testing.T) {
	hub := &memHub{}
	a := newSession(t, hub.join(), "alice")
	b := newSession(t, hub.join(), "bob")

	require.Eventually(t, func() bool {
		return hasUser(a, b.Identity()) && hasUser(a, a.Identity())
	}, waitFor, 10*time.Millisecond, "alice sees bob and herself")

	// bob learns about alice through her POLO reply
	require.Eventually(t, func() bool {
		return hasUser(b, a.Identity()) && hasUser(b, b.Identity())
	}, waitFor, 10*time.Millisecond, "bob sees alice")

	assert.Equal(t, Online, a.State())
}

func TestClientDuplicateLoginIsIdempotent(t *testing.T) {
	hub := &memHub{}
	a := newSession(t, hub.join(), "alice")
	bob := newIdentity(t, "bob")

	require.NoError(t, hub.deliver(protocol.LoginAnnouncement.Build(bob)))
	require.NoError(t, hub.deliver(protocol.LoginAnnouncement.Build(bob)))
	require.NoError(t, hub.deliver(protocol.ResponseOnlineUsers.Build(bob)))

	require.Eventually(t, func() bool { return hasUser(a, bob) }, waitFor, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, countUser(a, bob))
}

func TestClientMessageDeliveryAndAck(t *testing.T) {
	hub := &memHub{}
	ta := hub.join()
	a := newSession(t, ta, "alice")
	b := newSession(t, hub.join(), "bob")

	acks := a.SubscribeAcks(4)
	observed := ta.SubscribeReceived(64)

	p, err := a.SendText(context.Background(), b.Identity(), "Hello world")
	require.NoError(t, err)
	assert.NotContains(t, p.Contents, "Hello")

	select {
	case ack := <-acks.C:
		assert.Equal(t, p.ID(), ack.Ref)
		assert.True(t, ack.From.SameEndpoint(b.Identity()))
	case <-time.After(waitFor):
		t.Fatal("no acknowledgement")
	}

	msgs := b.Messages()
	require.Len(t, msgs, 1)
	text, ok := msgs[0].Payload.Text()
	require.True(t, ok)
	assert.Equal(t, "Hello world", text)
	assert.True(t, msgs[0].From.Equal(a.Identity()))
	assert.Equal(t, p.ID(), msgs[0].Packet.ID())

	time.Sleep(50 * time.Millisecond)
	acksSeen := 0
	for len(observed.C) > 0 {
		tx := <-observed.C
		if ref, ok := protocol.AckRef(tx.Packet); ok && ref == p.ID() {
			acksSeen++
		}
	}
	assert.Equal(t, 1, acksSeen)
	assert.Equal(t, 0, a.PendingAcks())
	assert.Empty(t, a.Messages())
}

func TestClientMessageToSelf(t *testing.T) {
	hub := &memHub{}
	a := newSession(t, hub.join(), "alice")

	require.Eventually(t, func() bool { return len(a.Users()) == 1 }, waitFor, 10*time.Millisecond)

	_, err := a.SendText(context.Background(), a.Users()[0], "note to self")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(a.Messages()) == 1 }, waitFor, 10*time.Millisecond)
	text, _ := a.Messages()[0].Payload.Text()
	assert.Equal(t, "note to self", text)
}

func TestClientUndecryptableMessage(t *testing.T) {
	hub := &memHub{}
	a := newSession(t, hub.join(), "alice")
	b := newSession(t, hub.join(), "bob")
	tc := hub.join()
	c := newSession(t, tc, "carol")

	failures := c.SubscribeErrors(4)

	p, err := a.SendText(context.Background(), b.Identity(), "for bob only")
	require.NoError(t, err)

	// carol holds the ciphertext but not bob's key
	_, err = c.Identity().Key().Decrypt(p.Contents)
	assert.True(t, errs.IsKind(err, errs.Crypto))

	// the same ciphertext addressed to carol surfaces as a delivery error
	forged := protocol.UserMessage.BuildFor(a.Identity(), c.Identity(), p.Contents)
	require.NoError(t, hub.deliver(forged))

	select {
	case err := <-failures.C:
		var de *DeliveryError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, forged.ID(), de.Packet.ID())
		assert.True(t, errs.IsKind(err, errs.Crypto))
	case <-time.After(waitFor):
		t.Fatal("no delivery error")
	}

	assert.Empty(t, c.Messages())
	assert.Equal(t, 0, tc.sentMatching(protocol.MessageReceived))
}

func TestClientMessageArguments(t *testing.T) {
	hub := &memHub{}
	a := newSession(t, hub.join(), "alice")

	_, err := a.Message(context.Background(), nil, datauri.Text("x"))
	assert.True(t, errs.IsKind(err, errs.Argument))

	_, err = a.Message(context.Background(), a.Identity(), nil)
	assert.True(t, errs.IsKind(err, errs.Argument))

	_, err = a.Message(context.Background(), a.Identity(), &datauri.DataURI{})
	assert.True(t, errs.IsKind(err, errs.Argument))
	assert.Equal(t, 0, a.PendingAcks())
	assert.Empty(t, a.Messages())
}

func TestClientLogout(t *testing.T) {
	hub := &memHub{}
	a := newSession(t, hub.join(), "alice")
	b, err := NewClient(context.Background(), newIdentity(t, "bob"), hub.join())
	require.NoError(t, err)

	roster := a.SubscribeRoster(16)
	require.Eventually(t, func() bool { return hasUser(a, b.Identity()) }, waitFor, 10*time.Millisecond)

	require.NoError(t, b.Logout(context.Background()))
	require.Eventually(t, func() bool { return !hasUser(a, b.Identity()) }, waitFor, 10*time.Millisecond)

	removed := false
	for !removed {
		select {
		case ev := <-roster.C:
			removed = ev.Change == UserRemoved && ev.User.Equal(b.Identity())
		case <-time.After(waitFor):
			t.Fatal("no removal event")
		}
	}

	assert.Equal(t, Offline, b.State())
	assert.False(t, b.Identity().Key().HasPrivate())
	assert.ErrorIs(t, b.Logout(context.Background()), ErrOffline)
	_, err = b.SendText(context.Background(), a.Identity(), "hi")
	assert.ErrorIs(t, err, ErrOffline)
	assert.ErrorIs(t, b.Login(context.Background()), ErrOffline)
}

func TestClientSetNick(t *testing.T) {
	hub := &memHub{}
	a := newSession(t, hub.join(), "alice")
	b := newSession(t, hub.join(), "bob")

	require.Eventually(t, func() bool { return hasUser(b, a.Identity()) }, waitFor, 10*time.Millisecond)
	roster := b.SubscribeRoster(16)
	before := a.Identity()

	require.NoError(t, a.SetNick(context.Background(), "ally"))
	assert.Equal(t, "ally", a.Identity().Nick())

	require.Eventually(t, func() bool { return hasUser(b, a.Identity()) }, waitFor, 10*time.Millisecond)
	assert.False(t, hasUser(b, before))

	for {
		select {
		case ev := <-roster.C:
			if ev.Change != UserRenamed {
				continue
			}
			assert.Equal(t, "ally", ev.User.Nick())
			assert.True(t, ev.Previous.Equal(before))
			return
		case <-time.After(waitFor):
			t.Fatal("no rename event")
		}
	}
}

func TestClientHistoryLimit(t *testing.T) {
	hub := &memHub{}
	a, err := NewClient(context.Background(), newIdentity(t, "alice"), hub.join(), WithHistoryLimit(2))
	require.NoError(t, err)
	defer a.Logout(context.Background())

	for _, text := range []string{"one", "two", "three"} {
		_, err := a.SendText(context.Background(), a.Identity(), text)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		msgs := a.Messages()
		if len(msgs) != 2 {
			return false
		}
		last, _ := msgs[1].Payload.Text()
		return last == "three"
	}, waitFor, 10*time.Millisecond)
}

func TestSessionsOverUDP(t *testing.T) {
	cfg := loopbackConfig(t)

	a := newSession(t, newTestEngine(t, cfg), "alice")
	b := newSession(t, newTestEngine(t, cfg), "bob")

	require.Eventually(t, func() bool { return hasUser(a, b.Identity()) }, waitFor, 10*time.Millisecond)

	src := filepath.Join(t.TempDir(), "HelloWorld.txt")
	content := []byte("Hello world from a file\n")
	require.NoError(t, os.WriteFile(src, content, 0644))

	inbox := b.SubscribeMessages(4)
	_, err := a.SendFile(context.Background(), b.Identity(), src)
	require.NoError(t, err)

	var msg Message
	select {
	case msg = <-inbox.C:
	case <-time.After(waitFor):
		t.Fatal("file message not delivered")
	}

	dir := t.TempDir()
	ok, err := msg.Payload.WriteFile(dir)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := os.ReadFile(filepath.Join(dir, "HelloWorld.txt"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}
