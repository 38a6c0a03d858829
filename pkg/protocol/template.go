package protocol

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ZentaChain/palladium/pkg/datauri"
)

// BroadcastAddress is the destination of presence packets.
const BroadcastAddress = "255.255.255.255"

// RefKey is the metadata key an acknowledgment uses to name the acknowledged packet.
const RefKey = "ref"

// Template pairs a destination pattern with a sentinel contents string.
// A destination containing %s is filled with a recipient's canonical identity.
type Template struct {
	Name        string
	Destination string
	Contents    string
	Reserved    bool // declared but not handled by sessions
}

// Well-known templates
var (
	LoginAnnouncement   = Template{Name: "login", Destination: BroadcastAddress, Contents: "LOGIN"}
	LogoutAnnouncement  = Template{Name: "logout", Destination: BroadcastAddress, Contents: "LOGOUT"}
	MessageReceived     = Template{Name: "ack", Destination: BroadcastAddress, Contents: "ROGER WILCO"}
	NickAnnouncement    = Template{Name: "nick", Destination: BroadcastAddress, Contents: "NICK"}
	RequestOnlineUsers  = Template{Name: "marco", Destination: BroadcastAddress, Contents: "MARCO"}
	ResponseOnlineUsers = Template{Name: "polo", Destination: BroadcastAddress, Contents: "POLO"}
	UserMessage         = Template{Name: "message", Destination: "%s", Contents: "MESSAGE"}

	ChannelMessage = Template{Name: "channel", Destination: "%s", Contents: "CHANNEL", Reserved: true}
	InviteMessage  = Template{Name: "invite", Destination: "%s", Contents: "INVITE", Reserved: true}
)

// Templates lists the catalog in a stable order.
var Templates = []Template{
	LoginAnnouncement,
	LogoutAnnouncement,
	MessageReceived,
	NickAnnouncement,
	RequestOnlineUsers,
	ResponseOnlineUsers,
	UserMessage,
	ChannelMessage,
	InviteMessage,
}

// Addressed reports whether the destination is filled per recipient.
func (t Template) Addressed() bool {
	return strings.Contains(t.Destination, "%s")
}

// Address returns the destination for recipient.
func (t Template) Address(recipient *Identity) string {
	if !t.Addressed() {
		return t.Destination
	}
	return fmt.Sprintf(t.Destination, recipient.String())
}

// Build creates a broadcast packet from source carrying the sentinel text.
func (t Template) Build(source *Identity) *Packet {
	return NewPacket(source, t.Destination, datauri.Text(t.Contents).String())
}

// BuildFor creates a packet addressed to recipient with the given contents.
func (t Template) BuildFor(source, recipient *Identity, contents string) *Packet {
	return NewPacket(source, t.Address(recipient), contents)
}

// Matches reports whether p is a broadcast of this template: the destination
// is equal and the contents decode to the sentinel text. Metadata is ignored.
func (t Template) Matches(p *Packet) bool {
	if p == nil || t.Addressed() || p.Destination != t.Destination {
		return false
	}
	d, ok := datauri.TryParse(p.Contents)
	if !ok {
		return false
	}
	text, ok := d.Text()
	return ok && text == t.Contents
}

// MatchesRecipient reports whether p is addressed to recipient under this template.
func (t Template) MatchesRecipient(p *Packet, recipient *Identity) bool {
	return p != nil && recipient != nil && t.Addressed() && p.Destination == t.Address(recipient)
}

// Acknowledge builds a MessageReceived packet referencing the delivered packet.
func Acknowledge(source *Identity, delivered *Packet) *Packet {
	d := datauri.Text(MessageReceived.Contents)
	d.Metadata.Set(RefKey, delivered.ID().String())
	return NewPacket(source, MessageReceived.Destination, d.String())
}

// AckRef returns the id an acknowledgment packet refers to.
func AckRef(p *Packet) (uuid.UUID, bool) {
	if !MessageReceived.Matches(p) {
		return uuid.Nil, false
	}
	d, ok := datauri.TryParse(p.Contents)
	if !ok {
		return uuid.Nil, false
	}
	ref, ok := d.Metadata.Get(RefKey)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
