package protocol

import (
	"testing"

	"github.com/ZentaChain/palladium/pkg/datauri"
)

func TestTemplateSentinels(t *testing.T) {
	tests := []struct {
		template Template
		contents string
	}{
		{LoginAnnouncement, "LOGIN"},
		{LogoutAnnouncement, "LOGOUT"},
		{MessageReceived, "ROGER WILCO"},
		{NickAnnouncement, "NICK"},
		{RequestOnlineUsers, "MARCO"},
		{ResponseOnlineUsers, "POLO"},
	}

	for _, tt := range tests {
		t.Run(tt.template.Name, func(t *testing.T) {
			if tt.template.Destination != BroadcastAddress {
				t.Errorf("Destination = %q, want %q", tt.template.Destination, BroadcastAddress)
			}
			p := tt.template.Build(nil)
			if !tt.template.Matches(p) {
				t.Errorf("Matches(Build()) = false")
			}
			d, err := p.Payload()
			if err != nil {
				t.Fatalf("Payload() error = %v", err)
			}
			if text, _ := d.Text(); text != tt.contents {
				t.Errorf("contents = %q, want %q", text, tt.contents)
			}

			for _, other := range Templates {
				if other.Name != tt.template.Name && other.Matches(p) {
					t.Errorf("%s template matched a %s packet", other.Name, tt.template.Name)
				}
			}
		})
	}
}

func TestTemplateMatchesRejects(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
	}{
		{"nil", nil},
		{"wrong destination", NewPacket(nil, "10.0.0.1", datauri.Text("LOGIN").String())},
		{"wrong text", NewPacket(nil, BroadcastAddress, datauri.Text("LOGIN!").String())},
		{"binary", NewPacket(nil, BroadcastAddress, datauri.Bytes([]byte("LOGIN")).String())},
		{"not a data uri", NewPacket(nil, BroadcastAddress, "LOGIN")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if LoginAnnouncement.Matches(tt.packet) {
				t.Error("Matches() = true, want false")
			}
		})
	}
}

func TestUserMessageAddress(t *testing.T) {
	alice := newTestIdentity(t, "alice", "")
	bob := newTestIdentity(t, "bob", "")

	p := UserMessage.BuildFor(alice, bob, "cipher")
	if p.Destination != bob.String() {
		t.Errorf("Destination = %q, want %q", p.Destination, bob.String())
	}
	if !UserMessage.MatchesRecipient(p, bob) {
		t.Error("MatchesRecipient(bob) = false")
	}
	if UserMessage.MatchesRecipient(p, alice) {
		t.Error("MatchesRecipient(alice) = true")
	}
	if UserMessage.Matches(p) {
		t.Error("Matches() must not accept addressed templates")
	}
}

func TestAcknowledge(t *testing.T) {
	alice := newTestIdentity(t, "alice", "")
	delivered := NewPacket(alice, "x", "y")

	ack := Acknowledge(alice, delivered)
	if !MessageReceived.Matches(ack) {
		t.Fatal("MessageReceived.Matches(ack) = false")
	}
	ref, ok := AckRef(ack)
	if !ok || ref != delivered.ID() {
		t.Errorf("AckRef() = %v, %v, want %v", ref, ok, delivered.ID())
	}

	if _, ok := AckRef(MessageReceived.Build(alice)); ok {
		t.Error("AckRef() = ok for acknowledgment without ref")
	}
	if _, ok := AckRef(LoginAnnouncement.Build(alice)); ok {
		t.Error("AckRef() = ok for login packet")
	}
}

func TestReservedTemplates(t *testing.T) {
	for _, tmpl := range []Template{ChannelMessage, InviteMessage} {
		if !tmpl.Reserved {
			t.Errorf("%s.Reserved = false", tmpl.Name)
		}
	}
}
