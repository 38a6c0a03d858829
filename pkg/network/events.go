package network

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ZentaChain/palladium/pkg/datauri"
	"github.com/ZentaChain/palladium/pkg/protocol"
)

// RosterChange is the kind of a roster event.
type RosterChange int

const (
	UserAdded RosterChange = iota
	UserRemoved
	UserRenamed
)

func (c RosterChange) String() string {
	switch c {
	case UserAdded:
		return "added"
	case UserRemoved:
		return "removed"
	case UserRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// RosterEvent reports a roster mutation.
type RosterEvent struct {
	Change   RosterChange
	User     *protocol.Identity
	Previous *protocol.Identity // set for UserRenamed
}

// Message is a delivered, decrypted user message.
type Message struct {
	Packet   *protocol.Packet // Contents holds the decrypted data URI
	From     *protocol.Identity
	Payload  *datauri.DataURI
	Received time.Time
}

// Acknowledgement reports that a recipient confirmed delivery.
type Acknowledgement struct {
	Ref  uuid.UUID
	From *protocol.Identity
	To   *protocol.Identity // recipient the message was addressed to
}

// DeliveryError is raised when an inbound message cannot be opened.
type DeliveryError struct {
	Packet *protocol.Packet
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver packet %s: %v", e.Packet.ID(), e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
