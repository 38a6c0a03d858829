package network

import (
	"net"
	"strings"

	"github.com/ZentaChain/palladium/pkg/protocol"
)

// Status is a bit-set describing a transmission. Fail is the zero value and
// is assumed until an operation completes.
type Status uint8

const (
	Fail      Status = 0
	Success   Status = 1 << 0
	Receiving Status = 1 << 1
	Received  Status = 1 << 2
	Sending   Status = 1 << 3
	Sent      Status = 1 << 4
)

var statusNames = []struct {
	flag Status
	name string
}{
	{Success, "Success"},
	{Receiving, "Receiving"},
	{Received, "Received"},
	{Sending, "Sending"},
	{Sent, "Sent"},
}

// Has reports whether every bit of flag is set.
func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

// Failed reports whether Success is unset.
func (s Status) Failed() bool {
	return s&Success == 0
}

func (s Status) String() string {
	parts := make([]string, 0, 3)
	for _, n := range statusNames {
		if s&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if s.Failed() {
		parts = append(parts, "Fail")
	}
	return strings.Join(parts, "|")
}

// Transmission reports the outcome of one send or one receive.
type Transmission struct {
	Packet *protocol.Packet // nil when a datagram did not parse
	Status Status
	Err    error
	Remote net.Addr
}

// Succeeded reports whether the transmission completed.
func (t Transmission) Succeeded() bool {
	return !t.Status.Failed()
}
