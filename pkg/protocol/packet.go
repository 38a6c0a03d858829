package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ZentaChain/palladium/pkg/datauri"
	"github.com/ZentaChain/palladium/pkg/errs"
)

// TimestampLayout is the wire encoding of Packet timestamps.
const TimestampLayout = time.RFC3339Nano

// Packet is the wire envelope. Id and Timestamp are fixed at construction.
type Packet struct {
	id        uuid.UUID
	timestamp time.Time

	Source      *Identity // nil when absent or unparsable
	Destination string
	Contents    string // data URI, or ciphertext of one
}

// wirePacket is the JSON shape of a Packet.
type wirePacket struct {
	Id          string `json:"Id"`
	Timestamp   string `json:"Timestamp"`
	Source      string `json:"Source"`
	Destination string `json:"Destination"`
	Contents    string `json:"Contents"`
}

// NewPacket creates a packet with a fresh id and the current time.
func NewPacket(source *Identity, destination, contents string) *Packet {
	return &Packet{
		id:          uuid.New(),
		timestamp:   time.Now().UTC().Round(0),
		Source:      source,
		Destination: destination,
		Contents:    contents,
	}
}

// ID returns the packet id.
func (p *Packet) ID() uuid.UUID {
	return p.id
}

// Timestamp returns the construction time in UTC.
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// Payload parses Contents as a data URI.
func (p *Packet) Payload() (*datauri.DataURI, error) {
	return datauri.Parse(p.Contents)
}

// WithContents returns a copy with the same id and timestamp carrying contents.
func (p *Packet) WithContents(contents string) *Packet {
	c := *p
	c.Contents = contents
	return &c
}

// ToJSON encodes the packet in its wire form.
func (p *Packet) ToJSON() ([]byte, error) {
	w := wirePacket{
		Id:          p.id.String(),
		Timestamp:   p.timestamp.UTC().Format(TimestampLayout),
		Source:      p.Source.String(),
		Destination: p.Destination,
		Contents:    p.Contents,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "failed to encode packet", err)
	}
	return data, nil
}

// FromJSON decodes a wire packet. Id and Timestamp are required; a Source
// that does not parse as an identity yields a nil Source.
func FromJSON(data []byte) (*Packet, error) {
	var w wirePacket
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errs.Wrap(errs.Serialization, "failed to decode packet", err)
	}
	if w.Id == "" {
		return nil, errs.New(errs.Serialization, "packet has no Id")
	}
	if w.Timestamp == "" {
		return nil, errs.New(errs.Serialization, "packet has no Timestamp")
	}

	id, err := uuid.Parse(w.Id)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "malformed packet Id", err)
	}
	ts, err := time.Parse(TimestampLayout, w.Timestamp)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "malformed packet Timestamp", err)
	}

	p := &Packet{
		id:          id,
		timestamp:   ts.UTC(),
		Destination: w.Destination,
		Contents:    w.Contents,
	}
	if w.Source != "" {
		p.Source, _ = TryParseIdentity(w.Source)
	}
	return p, nil
}

// TryParse is FromJSON without the error.
func TryParse(data []byte) (*Packet, bool) {
	p, err := FromJSON(data)
	if err != nil {
		return nil, false
	}
	return p, true
}
