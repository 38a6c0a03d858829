// Package protocol implements the palladium LAN presence protocol.
//
// The protocol package defines the node identity, the wire packet and the
// catalog of well-known packet templates exchanged between sessions.
//
// # Protocol Overview
//
// Every node broadcasts UTF-8 JSON packets over UDP. A packet carries:
//   - Id: a random UUID assigned at construction
//   - Timestamp: RFC 3339 UTC instant with nanosecond precision
//   - Source: the sender's canonical identity string
//   - Destination: a broadcast address or a recipient's canonical identity
//   - Contents: a data URI (see package datauri), ciphertext for user messages
//
// # Identities
//
// An identity has the canonical form
//
//	domain\name@machine:nick;publicKey
//
// The canonical string is both the equality key and the address a user
// message is sent to, so a nickname change produces a new address.
//
// # Templates
//
// Presence (sent to 255.255.255.255 with a fixed text payload):
//   - LOGIN / LOGOUT: join and leave announcements
//   - MARCO / POLO: roster request and reply
//   - NICK: nickname change, Source carries the new identity
//   - ROGER WILCO: delivery acknowledgment, "ref" metadata names the packet
//
// Messaging:
//   - MESSAGE: addressed to the recipient's canonical identity, Contents
//     encrypted under the recipient's public key
//
// Channel and invite templates are reserved and not handled by sessions.
package protocol
