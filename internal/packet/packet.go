// Package packet defines the wire-level data model shared across the mix
// pipeline (spec §3) and the PacketHandler contract (spec §4.3). The onion
// cryptography itself is out of scope per spec §1; this package only names
// the shapes the core routes on.
package packet

import (
	"context"
	"encoding/json"
	"fmt"
)

// Packet is an opaque onion packet; only a PacketHandler interprets it.
type Packet []byte

// ExitType is the 16-bit wire code identifying a message's delivery
// mechanism, per spec §3.
type ExitType uint16

const (
	ExitDrop     ExitType = 0x0000
	ExitFwd      ExitType = 0x0001
	ExitSwapFwd  ExitType = 0x0002
	ExitSMTP     ExitType = 0x0100
	ExitMBOX     ExitType = 0x0101
)

// RelayEndpoint identifies a next hop. Equality of all three fields defines
// an OutgoingQueue batching bucket (spec §3).
type RelayEndpoint struct {
	IP             string
	Port           int
	KeyFingerprint string
}

// Kind tags which variant of RoutingDecision is populated.
type Kind int

const (
	KindDrop Kind = iota
	KindRelay
	KindExit
)

// RoutingDecision is the tagged output of unwrapping one onion layer (spec
// §3). Exactly one of the variant-specific field groups is meaningful,
// selected by Kind.
type RoutingDecision struct {
	Kind Kind

	// Peer and Inner are set for KindRelay; the fields below them for
	// KindExit. Relay() leaves ExitType at its zero value, so a relay
	// decision carries no FWD/SWAP_FWD distinction.
	Peer  RelayEndpoint
	Inner Packet

	ExitType ExitType
	ExitInfo []byte
	AppKey   []byte
	Tag      []byte // nil means "no tag"
	Payload  []byte
}

// Relay builds a forwarding decision.
func Relay(peer RelayEndpoint, inner Packet) RoutingDecision {
	return RoutingDecision{Kind: KindRelay, Peer: peer, Inner: inner}
}

// Exit builds an exit-delivery decision.
func Exit(exitType ExitType, exitInfo, appKey, tag, payload []byte) RoutingDecision {
	return RoutingDecision{
		Kind:     KindExit,
		ExitType: exitType,
		ExitInfo: exitInfo,
		AppKey:   appKey,
		Tag:      tag,
		Payload:  payload,
	}
}

// Drop builds a padding decision; MixPool discards these without routing
// them anywhere (spec §4.4, scenario S1).
func Drop() RoutingDecision {
	return RoutingDecision{Kind: KindDrop}
}

// wireDecision mirrors RoutingDecision with json-friendly field names; it
// is the form MixPool's durable storage actually holds, since the mix
// pool's payload is "whatever the pool accepted", not a wire packet
// governed by spec §6's queue-entry header.
type wireDecision struct {
	Kind     Kind
	PeerIP   string
	PeerPort int
	PeerFP   string
	Inner    []byte
	ExitType ExitType
	ExitInfo []byte
	AppKey   []byte
	Tag      []byte
	HasTag   bool
	Payload  []byte
}

// Encode serializes d for storage in the MixPool's durable queue.
func (d RoutingDecision) Encode() ([]byte, error) {
	w := wireDecision{
		Kind:     d.Kind,
		PeerIP:   d.Peer.IP,
		PeerPort: d.Peer.Port,
		PeerFP:   d.Peer.KeyFingerprint,
		Inner:    d.Inner,
		ExitType: d.ExitType,
		ExitInfo: d.ExitInfo,
		AppKey:   d.AppKey,
		Tag:      d.Tag,
		HasTag:   d.Tag != nil,
		Payload:  d.Payload,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding routing decision: %w", err)
	}
	return data, nil
}

// DecodeRoutingDecision reverses Encode.
func DecodeRoutingDecision(data []byte) (RoutingDecision, error) {
	var w wireDecision
	if err := json.Unmarshal(data, &w); err != nil {
		return RoutingDecision{}, fmt.Errorf("decoding routing decision: %w", err)
	}
	tag := w.Tag
	if !w.HasTag {
		tag = nil
	}
	return RoutingDecision{
		Kind:     w.Kind,
		Peer:     RelayEndpoint{IP: w.PeerIP, Port: w.PeerPort, KeyFingerprint: w.PeerFP},
		Inner:    w.Inner,
		ExitType: w.ExitType,
		ExitInfo: w.ExitInfo,
		AppKey:   w.AppKey,
		Tag:      tag,
		Payload:  w.Payload,
	}, nil
}

// Handler is the external PacketHandler collaborator (spec §4.3): it
// unwraps one onion layer using the live KeySet's packet_key and hash log,
// returning nil to signal padding that should be dropped before a
// RoutingDecision is even built, or one of the §7 error kinds.
type Handler interface {
	Process(ctx context.Context, pkt Packet) (*RoutingDecision, error)
}
