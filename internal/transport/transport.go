// Package transport names the external MMTP collaborator (spec §1, §6):
// the mutually-authenticated TLS relay-to-relay wire codec itself is out of
// scope. The core only depends on the contract below.
package transport

import (
	"context"

	"miniond/internal/packet"
)

// Sender is what OutgoingQueue invokes to deliver a per-peer batch.
// Implementations own connection setup, authentication, and the MMTP wire
// format; a timeout or connection refusal should surface as the
// corresponding errs.Kind (TransportTimeout / TransportRefused) so
// OutgoingQueue can classify retriability, and peer-rejected authentication
// as TransportPermanent.
type Sender interface {
	Send(ctx context.Context, peer packet.RelayEndpoint, packets []packet.Packet) error
}

// KeyContext is the certificate and key a transport's listener presents.
// Nothing in this module implements it or refreshes it on key rotation:
// the Ring's live-key changes are not pushed to any transport.
type KeyContext interface {
	MMTPCert() []byte
	MMTPKey() []byte
}
