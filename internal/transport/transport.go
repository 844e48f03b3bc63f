// Package transport moves opaque envelopes between public keys over one or
// more relays. Delivery may be duplicated, reordered or lost; callers
// correlate responses themselves.
package transport

import (
	"context"
)

// Handler receives one raw envelope. It may be called concurrently with
// Publish and from several relays at once.
type Handler func(envelope []byte)

type Transport interface {
	// Publish fails with a TRANSPORT_ERROR when no relay accepted the envelope.
	Publish(ctx context.Context, recipient string, envelope []byte) error
	// Subscribe never fails. It registers handler for envelopes addressed to
	// own, including on relays that connect later.
	Subscribe(own string, handler Handler) (unsubscribe func())
}

// Relay is a single connection to a store-and-forward relay.
type Relay interface {
	Transport
	URL() string
	Connected() bool
}

// Runner is implemented by relays that maintain their own connection.
type Runner interface {
	Run(ctx context.Context)
}
