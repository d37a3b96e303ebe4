// Package transport declares the pub/sub abstraction the connectivity
// shadow monitor and the network state tracker consume. The concrete
// MQTT client binding is an external collaborator outside this
// module's scope (the pack's github.com/eclipse/paho.mqtt.golang would
// sit behind this interface in a deployed build); this package defines
// only the surface the core needs from it, the same "interfaces.go
// only, no client" style the teacher uses for internal/envoy/secrets.go
// against its SDS protocol.
package transport

import "context"

// Message is a single inbound pub/sub delivery.
type Message struct {
	Topic   string
	Payload []byte
	// Duplicate reports the transport's DUP flag, when the wire protocol
	// carries one (MQTT does); the connectivity shadow monitor relies on
	// lastProcessedVersion rather than this flag for idempotence, but a
	// transport that can cheaply report it should.
	Duplicate bool
}

// Handler processes one inbound message. It runs on a worker goroutine
// supplied by the transport, never on the transport's own IO thread.
type Handler func(ctx context.Context, msg Message)

// Transport is the minimum pub/sub surface the core depends on.
type Transport interface {
	// Publish sends payload to topic, blocking until the broker has
	// acknowledged receipt or ctx is done.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topic. The returned unsubscribe
	// function removes it; calling it more than once is a no-op.
	Subscribe(ctx context.Context, topic string, handler Handler) (unsubscribe func(), err error)
}
