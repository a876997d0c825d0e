package transport

// Capabilities describes what a transport offers a viewbridge channel.
type Capabilities struct {
	// Name is the transport name as used in PUBSUB_SYSTEM.
	Name string

	// CrossProcess is true when host and view may run in different
	// processes. The in-memory channel transport is the only one that is not.
	CrossProcess bool

	// SupportsOrdering is true when messages on one topic arrive in publish
	// order. Call replies carry requestIds, so only legacy replies and
	// interactivity updates depend on it.
	SupportsOrdering bool

	// SupportsAck indicates explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates negative acknowledgment with redelivery.
	SupportsNack bool

	// PreservesMetadata is true when message metadata survives the broker.
	// Origin checks need it; without it every message counts as foreign.
	PreservesMetadata bool

	// MaxMessageSize is the maximum payload in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of size bytes can be sent.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the bundled transports.
var (
	ChannelCapabilities = Capabilities{
		Name:              "channel",
		SupportsOrdering:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		PreservesMetadata: true,
	}

	KafkaCapabilities = Capabilities{
		Name:              "kafka",
		CrossProcess:      true,
		SupportsOrdering:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		PreservesMetadata: true,
		MaxMessageSize:    1024 * 1024,
	}

	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		CrossProcess:      true,
		SupportsOrdering:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		PreservesMetadata: true,
		MaxMessageSize:    128 * 1024 * 1024,
	}

	NATSCapabilities = Capabilities{
		Name:              "nats",
		CrossProcess:      true,
		SupportsOrdering:  true,
		SupportsAck:       true,
		PreservesMetadata: true,
		MaxMessageSize:    1024 * 1024,
	}

	HTTPCapabilities = Capabilities{
		Name:              "http",
		CrossProcess:      true,
		SupportsAck:       true,
		SupportsNack:      true,
		PreservesMetadata: true,
	}

	AWSCapabilities = Capabilities{
		Name:              "aws",
		CrossProcess:      true,
		SupportsAck:       true,
		SupportsNack:      true,
		PreservesMetadata: true,
		MaxMessageSize:    256 * 1024,
	}
)
