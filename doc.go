// Package viewbridge connects a host page to the embedded views it mounts.
// Each view gets a message channel, a pair of Watermill topics guarded by
// origin checks, over which the host initializes the view, validates it,
// reads its value and calls arbitrary methods on it. Views answer through a
// dispatcher that resolves methods by namespace, report load failures and
// alerts, and share selections with each other through the page's
// interactivity bus.
//
// A minimal setup creates a View for the embedded side, registers its
// methods and starts it, then creates a Host and mounts the view's Identity;
// see examples/simple for a copy/paste starting point.
//
// # Transports
//
// The channel transport connects hosts and views inside one process and is
// the default. Import transport/transports (or a single transport package)
// to carry channels across processes:
//   - channel: in-memory Go channels
//   - nats: NATS core subjects
//   - kafka: Kafka topics with consumer groups
//   - rabbitmq: non-durable AMQP fanout
//   - http: webhook style POSTs between peers
//   - aws: SNS topics fanned out to SQS queues, LocalStack friendly
//
// # Wire codecs
//
// Messages are JSON by default. Config.WireCodec selects CBOR or protobuf;
// receivers decode by the content type each message carries.
//
// # Observability
//
// Host calls are traced with OpenTelemetry and counted in Prometheus. The
// host can serve /metrics and a read-only inspector API listing mounted
// views, pending calls and interactivity state.
package viewbridge
