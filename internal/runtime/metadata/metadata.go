// Package metadata describes the headers every channel message carries next to
// its encoded payload.
package metadata

// Reserved header keys stamped by the channel adapter.
const (
	// KeyOrigin is the origin of the sending context.
	KeyOrigin = "origin"
	// KeyTargetOrigin restricts which receiving context may accept the message.
	KeyTargetOrigin = "target_origin"
	// KeyContentType names the wire codec of the payload.
	KeyContentType = "content_type"
	// KeyNodeID mirrors the message nodeId for routing without decoding.
	KeyNodeID = "node_id"
	// KeyMessageType mirrors the protocol message type.
	KeyMessageType = "message_type"
	// KeyCorrelationID mirrors the request id.
	KeyCorrelationID = "correlation_id"
)

// Metadata represents the headers carried alongside a protocol message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
// Empty values are skipped so optional headers stay absent.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// Origin returns the sender origin header.
func (m Metadata) Origin() string { return m[KeyOrigin] }

// TargetOrigin returns the target origin header.
func (m Metadata) TargetOrigin() string { return m[KeyTargetOrigin] }

// ContentType returns the codec header.
func (m Metadata) ContentType() string { return m[KeyContentType] }

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
