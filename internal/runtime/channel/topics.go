package channel

import (
	"strings"

	"github.com/drblury/viewbridge/internal/runtime/protocol"
)

// ChannelID derives the channel id of a mounted view from its identity.
// Letters and digits are kept; every other byte of a part, '_' and '-'
// included, is written as '_' plus two hex digits. Parts are joined with '-',
// which never occurs inside an escaped part, so distinct identities give
// distinct ids that are valid topic segments on every broker.
func ChannelID(identity protocol.Identity) string {
	parts := []string{identity.ProjectID, identity.WorkflowID, identity.NodeID, identity.ExtensionType}
	for i, p := range parts {
		parts[i] = escapePart(p)
	}
	return strings.Join(parts, "-")
}

func escapePart(part string) string {
	const hexDigits = "0123456789abcdef"
	var b strings.Builder
	b.Grow(len(part))
	for i := 0; i < len(part); i++ {
		c := part[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}

// ViewTopic carries host to view traffic for one channel.
func ViewTopic(prefix, channelID string) string {
	return prefix + "." + channelID + ".view"
}

// HostTopic carries view to host traffic for one channel.
func HostTopic(prefix, channelID string) string {
	return prefix + "." + channelID + ".host"
}

// HostConfig returns the adapter configuration of the host end of a channel.
func HostConfig(prefix, channelID, hostOrigin, viewOrigin string) AdapterConfig {
	return AdapterConfig{
		InboundTopic:   HostTopic(prefix, channelID),
		OutboundTopic:  ViewTopic(prefix, channelID),
		LocalOrigin:    hostOrigin,
		ExpectedOrigin: viewOrigin,
	}
}

// ViewConfig mirrors HostConfig for the view end.
func ViewConfig(prefix, channelID, hostOrigin, viewOrigin string) AdapterConfig {
	return AdapterConfig{
		InboundTopic:   ViewTopic(prefix, channelID),
		OutboundTopic:  HostTopic(prefix, channelID),
		LocalOrigin:    viewOrigin,
		ExpectedOrigin: hostOrigin,
	}
}
