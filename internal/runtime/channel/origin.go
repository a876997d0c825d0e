package channel

import "strings"

// AnyOrigin is the wildcard origin.
const AnyOrigin = "*"

// AcceptOrigin reports whether a message sent from origin may be handled by a
// receiver expecting expected. Wildcard and file: origins carry no usable
// identity and are always accepted.
func AcceptOrigin(expected, origin string) bool {
	return origin == expected || origin == AnyOrigin || strings.Contains(origin, "file:")
}

// TargetOrigin picks the target for outbound sends. Exact delivery is not
// possible when the counterpart origin is unknown or a file: document.
func TargetOrigin(expected string) string {
	if expected == "" || strings.Contains(expected, "file:") {
		return AnyOrigin
	}
	return expected
}

// DeliverableTo reports whether a message addressed to target may be read by
// a context whose origin is local.
func DeliverableTo(target, local string) bool {
	return target == "" || target == AnyOrigin || target == local
}
