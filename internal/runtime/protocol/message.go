// Package protocol defines the messages exchanged between a host and the views
// it embeds, the identity of a mounted view and the wire codecs that carry
// messages across a channel.
package protocol

import (
	"fmt"
	"strings"
)

// Type discriminates protocol messages.
type Type string

const (
	TypeInit               Type = "init"
	TypeValidate           Type = "validate"
	TypeGetValue           Type = "getValue"
	TypeSetValidationError Type = "setValidationError"
	TypeLoad               Type = "load"
	TypeError              Type = "error"
	TypeAlert              Type = "alert"

	TypeRequest      Type = "request"
	TypeResponse     Type = "response"
	TypeNotification Type = "notification"

	TypePublish             Type = "publish"
	TypeSubscribe           Type = "subscribe"
	TypeUnsubscribe         Type = "unsubscribe"
	TypeInteractivityUpdate Type = "interactivityUpdate"
)

// Alert levels.
const (
	LevelError = "error"
	LevelInfo  = "info"
)

// Message is the tagged union sent over a channel. Which fields are set
// depends on Type.
type Message struct {
	Type      Type   `json:"type"`
	NodeID    string `json:"nodeId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Namespace string `json:"namespace,omitempty"`

	InitMethodName               string `json:"initMethodName,omitempty"`
	ValidateMethodName           string `json:"validateMethodName,omitempty"`
	GetValueMethodName           string `json:"getValueMethodName,omitempty"`
	SetValidationErrorMethodName string `json:"setValidationErrorMethodName,omitempty"`

	// ViewRepresentation and ViewValue are JSON documents carried as strings.
	ViewRepresentation string `json:"viewRepresentation,omitempty"`
	ViewValue          string `json:"viewValue,omitempty"`
	ErrorMessage       string `json:"errorMessage,omitempty"`

	IsValid *bool  `json:"isValid,omitempty"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`

	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	Method string `json:"method,omitempty"`
	Args   []any  `json:"args,omitempty"`
	Event  any    `json:"event,omitempty"`

	InteractivityID string   `json:"interactivityId,omitempty"`
	FilterIDs       []string `json:"filterIds,omitempty"`
	Data            any      `json:"data,omitempty"`
	FilterID        string   `json:"filterId,omitempty"`
}

// Bool returns a pointer to b for the IsValid field.
func Bool(b bool) *bool { return &b }

// Reply starts a message answering m: same type, node and request id.
func (m *Message) Reply() *Message {
	return &Message{Type: m.Type, NodeID: m.NodeID, RequestID: m.RequestID}
}

// ErrorReply builds the error answer to m. It keeps the request's type so the
// host can resolve the pending call, and marks the reply invalid.
func (m *Message) ErrorReply(text string) *Message {
	reply := m.Reply()
	reply.IsValid = Bool(false)
	reply.Error = text
	return reply
}

// Failed reports whether m carries an error text.
func (m *Message) Failed() bool {
	return m != nil && m.Error != ""
}

// Valid reports the isValid flag. Absent counts as valid.
func (m *Message) Valid() bool {
	return m.IsValid == nil || *m.IsValid
}

// IsReply reports whether messages of type t answer a host call.
func IsReply(t Type) bool {
	switch t {
	case TypeValidate, TypeGetValue, TypeSetValidationError, TypeResponse:
		return true
	default:
		return false
	}
}

func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s node=%s", m.Type, m.NodeID)
	if m.RequestID != "" {
		fmt.Fprintf(&b, " request=%s", m.RequestID)
	}
	if m.Method != "" {
		fmt.Fprintf(&b, " method=%s", m.Method)
	}
	if m.InteractivityID != "" {
		fmt.Fprintf(&b, " interactivity=%s", m.InteractivityID)
	}
	if m.Error != "" {
		fmt.Fprintf(&b, " error=%q", m.Error)
	}
	return b.String()
}
