package protocol

import (
	"strings"

	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
)

// Identity names one mounted view instance. Identities are values and never
// change after creation.
type Identity struct {
	NodeID        string `json:"nodeId"`
	ProjectID     string `json:"projectId"`
	WorkflowID    string `json:"workflowId"`
	ExtensionType string `json:"extensionType"`
}

// Key is the registry key: projectId::workflowId::nodeId::extensionType.
func (i Identity) Key() string {
	return strings.Join([]string{i.ProjectID, i.WorkflowID, i.NodeID, i.ExtensionType}, "::")
}

func (i Identity) String() string { return i.Key() }

// Validate requires a node id; the remaining parts may be empty.
func (i Identity) Validate() error {
	if i.NodeID == "" {
		return errspkg.ErrNodeIDRequired
	}
	return nil
}
