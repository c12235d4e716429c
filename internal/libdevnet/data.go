// Package libdevnet manages the Docker resources behind a native rollup
// devnet: node containers, the devnet network, and their lifecycle.
package libdevnet

import (
	"fmt"
	"os"
	"time"
)

// Docker label keys used by the devnet runner.
const (
	LabelDevnetInstance = "devnet.instance" // unique runner instance ID
	LabelDevnetRole     = "devnet.role"     // node role: l1|l2|sequencer
	LabelDevnetImage    = "devnet.image"    // Docker image name
	LabelDevnetCreated  = "devnet.created"  // RFC3339 timestamp
)

// Node roles.
const (
	RoleL1        = "l1"
	RoleL2        = "l2"
	RoleSequencer = "sequencer"
)

// GenerateInstanceID creates a unique identifier for this devnet run.
func GenerateInstanceID() string {
	return fmt.Sprintf("devnet-%d-%s", os.Getpid(), time.Now().Format("20060102-150405.000"))
}

// NewBaseLabels creates the base labels attached to all devnet containers.
func NewBaseLabels(instanceID string) map[string]string {
	return map[string]string{
		LabelDevnetInstance: instanceID,
		LabelDevnetCreated:  time.Now().Format(time.RFC3339),
	}
}

// SanitizeNameComponent sanitizes a string for use in Docker container names,
// which must match [a-zA-Z0-9][a-zA-Z0-9_.-]*.
func SanitizeNameComponent(s string) string {
	if s == "" {
		return s
	}
	sanitized := ""
	for i, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sanitized += string(r)
		} else if i > 0 && (r == '_' || r == '.' || r == '-') {
			sanitized += string(r)
		} else {
			sanitized += "-"
		}
	}
	if !((sanitized[0] >= 'a' && sanitized[0] <= 'z') ||
		(sanitized[0] >= 'A' && sanitized[0] <= 'Z') ||
		(sanitized[0] >= '0' && sanitized[0] <= '9')) {
		if len(sanitized) > 1 {
			sanitized = sanitized[1:]
		} else {
			sanitized = "container"
		}
	}
	return sanitized
}

// GenerateNodeContainerName generates a devnet-prefixed container name for a
// node of the given role.
func GenerateNodeContainerName(role string) string {
	timestamp := time.Now().Format("20060102-150405")
	return fmt.Sprintf("devnet-%s-%s", SanitizeNameComponent(role), timestamp)
}

// NodeInfo describes a running devnet node container.
type NodeInfo struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Image          string    `json:"image"`
	IP             string    `json:"ip"`
	MAC            string    `json:"mac,omitempty"`
	LogFile        string    `json:"logFile,omitempty"`
	InstantiatedAt time.Time `json:"instantiatedAt"`

	wait func()
}

// Wait blocks until the node's container has exited and its log streams are
// flushed.
func (n *NodeInfo) Wait() {
	if n.wait != nil {
		n.wait()
	}
}
